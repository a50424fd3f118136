package capture

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brightfold/voicegate/pkg/gateway/store"
)

// Sink receives accepted turns. Satisfied by the conversation logger.
type Sink interface {
	LogTurn(turn store.Turn) bool
}

// Metrics receives router counters; nil-safe.
type Metrics interface {
	RecordTurnAccepted(speaker string)
	RecordEventDropped(reason string)
}

// Router converts the per-session stream of speech events into ordered
// conversation turns. Turn numbers come from a per-session monotonic counter
// incremented at the moment a transcript is accepted, never from event
// timestamps, so they stay gap-free even when the transport reorders
// delivery.
type Router struct {
	sink    Sink
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time

	mu       sync.Mutex
	counters map[string]int
	speech   map[string]time.Time // last speech_start per session, for latency metadata
	latency  map[string]time.Duration
}

func NewRouter(sink Sink, logger *slog.Logger, metrics Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		sink:     sink,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		counters: make(map[string]int),
		speech:   make(map[string]time.Time),
		latency:  make(map[string]time.Duration),
	}
}

// Handle routes one event. Only final transcripts with non-empty text
// produce a turn; start/end events feed latency metadata only. Malformed
// events are dropped and counted, never fatal.
func (r *Router) Handle(ev Event) (accepted bool) {
	if err := ValidateEvent(&ev); err != nil {
		r.drop("malformed", ev.SessionID, err)
		return false
	}

	switch ev.Type {
	case EventSpeechStart:
		r.mu.Lock()
		r.speech[ev.SessionID] = r.now()
		r.mu.Unlock()
		return false
	case EventResponseStart:
		r.mu.Lock()
		if started, ok := r.speech[ev.SessionID]; ok {
			r.latency[ev.SessionID] = r.now().Sub(started)
		}
		r.mu.Unlock()
		return false
	case EventSpeechEnd, EventResponseEnd:
		return false
	}

	// Transcript.
	if !ev.Final {
		return false
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		r.drop("empty_transcript", ev.SessionID, nil)
		return false
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = r.now().UTC()
	}

	ann := Annotate(text)
	turn := store.Turn{
		SessionID:     ev.SessionID,
		TurnNumber:    r.nextTurn(ev.SessionID),
		Speaker:       ev.Speaker,
		Text:          text,
		Confidence:    ev.Confidence,
		Timestamp:     ts,
		Topic:         ann.Topic,
		NeedsFollowUp: ann.NeedsFollowUp,
		Engagement:    ann.Engagement,
	}

	if !r.sink.LogTurn(turn) {
		r.drop("sink_rejected", ev.SessionID, nil)
		return false
	}
	if r.metrics != nil {
		r.metrics.RecordTurnAccepted(ev.Speaker)
	}
	return true
}

// ResponseLatency returns the last measured speech-to-response latency for a
// session, if any.
func (r *Router) ResponseLatency(sessionID string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.latency[sessionID]
	return d, ok
}

// Release clears the session's counters so long-running processes do not
// accumulate state for finished sessions.
func (r *Router) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counters, sessionID)
	delete(r.speech, sessionID)
	delete(r.latency, sessionID)
}

func (r *Router) nextTurn(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[sessionID]++
	return r.counters[sessionID]
}

func (r *Router) drop(reason, sessionID string, err error) {
	if r.metrics != nil {
		r.metrics.RecordEventDropped(reason)
	}
	if err != nil {
		r.logger.Warn("dropped speech event",
			"reason", reason, "session_id", sessionID, "err", err)
	}
}
