package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brightfold/voicegate/pkg/gateway/capture"
	"github.com/brightfold/voicegate/pkg/gateway/config"
	"github.com/brightfold/voicegate/pkg/gateway/convlog"
	"github.com/brightfold/voicegate/pkg/gateway/store"
)

type collectSink struct {
	turns []store.Turn
}

func (c *collectSink) InsertTurns(ctx context.Context, turns []store.Turn) error {
	c.turns = append(c.turns, turns...)
	return nil
}

func testConversationHandler(st *fakeStore, sink *collectSink) (ConversationHandler, *convlog.Logger) {
	turns := convlog.New(sink, convlog.Config{MaxBatchSize: 50, FlushInterval: time.Hour}, testLogger(), nil)
	router := capture.NewRouter(turns, testLogger(), nil)
	return ConversationHandler{
		Config: config.Config{MaxBodyBytes: 1 << 20},
		Store:  st,
		Router: router,
		Turns:  turns,
		Logger: testLogger(),
	}, turns
}

func TestConversationHandler_IngestAcceptsFinalTranscripts(t *testing.T) {
	st := newFakeStore()
	st.sessions["vs_a"] = &store.Session{SessionID: "vs_a", Status: store.StatusActive}
	sink := &collectSink{}
	h, turns := testConversationHandler(st, sink)

	body := `{"session_id":"vs_a","events":[
		{"type":"speech_start","session_id":"vs_a"},
		{"type":"transcript","session_id":"vs_a","speaker":"user","text":"how much does it cost?","final":true,"confidence":0.94},
		{"type":"transcript","session_id":"vs_a","speaker":"user","text":"how much","final":false,"confidence":0.5},
		{"type":"bogus_event","session_id":"vs_a"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/conversation/log", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	var resp logResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// Only the final transcript persists a turn; the bogus event is dropped,
	// the speech_start and partial transcript are handled but count neither way.
	if resp.Accepted != 1 || resp.Dropped != 1 {
		t.Fatalf("resp=%+v, want accepted=1 dropped=1", resp)
	}

	if err := turns.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(sink.turns) != 1 {
		t.Fatalf("persisted turns=%d, want 1", len(sink.turns))
	}
	turn := sink.turns[0]
	if turn.TurnNumber != 1 || turn.Speaker != "user" {
		t.Fatalf("turn=%+v", turn)
	}
	if turn.Topic != "pricing" {
		t.Fatalf("topic=%q, want pricing", turn.Topic)
	}
	if !turn.NeedsFollowUp {
		t.Fatalf("question not flagged for follow-up")
	}

	if len(st.touched) != 1 || st.touched[0] != "vs_a" {
		t.Fatalf("liveness touch=%v", st.touched)
	}
}

func TestConversationHandler_IngestRejectsEndedSession(t *testing.T) {
	st := newFakeStore()
	st.sessions["vs_a"] = &store.Session{SessionID: "vs_a", Status: store.StatusEnded}
	h, _ := testConversationHandler(st, &collectSink{})

	body := `{"session_id":"vs_a","events":[{"type":"speech_start","session_id":"vs_a"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/conversation/log", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestConversationHandler_IngestUnknownSession404(t *testing.T) {
	h, _ := testConversationHandler(newFakeStore(), &collectSink{})

	body := `{"session_id":"vs_nope","events":[{"type":"speech_start","session_id":"vs_nope"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/conversation/log", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestConversationHandler_StatsFlushesThenReads(t *testing.T) {
	st := newFakeStore()
	first := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	last := first.Add(40 * time.Second)
	st.sessions["vs_a"] = &store.Session{SessionID: "vs_a", Status: store.StatusActive}
	st.stats["vs_a"] = &store.SessionStats{
		SessionID:      "vs_a",
		TurnCount:      6,
		UserTurns:      3,
		AssistantTurns: 3,
		FirstTurnAt:    &first,
		LastTurnAt:     &last,
	}
	h, _ := testConversationHandler(st, &collectSink{})

	req := httptest.NewRequest(http.MethodGet, "/v1/conversation/log?session_id=vs_a", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	var resp statsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TurnCount != 6 || resp.UserTurns != 3 || resp.AssistantTurns != 3 {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.PendingTurns != 0 {
		t.Fatalf("pending=%d after flush", resp.PendingTurns)
	}
}

func TestConversationHandler_StatsRequiresSessionID(t *testing.T) {
	h, _ := testConversationHandler(newFakeStore(), &collectSink{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/conversation/log", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}
