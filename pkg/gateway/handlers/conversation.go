package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brightfold/voicegate/pkg/gateway/apierror"
	"github.com/brightfold/voicegate/pkg/gateway/capture"
	"github.com/brightfold/voicegate/pkg/gateway/config"
	"github.com/brightfold/voicegate/pkg/gateway/convlog"
	"github.com/brightfold/voicegate/pkg/gateway/store"
)

// ConversationStore is the storage surface for conversation queries.
type ConversationStore interface {
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	SessionStats(ctx context.Context, sessionID string) (*store.SessionStats, error)
}

// ConversationHandler handles POST and GET /v1/conversation/log. POST
// ingests client-reported speech events; GET returns per-session turn stats.
type ConversationHandler struct {
	Config config.Config
	Store  ConversationStore
	Router *capture.Router
	Turns  *convlog.Logger
	Logger *slog.Logger
}

type logRequest struct {
	SessionID string            `json:"session_id"`
	Events    []json.RawMessage `json:"events"`
}

type logResponse struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

func (h ConversationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.ingest(w, r)
	case http.MethodGet:
		h.stats(w, r)
	default:
		methodNotAllowed(w, requestIDFromContext(r.Context()))
	}
}

func (h ConversationHandler) ingest(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	var req logRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, reqID, apierror.NewInvalidRequest("invalid request json"))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, reqID, apierror.NewInvalidRequestWithParam("session_id is required", "session_id"))
		return
	}
	if len(req.Events) == 0 {
		writeError(w, reqID, apierror.NewInvalidRequestWithParam("events must not be empty", "events"))
		return
	}

	sess, err := h.Store.GetSession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, reqID, apierror.NewNotFound("unknown session"))
			return
		}
		writeError(w, reqID, err)
		return
	}
	if sess.Status != store.StatusActive {
		writeError(w, reqID, apierror.NewInvalidRequestWithParam("session is not active", "session_id"))
		return
	}

	accepted, dropped := 0, 0
	for _, raw := range req.Events {
		ev, err := capture.DecodeEvent(raw)
		if err != nil {
			// Routing the zero event through Handle keeps the drop counter
			// in one place.
			h.Router.Handle(capture.Event{SessionID: req.SessionID})
			dropped++
			continue
		}
		if ev.SessionID == "" {
			ev.SessionID = req.SessionID
		}
		if ev.SessionID != req.SessionID {
			dropped++
			continue
		}
		if h.Router.Handle(ev) {
			accepted++
		}
	}

	// Any reported event is a liveness signal for the janitor's sweeps.
	if err := h.Store.TouchSession(r.Context(), req.SessionID, time.Now().UTC()); err != nil {
		h.Logger.Error("session touch failed",
			"request_id", reqID, "session_id", req.SessionID, "err", err)
	}

	writeJSON(w, http.StatusOK, logResponse{
		Accepted: accepted,
		Dropped:  dropped,
	})
}

type statsResponse struct {
	SessionID      string     `json:"session_id"`
	Status         string     `json:"status"`
	TurnCount      int        `json:"turn_count"`
	UserTurns      int        `json:"user_turns"`
	AssistantTurns int        `json:"assistant_turns"`
	FirstTurnAt    *time.Time `json:"first_turn_at,omitempty"`
	LastTurnAt     *time.Time `json:"last_turn_at,omitempty"`
	PendingTurns   int        `json:"pending_turns"`
}

func (h ConversationHandler) stats(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		writeError(w, reqID, apierror.NewInvalidRequestWithParam("session_id is required", "session_id"))
		return
	}

	sess, err := h.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, reqID, apierror.NewNotFound("unknown session"))
			return
		}
		writeError(w, reqID, err)
		return
	}

	// Push pending turns down before reading so the stats reflect what the
	// client just reported.
	if h.Turns != nil {
		if err := h.Turns.Flush(r.Context()); err != nil {
			h.Logger.Warn("pre-stats flush failed",
				"request_id", reqID, "session_id", sessionID, "err", err)
		}
	}

	stats, err := h.Store.SessionStats(r.Context(), sessionID)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	pending := 0
	if h.Turns != nil {
		pending = h.Turns.Pending()
	}

	writeJSON(w, http.StatusOK, statsResponse{
		SessionID:      sessionID,
		Status:         sess.Status,
		TurnCount:      stats.TurnCount,
		UserTurns:      stats.UserTurns,
		AssistantTurns: stats.AssistantTurns,
		FirstTurnAt:    stats.FirstTurnAt,
		LastTurnAt:     stats.LastTurnAt,
		PendingTurns:   pending,
	})
}
