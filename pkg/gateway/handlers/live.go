package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brightfold/voicegate/pkg/gateway/capture"
	"github.com/brightfold/voicegate/pkg/gateway/config"
	"github.com/brightfold/voicegate/pkg/gateway/lifecycle"
	"github.com/brightfold/voicegate/pkg/gateway/principal"
	"github.com/brightfold/voicegate/pkg/gateway/ratelimit"
	"github.com/brightfold/voicegate/pkg/gateway/store"
)

// LiveStore is the storage surface the live relay needs.
type LiveStore interface {
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
}

// LiveHandler handles GET /v1/live websocket connections. Clients stream
// speech events over the socket; each frame doubles as a heartbeat for the
// janitor's liveness sweeps.
type LiveHandler struct {
	Config    config.Config
	Store     LiveStore
	Router    *capture.Router
	Logger    *slog.Logger
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
}

type wsError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close"`
}

type wsAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Accepted  bool   `json:"accepted,omitempty"`
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		methodNotAllowed(w, reqID)
		return
	}
	if h.Lifecycle.IsDraining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	sess, err := h.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		http.Error(w, "session lookup failed", http.StatusInternalServerError)
		return
	}
	if sess.Status != store.StatusActive {
		http.Error(w, "session is not active", http.StatusConflict)
		return
	}

	resolved := principal.Resolve(r, h.Config.TrustProxyHeaders)
	var permit *ratelimit.Permit
	if h.Limiter != nil {
		dec := h.Limiter.AcquireLive(resolved.Identity, time.Now())
		if !dec.Allowed {
			http.Error(w, "too many live connections", http.StatusTooManyRequests)
			return
		}
		permit = dec.Permit
		defer permit.Release()
	}

	upgrader := websocket.Upgrader{
		// Origin is checked above against the configured allowlist.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxMessageBytes)
	}

	_ = conn.WriteJSON(wsAck{Type: "connected", SessionID: sessionID})

	h.Logger.Info("live relay connected",
		"request_id", reqID, "session_id", sessionID)
	h.readLoop(r.Context(), conn, sessionID)
	h.Logger.Info("live relay disconnected",
		"request_id", reqID, "session_id", sessionID)
}

func (h LiveHandler) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string) {
	readTimeout := h.Config.LiveReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}

	lastTouch := time.Time{}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			h.writeWSError(conn, "bad_frame", "frames must be JSON text", false)
			continue
		}

		ev, err := capture.DecodeEvent(frame)
		if err != nil {
			h.writeWSError(conn, "bad_event", err.Error(), false)
			continue
		}
		if ev.SessionID != sessionID {
			h.writeWSError(conn, "session_mismatch", "event session_id does not match connection", false)
			continue
		}

		accepted := h.Router.Handle(ev)
		_ = conn.WriteJSON(wsAck{Type: "ack", SessionID: sessionID, Accepted: accepted})

		// Each frame is a liveness signal; throttle writes to one per second
		// so a chatty client does not hammer the sessions table.
		now := time.Now().UTC()
		if now.Sub(lastTouch) >= time.Second {
			if err := h.Store.TouchSession(ctx, sessionID, now); err != nil {
				h.Logger.Error("session touch failed",
					"session_id", sessionID, "err", err)
			}
			lastTouch = now
		}
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string, close bool) {
	_ = conn.WriteJSON(wsError{Type: "error", Code: code, Message: message, Close: close})
	if close {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
			time.Now().Add(2*time.Second))
	}
}
