package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brightfold/voicegate/pkg/gateway/admission"
	"github.com/brightfold/voicegate/pkg/gateway/apierror"
	"github.com/brightfold/voicegate/pkg/gateway/broker"
	"github.com/brightfold/voicegate/pkg/gateway/capture"
	"github.com/brightfold/voicegate/pkg/gateway/config"
	"github.com/brightfold/voicegate/pkg/gateway/convlog"
	"github.com/brightfold/voicegate/pkg/gateway/cost"
	"github.com/brightfold/voicegate/pkg/gateway/lifecycle"
	"github.com/brightfold/voicegate/pkg/gateway/principal"
	"github.com/brightfold/voicegate/pkg/gateway/store"
)

// SessionStore is the storage surface the session handlers need.
type SessionStore interface {
	CreateSession(ctx context.Context, s *store.Session) error
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	CloseSession(ctx context.Context, sessionID, reason string, at time.Time, durationSeconds int) (bool, error)
	ReleaseUsageLock(ctx context.Context, identity string) error
	UpsertCost(ctx context.Context, c *store.CostRow) error
}

// Admitter is the usage limiter surface.
type Admitter interface {
	CheckAndAdmit(ctx context.Context, identity string) (admission.Decision, error)
	EndSession(ctx context.Context, identity string, durationSeconds int) error
}

// CredentialIssuer is the broker surface.
type CredentialIssuer interface {
	CreateSession(ctx context.Context, tier broker.ModelTier, voice broker.VoiceProfile) (*broker.SessionGrant, error)
}

// SessionMetrics is implemented by the metrics registry; nil disables
// recording.
type SessionMetrics interface {
	RecordSessionStart()
	RecordSessionEnd(endReason string, duration time.Duration)
	RecordAdmissionDenial(reason string)
	RecordCost(tier string, costUSD float64)
}

// SessionHandler handles POST /v1/session.
type SessionHandler struct {
	Config    config.Config
	Store     SessionStore
	Admission Admitter
	Broker    CredentialIssuer
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Metrics   SessionMetrics
}

type sessionRequest struct {
	ModelTier    string `json:"model_tier,omitempty"`
	VoiceProfile string `json:"voice_profile,omitempty"`
}

type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	Credential       string    `json:"credential"`
	ExpiresAt        time.Time `json:"expires_at"`
	Model            string    `json:"model"`
	Voice            string    `json:"voice"`
	RemainingCredits int       `json:"remaining_credits"`
}

func (h SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodPost {
		methodNotAllowed(w, reqID)
		return
	}
	if h.Lifecycle.IsDraining() {
		writeError(w, reqID, apierror.NewProviderUnavailable("gateway is draining"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, reqID, apierror.NewInvalidRequest("failed to read request body"))
		return
	}

	var req sessionRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, reqID, apierror.NewInvalidRequest("invalid request json"))
			return
		}
	}

	tier, err := broker.ParseModelTier(req.ModelTier)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	voice, err := broker.ParseVoiceProfile(req.VoiceProfile)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	resolved := principal.Resolve(r, h.Config.TrustProxyHeaders)

	decision, admitErr := h.Admission.CheckAndAdmit(r.Context(), resolved.Identity)
	if !decision.Allowed {
		if h.Metrics != nil {
			h.Metrics.RecordAdmissionDenial(decision.Reason)
		}
		if admitErr != nil {
			h.Logger.Error("admission storage failure",
				"request_id", reqID, "err", admitErr)
		}
		writeError(w, reqID, quotaError(decision))
		return
	}

	grant, err := h.Broker.CreateSession(r.Context(), tier, voice)
	if err != nil {
		// The lock was taken during admission; give it back so a denied
		// identity is not locked out by a provider outage.
		if relErr := h.Admission.EndSession(r.Context(), resolved.Identity, 0); relErr != nil {
			h.Logger.Error("lock release after broker failure",
				"request_id", reqID, "err", relErr)
		}
		writeError(w, reqID, err)
		return
	}

	now := time.Now().UTC()
	sess := &store.Session{
		SessionID:      grant.SessionID,
		Identity:       resolved.Identity,
		Status:         store.StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := h.Store.CreateSession(r.Context(), sess); err != nil {
		if relErr := h.Admission.EndSession(r.Context(), resolved.Identity, 0); relErr != nil {
			h.Logger.Error("lock release after session insert failure",
				"request_id", reqID, "err", relErr)
		}
		writeError(w, reqID, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordSessionStart()
	}
	h.Logger.Info("session started",
		"request_id", reqID,
		"session_id", grant.SessionID,
		"model", grant.Model,
		"remaining_credits", decision.RemainingCredits,
	)

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID:        grant.SessionID,
		Credential:       grant.Credential,
		ExpiresAt:        grant.ExpiresAt,
		Model:            grant.Model,
		Voice:            grant.Voice,
		RemainingCredits: decision.RemainingCredits,
	})
}

func quotaError(d admission.Decision) *apierror.Error {
	switch d.Reason {
	case admission.ReasonStorageError:
		return apierror.NewAPIError("session admission unavailable")
	case admission.ReasonBlocked, admission.ReasonLifetimeLimit:
		return apierror.NewQuotaDenied("voice session limit reached", d.Reason, 0, "")
	default:
		resetAt := ""
		if d.ResetAt != nil {
			resetAt = d.ResetAt.UTC().Format(time.RFC3339)
		}
		return apierror.NewQuotaDenied("daily voice session limit reached",
			d.Reason, d.RemainingCredits, resetAt)
	}
}

// SessionEndHandler handles POST /v1/session/end.
type SessionEndHandler struct {
	Config  config.Config
	Store   SessionStore
	Admit   Admitter
	Logger  *slog.Logger
	Metrics SessionMetrics

	Turns   *convlog.Logger
	Capture *capture.Router

	Pricing  cost.Table
	Reporter *cost.StripeReporter
}

type sessionEndRequest struct {
	SessionID       string `json:"session_id"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	ModelTier       string `json:"model_tier,omitempty"`
	ErrorOccurred   bool   `json:"error_occurred,omitempty"`

	Usage struct {
		TextInTokens    int64   `json:"text_in_tokens,omitempty"`
		TextOutTokens   int64   `json:"text_out_tokens,omitempty"`
		AudioInSeconds  float64 `json:"audio_in_seconds,omitempty"`
		AudioOutSeconds float64 `json:"audio_out_seconds,omitempty"`
	} `json:"usage,omitempty"`
}

type sessionEndResponse struct {
	SessionID       string  `json:"session_id"`
	Status          string  `json:"status"`
	DurationSeconds int     `json:"duration_seconds"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
}

func (h SessionEndHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodPost {
		methodNotAllowed(w, reqID)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	var req sessionEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, reqID, apierror.NewInvalidRequest("invalid request json"))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, reqID, apierror.NewInvalidRequestWithParam("session_id is required", "session_id"))
		return
	}
	if req.DurationSeconds < 0 {
		writeError(w, reqID, apierror.NewInvalidRequestWithParam("duration_seconds must be >= 0", "duration_seconds"))
		return
	}

	sess, err := h.Store.GetSession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, reqID, apierror.NewNotFound("unknown session "+strconv.Quote(req.SessionID)))
			return
		}
		writeError(w, reqID, err)
		return
	}

	now := time.Now().UTC()
	duration := req.DurationSeconds
	if duration == 0 {
		duration = int(now.Sub(sess.StartedAt).Seconds())
	}

	closed, err := h.Store.CloseSession(r.Context(), sess.SessionID, store.EndReasonClient, now, duration)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	if !closed {
		// Already ended (by the client or the janitor). The lock release is
		// repeat-safe; the duration was already accounted.
		if err := h.Store.ReleaseUsageLock(r.Context(), sess.Identity); err != nil {
			h.Logger.Error("repeat lock release failed",
				"request_id", reqID, "session_id", sess.SessionID, "err", err)
		}
		writeJSON(w, http.StatusOK, sessionEndResponse{
			SessionID:       sess.SessionID,
			Status:          store.StatusEnded,
			DurationSeconds: sess.DurationSeconds,
		})
		return
	}

	if err := h.Admit.EndSession(r.Context(), sess.Identity, duration); err != nil {
		h.Logger.Error("usage settlement failed",
			"request_id", reqID, "session_id", sess.SessionID, "err", err)
	}

	rec := h.finalizeCost(r.Context(), reqID, sess.SessionID, duration, req)

	if h.Turns != nil {
		if err := h.Turns.FinalizeSession(r.Context()); err != nil {
			h.Logger.Error("final turn flush failed",
				"request_id", reqID, "session_id", sess.SessionID, "err", err)
		}
	}
	if h.Capture != nil {
		h.Capture.Release(sess.SessionID)
	}

	if h.Metrics != nil {
		h.Metrics.RecordSessionEnd(store.EndReasonClient, time.Duration(duration)*time.Second)
	}
	h.Logger.Info("session ended",
		"request_id", reqID,
		"session_id", sess.SessionID,
		"duration_seconds", duration,
		"total_cost_usd", rec.TotalCost,
	)

	writeJSON(w, http.StatusOK, sessionEndResponse{
		SessionID:       sess.SessionID,
		Status:          store.StatusEnded,
		DurationSeconds: duration,
		TotalCostUSD:    rec.TotalCost,
	})
}

// finalizeCost computes and persists the session's cost record. Failures are
// logged but never block the session-end response: the record can be
// recomputed from the raw counters at any time.
func (h SessionEndHandler) finalizeCost(ctx context.Context, reqID, sessionID string, duration int, req sessionEndRequest) cost.Record {
	tier := req.ModelTier
	if tier == "" {
		tier = cost.DefaultTier
	}

	rec := cost.Compute(h.Pricing.RatesFor(tier), cost.Usage{
		DurationSeconds: duration,
		TextInTokens:    req.Usage.TextInTokens,
		TextOutTokens:   req.Usage.TextOutTokens,
		AudioInSeconds:  req.Usage.AudioInSeconds,
		AudioOutSeconds: req.Usage.AudioOutSeconds,
	})
	rec.SessionID = sessionID
	rec.ErrorOccurred = req.ErrorOccurred
	rec.CreatedAt = time.Now().UTC()

	if err := h.Store.UpsertCost(ctx, cost.ToRow(rec)); err != nil {
		h.Logger.Error("cost record upsert failed",
			"request_id", reqID, "session_id", sessionID, "err", err)
	}
	if h.Metrics != nil {
		h.Metrics.RecordCost(tier, rec.TotalCost)
	}
	h.Reporter.Report(ctx, rec)
	return rec
}
