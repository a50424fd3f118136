package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/brightfold/voicegate/pkg/gateway/store"
)

// Store is the slice of the storage layer the janitor needs.
type Store interface {
	ListStaleActive(ctx context.Context, cutoff time.Time) ([]store.Session, error)
	ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]store.Session, error)
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	CloseSession(ctx context.Context, sessionID, reason string, at time.Time, durationSeconds int) (bool, error)
	ReleaseUsageLock(ctx context.Context, identity string) error
}

type Config struct {
	// InactivityTimeout force-closes sessions with no activity signal.
	InactivityTimeout time.Duration
	// HeartbeatTimeout is the coarser horizon for heartbeat-tracked
	// kiosk-style clients.
	HeartbeatTimeout time.Duration
	Interval         time.Duration
}

// Metrics receives reclamation counts. Satisfied by the gateway metrics
// registry; nil-safe.
type Metrics interface {
	RecordReclaimed(sweep string)
}

// Janitor periodically force-closes sessions whose liveness signal has
// expired, releasing the admission lock they held. Sweeps operate on a
// snapshot query and are idempotent: an already-ended session is a no-op.
type Janitor struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
}

func New(st Store, cfg Config, logger *slog.Logger, metrics Metrics) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 30 * time.Minute
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 15 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Janitor{
		store:   st,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Run sweeps on a fixed period until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs both sweeps. A failure closing one session never aborts
// the rest of the batch.
func (j *Janitor) SweepOnce(ctx context.Context) (reclaimed int) {
	now := j.now().UTC()

	reclaimed += j.sweep(ctx, "timeout", store.EndReasonInactivityTimeout,
		func() ([]store.Session, error) {
			return j.store.ListStaleActive(ctx, now.Add(-j.cfg.InactivityTimeout))
		})
	reclaimed += j.sweep(ctx, "heartbeat", store.EndReasonHeartbeatLost,
		func() ([]store.Session, error) {
			return j.store.ListStaleHeartbeats(ctx, now.Add(-j.cfg.HeartbeatTimeout))
		})
	return reclaimed
}

func (j *Janitor) sweep(ctx context.Context, name, reason string, list func() ([]store.Session, error)) (reclaimed int) {
	stale, err := list()
	if err != nil {
		j.logger.Error("janitor sweep query failed", "sweep", name, "err", err)
		return 0
	}

	for _, s := range stale {
		if err := j.close(ctx, s.SessionID, s.Identity, reason, s.StartedAt); err != nil {
			j.logger.Error("janitor failed to close session",
				"sweep", name, "session_id", s.SessionID, "err", err)
			continue
		}
		reclaimed++
		if j.metrics != nil {
			j.metrics.RecordReclaimed(name)
		}
	}

	if reclaimed > 0 {
		j.logger.Info("janitor reclaimed sessions", "sweep", name, "count", reclaimed)
	}
	return reclaimed
}

// ForceClose is the operator-triggered entry point. It shares the single
// close routine with both sweeps.
func (j *Janitor) ForceClose(ctx context.Context, sessionID, reason string) error {
	s, err := j.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return j.close(ctx, s.SessionID, s.Identity, reason, s.StartedAt)
}

// close is the one code path for "how a session ends" on the reclamation
// side. Closing an already-ended session is a no-op, and the admission lock
// release is idempotent, so the lock can never be released twice with
// effect.
func (j *Janitor) close(ctx context.Context, sessionID, identity, reason string, startedAt time.Time) error {
	now := j.now().UTC()
	duration := int(now.Sub(startedAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	closed, err := j.store.CloseSession(ctx, sessionID, reason, now, duration)
	if err != nil {
		return err
	}
	if !closed {
		return nil
	}
	return j.store.ReleaseUsageLock(ctx, identity)
}
