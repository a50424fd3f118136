package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brightfold/voicegate/pkg/gateway/store"
)

// Store is the slice of the storage layer the limiter needs. The per-identity
// row update is the serialization point; the limiter holds no locks of its
// own.
type Store interface {
	GetUsage(ctx context.Context, identity string) (*store.UsageRecord, error)
	CreateUsage(ctx context.Context, rec *store.UsageRecord) error
	UpdateUsage(ctx context.Context, rec *store.UsageRecord) error
	ReleaseUsageLock(ctx context.Context, identity string) error
}

type Config struct {
	DailyCreditLimit    int
	LifetimeCreditLimit int
	CreditUnitSeconds   int
	// Grace is the in-line stale-lock window. A lock older than this is
	// treated as orphaned by a dead client and cleared here rather than
	// waiting for the janitor's longer-horizon sweep.
	Grace time.Duration
	// FailOpen admits on storage errors instead of denying. Off by default.
	FailOpen bool
}

// Decision reasons surfaced to clients.
const (
	ReasonBlocked       = "blocked"
	ReasonDailyLimit    = "daily_limit_reached"
	ReasonLifetimeLimit = "lifetime_limit_reached"
	ReasonStorageError  = "storage_error"
)

type Decision struct {
	Allowed          bool
	RemainingCredits int
	Reason           string
	// ResetAt is the next daily-quota reset boundary, set on daily denials.
	ResetAt *time.Time
}

// Limiter is the per-identity admission gate. One instance per process.
type Limiter struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(st Store, cfg Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CreditUnitSeconds <= 0 {
		cfg.CreditUnitSeconds = 60
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Second
	}
	return &Limiter{
		store:  st,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// CheckAndAdmit decides whether a new session may start for the identity.
// Any storage error denies (fail closed) unless FailOpen is configured; the
// error is returned alongside the denial for logging.
func (l *Limiter) CheckAndAdmit(ctx context.Context, identity string) (Decision, error) {
	now := l.now().UTC()

	rec, err := l.store.GetUsage(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return l.admitNew(ctx, identity, now)
	}
	if err != nil {
		return l.failClosed(identity, "get usage", err)
	}

	if rec.Blocked {
		return Decision{Allowed: false, Reason: ReasonBlocked}, nil
	}

	if rec.ActiveLock {
		elapsed := now.Sub(rec.LastActivityAt)
		if elapsed > l.cfg.Grace {
			// Orphaned lock: the browser tab closed without signaling end.
			l.logger.Info("clearing orphaned admission lock",
				"identity", identity, "idle_seconds", int(elapsed.Seconds()))
		} else {
			// Lock is fresh but we admit anyway, releasing the stale one
			// first: availability over strict single-session enforcement at
			// sub-grace granularity.
			l.logger.Warn("releasing fresh admission lock for new session",
				"identity", identity, "idle_seconds", int(elapsed.Seconds()))
		}
		rec.ActiveLock = false
	}

	l.rollDaily(rec, now)

	dailyUsed := l.creditsUsed(rec.DailySeconds)
	lifetimeUsed := l.creditsUsed(rec.LifetimeSeconds)

	if lifetimeUsed >= l.cfg.LifetimeCreditLimit {
		rec.Blocked = true
		if err := l.store.UpdateUsage(ctx, rec); err != nil {
			return l.failClosed(identity, "persist block", err)
		}
		return Decision{Allowed: false, Reason: ReasonLifetimeLimit}, nil
	}

	if dailyUsed >= l.cfg.DailyCreditLimit {
		reset := nextMidnight(now)
		return Decision{
			Allowed: false,
			Reason:  ReasonDailyLimit,
			ResetAt: &reset,
		}, nil
	}

	rec.ActiveLock = true
	rec.SessionCount++
	rec.LastActivityAt = now
	if err := l.store.UpdateUsage(ctx, rec); err != nil {
		return l.failClosed(identity, "persist admission", err)
	}

	return Decision{
		Allowed:          true,
		RemainingCredits: l.cfg.DailyCreditLimit - dailyUsed,
	}, nil
}

// admitNew creates the identity's first record with a one-credit debit.
func (l *Limiter) admitNew(ctx context.Context, identity string, now time.Time) (Decision, error) {
	rec := &store.UsageRecord{
		Identity:        identity,
		DailySeconds:    l.cfg.CreditUnitSeconds,
		LifetimeSeconds: l.cfg.CreditUnitSeconds,
		DailyResetDate:  dateOf(now),
		SessionCount:    1,
		ActiveLock:      true,
		LastActivityAt:  now,
	}
	if err := l.store.CreateUsage(ctx, rec); err != nil {
		return l.failClosed(identity, "create usage", err)
	}
	return Decision{
		Allowed:          true,
		RemainingCredits: l.cfg.DailyCreditLimit - l.creditsUsed(rec.DailySeconds),
	}, nil
}

// EndSession adds the reported duration to both counters and releases the
// lock. The lock release is unconditional and repeat-safe; callers are
// responsible for reporting each session's duration once.
func (l *Limiter) EndSession(ctx context.Context, identity string, durationSeconds int) error {
	now := l.now().UTC()

	rec, err := l.store.GetUsage(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		// Still try the idempotent lock release so a transient read failure
		// cannot leave the identity locked out.
		if relErr := l.store.ReleaseUsageLock(ctx, identity); relErr != nil {
			return fmt.Errorf("end session %s: %w", identity, errors.Join(err, relErr))
		}
		return fmt.Errorf("end session %s: %w", identity, err)
	}

	l.rollDaily(rec, now)
	if durationSeconds > 0 {
		rec.DailySeconds += durationSeconds
		rec.LifetimeSeconds += durationSeconds
	}
	rec.ActiveLock = false
	rec.LastActivityAt = now

	if err := l.store.UpdateUsage(ctx, rec); err != nil {
		return fmt.Errorf("end session %s: %w", identity, err)
	}
	return nil
}

func (l *Limiter) failClosed(identity, op string, err error) (Decision, error) {
	l.logger.Error("usage store failure during admission",
		"identity", identity, "op", op, "err", err)
	if l.cfg.FailOpen {
		return Decision{
			Allowed:          true,
			RemainingCredits: l.cfg.DailyCreditLimit,
		}, nil
	}
	return Decision{Allowed: false, Reason: ReasonStorageError}, err
}

func (l *Limiter) rollDaily(rec *store.UsageRecord, now time.Time) {
	today := dateOf(now)
	if !rec.DailyResetDate.Equal(today) {
		rec.DailySeconds = 0
		rec.DailyResetDate = today
	}
}

// creditsUsed converts accumulated seconds to whole credits, rounding up.
func (l *Limiter) creditsUsed(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return (seconds + l.cfg.CreditUnitSeconds - 1) / l.cfg.CreditUnitSeconds
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nextMidnight(t time.Time) time.Time {
	return dateOf(t).Add(24 * time.Hour)
}

// SetNowFunc overrides the limiter's clock. Tests only.
func (l *Limiter) SetNowFunc(now func() time.Time) {
	l.now = now
}
