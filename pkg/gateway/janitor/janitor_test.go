package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brightfold/voicegate/pkg/gateway/store"
)

type fakeStore struct {
	sessions map[string]*store.Session
	locks    map[string]bool

	failClose map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:  make(map[string]*store.Session),
		locks:     make(map[string]bool),
		failClose: make(map[string]bool),
	}
}

func (f *fakeStore) ListStaleActive(_ context.Context, cutoff time.Time) ([]store.Session, error) {
	var out []store.Session
	for _, s := range f.sessions {
		if s.Status == store.StatusActive && s.LastActivityAt.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) ListStaleHeartbeats(_ context.Context, cutoff time.Time) ([]store.Session, error) {
	var out []store.Session
	for _, s := range f.sessions {
		if s.Status == store.StatusActive && s.LastHeartbeatAt.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*store.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) CloseSession(_ context.Context, id, reason string, at time.Time, duration int) (bool, error) {
	if f.failClose[id] {
		return false, errors.New("close failed")
	}
	s, ok := f.sessions[id]
	if !ok || s.Status != store.StatusActive {
		return false, nil
	}
	s.Status = store.StatusEnded
	s.EndReason = reason
	s.EndedAt = &at
	if duration > s.DurationSeconds {
		s.DurationSeconds = duration
	}
	return true, nil
}

func (f *fakeStore) ReleaseUsageLock(_ context.Context, identity string) error {
	f.locks[identity] = false
	return nil
}

func addSession(fs *fakeStore, id, identity string, lastActivity, lastHeartbeat time.Time) {
	fs.sessions[id] = &store.Session{
		SessionID:       id,
		Identity:        identity,
		Status:          store.StatusActive,
		StartedAt:       lastActivity.Add(-time.Minute),
		LastActivityAt:  lastActivity,
		LastHeartbeatAt: lastHeartbeat,
	}
	fs.locks[identity] = true
}

func newJanitor(fs *fakeStore, now time.Time) *Janitor {
	j := New(fs, Config{
		InactivityTimeout: 30 * time.Minute,
		HeartbeatTimeout:  15 * time.Minute,
	}, nil, nil)
	j.now = func() time.Time { return now }
	return j
}

func TestSweepOnce_ReclaimsInactiveSession(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	fs := newFakeStore()
	addSession(fs, "vs_stale", "id_1", now.Add(-31*time.Minute), now)
	addSession(fs, "vs_fresh", "id_2", now.Add(-5*time.Minute), now)

	j := newJanitor(fs, now)
	if got := j.SweepOnce(context.Background()); got != 1 {
		t.Fatalf("reclaimed = %d, want 1", got)
	}

	stale := fs.sessions["vs_stale"]
	if stale.Status != store.StatusEnded || stale.EndReason != store.EndReasonInactivityTimeout {
		t.Fatalf("stale session: status=%q reason=%q", stale.Status, stale.EndReason)
	}
	if fs.locks["id_1"] {
		t.Fatalf("admission lock not released")
	}
	if fs.sessions["vs_fresh"].Status != store.StatusActive {
		t.Fatalf("fresh session must survive")
	}
}

func TestSweepOnce_Idempotent(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	fs := newFakeStore()
	addSession(fs, "vs_stale", "id_1", now.Add(-31*time.Minute), now)

	j := newJanitor(fs, now)
	if got := j.SweepOnce(context.Background()); got != 1 {
		t.Fatalf("first sweep reclaimed = %d", got)
	}
	if got := j.SweepOnce(context.Background()); got != 0 {
		t.Fatalf("second sweep reclaimed = %d, want 0", got)
	}
}

func TestSweepOnce_HeartbeatSweep(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	fs := newFakeStore()
	// Recent activity but heartbeat lost 16 minutes ago.
	addSession(fs, "vs_kiosk", "id_k", now, now.Add(-16*time.Minute))

	j := newJanitor(fs, now)
	if got := j.SweepOnce(context.Background()); got != 1 {
		t.Fatalf("reclaimed = %d, want 1", got)
	}
	if fs.sessions["vs_kiosk"].EndReason != store.EndReasonHeartbeatLost {
		t.Fatalf("reason = %q", fs.sessions["vs_kiosk"].EndReason)
	}
}

func TestSweepOnce_ErrorIsolation(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	fs := newFakeStore()
	addSession(fs, "vs_bad", "id_1", now.Add(-40*time.Minute), now)
	addSession(fs, "vs_good", "id_2", now.Add(-40*time.Minute), now)
	fs.failClose["vs_bad"] = true

	j := newJanitor(fs, now)
	j.SweepOnce(context.Background())

	if fs.sessions["vs_good"].Status != store.StatusEnded {
		t.Fatalf("failure on one session aborted the batch")
	}
}

func TestForceClose_SharesClosePath(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	fs := newFakeStore()
	addSession(fs, "vs_1", "id_1", now, now)

	j := newJanitor(fs, now)
	if err := j.ForceClose(context.Background(), "vs_1", store.EndReasonOperator); err != nil {
		t.Fatalf("ForceClose: %v", err)
	}
	s := fs.sessions["vs_1"]
	if s.Status != store.StatusEnded || s.EndReason != store.EndReasonOperator {
		t.Fatalf("status=%q reason=%q", s.Status, s.EndReason)
	}
	if fs.locks["id_1"] {
		t.Fatalf("lock not released")
	}

	// Repeat is a no-op.
	if err := j.ForceClose(context.Background(), "vs_1", store.EndReasonOperator); err != nil {
		t.Fatalf("repeat ForceClose: %v", err)
	}
}
