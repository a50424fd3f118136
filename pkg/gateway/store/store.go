package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("store: not found")

// Session statuses.
const (
	StatusActive  = "active"
	StatusEnded   = "ended"
	StatusBlocked = "blocked"
)

// End reasons. Every way a session can end goes through one close routine,
// tagged with one of these.
const (
	EndReasonClient            = "client_end"
	EndReasonInactivityTimeout = "inactivity_timeout"
	EndReasonHeartbeatLost     = "heartbeat_lost"
	EndReasonOperator          = "operator_forced"
)

// UsageRecord is the per-identity admission record. Identity is an opaque
// hash of client IP plus optional device fingerprint; the raw values are
// never stored.
type UsageRecord struct {
	Identity        string
	DailySeconds    int
	LifetimeSeconds int
	DailyResetDate  time.Time // date only, UTC midnight
	SessionCount    int
	Blocked         bool
	ActiveLock      bool
	LastActivityAt  time.Time
	UpdatedAt       time.Time
}

// Session is one real-time voice interaction.
type Session struct {
	SessionID       string
	Identity        string
	Status          string
	EndReason       string
	StartedAt       time.Time
	LastActivityAt  time.Time
	LastHeartbeatAt time.Time
	EndedAt         *time.Time
	DurationSeconds int
}

// Turn is one utterance by either party within a session. Immutable once
// persisted.
type Turn struct {
	SessionID  string
	TurnNumber int
	Speaker    string // "user" | "assistant"
	Text       string
	Confidence float64
	Timestamp  time.Time

	// Best-effort annotations, not authoritative.
	Topic         string
	NeedsFollowUp bool
	Engagement    string
}

// SessionStats summarizes the persisted turns of one session.
type SessionStats struct {
	SessionID      string
	TurnCount      int
	UserTurns      int
	AssistantTurns int
	FirstTurnAt    *time.Time
	LastTurnAt     *time.Time
}

// CostRow is the persisted form of a computed cost record, upserted once per
// session at end time.
type CostRow struct {
	SessionID       string
	DurationSeconds int
	TextInTokens    int64
	TextOutTokens   int64
	AudioInSeconds  float64
	AudioOutSeconds float64
	TextInCost      float64
	TextOutCost     float64
	AudioInCost     float64
	AudioOutCost    float64
	TotalCost       float64
	ErrorOccurred   bool
	CreatedAt       time.Time
}
