package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements all store interfaces against a pgx connection pool.
// One instance per process, injected into each component's constructor.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// --- usage records ---

func (p *Postgres) GetUsage(ctx context.Context, identity string) (*UsageRecord, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT identity, daily_seconds, lifetime_seconds, daily_reset_date,
		       session_count, blocked, is_active_lock, last_activity_at, updated_at
		FROM usage_records WHERE identity = $1`, identity)

	var rec UsageRecord
	err := row.Scan(&rec.Identity, &rec.DailySeconds, &rec.LifetimeSeconds,
		&rec.DailyResetDate, &rec.SessionCount, &rec.Blocked, &rec.ActiveLock,
		&rec.LastActivityAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get usage record: %w", err)
	}
	return &rec, nil
}

func (p *Postgres) CreateUsage(ctx context.Context, rec *UsageRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO usage_records
			(identity, daily_seconds, lifetime_seconds, daily_reset_date,
			 session_count, blocked, is_active_lock, last_activity_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())`,
		rec.Identity, rec.DailySeconds, rec.LifetimeSeconds, rec.DailyResetDate,
		rec.SessionCount, rec.Blocked, rec.ActiveLock, rec.LastActivityAt)
	if err != nil {
		return fmt.Errorf("create usage record: %w", err)
	}
	return nil
}

// UpdateUsage overwrites the mutable columns of one usage record. The
// single-row update is the serialization point for admission; no external
// mutex is held.
func (p *Postgres) UpdateUsage(ctx context.Context, rec *UsageRecord) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE usage_records SET
			daily_seconds = $2, lifetime_seconds = $3, daily_reset_date = $4,
			session_count = $5, blocked = $6, is_active_lock = $7,
			last_activity_at = $8, updated_at = now()
		WHERE identity = $1`,
		rec.Identity, rec.DailySeconds, rec.LifetimeSeconds, rec.DailyResetDate,
		rec.SessionCount, rec.Blocked, rec.ActiveLock, rec.LastActivityAt)
	if err != nil {
		return fmt.Errorf("update usage record: %w", err)
	}
	return nil
}

// ReleaseUsageLock clears the active-session lock. Safe to call repeatedly.
func (p *Postgres) ReleaseUsageLock(ctx context.Context, identity string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE usage_records SET is_active_lock = false, updated_at = now()
		WHERE identity = $1`, identity)
	if err != nil {
		return fmt.Errorf("release usage lock: %w", err)
	}
	return nil
}

// --- sessions ---

func (p *Postgres) CreateSession(ctx context.Context, s *Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions
			(session_id, identity, status, started_at, last_activity_at, last_heartbeat_at)
		VALUES ($1,$2,$3,$4,$4,$4)`,
		s.SessionID, s.Identity, StatusActive, s.StartedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// TouchSession records liveness from the relay or event ingestion.
func (p *Postgres) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE sessions SET last_activity_at = $2, last_heartbeat_at = $2
		WHERE session_id = $1 AND status = $3`, sessionID, at, StatusActive)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// CloseSession transitions active -> ended exactly once. Returns false when
// the session was already ended (or unknown), which makes repeated closes
// no-ops.
func (p *Postgres) CloseSession(ctx context.Context, sessionID, reason string, at time.Time, durationSeconds int) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE sessions SET
			status = $2, end_reason = $3, ended_at = $4,
			duration_seconds = GREATEST(duration_seconds, $5)
		WHERE session_id = $1 AND status = $6`,
		sessionID, StatusEnded, reason, at, durationSeconds, StatusActive)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT session_id, identity, status, COALESCE(end_reason, ''),
		       started_at, last_activity_at, last_heartbeat_at, ended_at, duration_seconds
		FROM sessions WHERE session_id = $1`, sessionID)

	var s Session
	err := row.Scan(&s.SessionID, &s.Identity, &s.Status, &s.EndReason,
		&s.StartedAt, &s.LastActivityAt, &s.LastHeartbeatAt, &s.EndedAt, &s.DurationSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// ListStaleActive returns active sessions whose last activity is older than
// the cutoff. The janitor operates on this snapshot; no long-lived locks.
func (p *Postgres) ListStaleActive(ctx context.Context, cutoff time.Time) ([]Session, error) {
	return p.listStale(ctx, `
		SELECT session_id, identity, status, COALESCE(end_reason, ''),
		       started_at, last_activity_at, last_heartbeat_at, ended_at, duration_seconds
		FROM sessions WHERE status = $1 AND last_activity_at < $2`, cutoff)
}

// ListStaleHeartbeats returns active sessions whose heartbeat signal is
// older than the cutoff (kiosk-style long-lived clients).
func (p *Postgres) ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]Session, error) {
	return p.listStale(ctx, `
		SELECT session_id, identity, status, COALESCE(end_reason, ''),
		       started_at, last_activity_at, last_heartbeat_at, ended_at, duration_seconds
		FROM sessions WHERE status = $1 AND last_heartbeat_at < $2`, cutoff)
}

func (p *Postgres) listStale(ctx context.Context, query string, cutoff time.Time) ([]Session, error) {
	rows, err := p.pool.Query(ctx, query, StatusActive, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.SessionID, &s.Identity, &s.Status, &s.EndReason,
			&s.StartedAt, &s.LastActivityAt, &s.LastHeartbeatAt, &s.EndedAt, &s.DurationSeconds); err != nil {
			return nil, fmt.Errorf("scan stale session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	return out, nil
}

// --- conversation turns ---

// InsertTurns bulk-writes one batch of turns. The batch either fully
// succeeds or the caller requeues it; individual inserts are not retried
// here.
func (p *Postgres) InsertTurns(ctx context.Context, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range turns {
		batch.Queue(`
			INSERT INTO conversation_turns
				(session_id, turn_number, speaker, text, confidence, ts,
				 topic, needs_follow_up, engagement)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (session_id, turn_number) DO NOTHING`,
			t.SessionID, t.TurnNumber, t.Speaker, t.Text, t.Confidence, t.Timestamp,
			t.Topic, t.NeedsFollowUp, t.Engagement)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range turns {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert turns: %w", err)
		}
	}
	return nil
}

func (p *Postgres) SessionStats(ctx context.Context, sessionID string) (*SessionStats, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE speaker = 'user'),
		       COUNT(*) FILTER (WHERE speaker = 'assistant'),
		       MIN(ts), MAX(ts)
		FROM conversation_turns WHERE session_id = $1`, sessionID)

	stats := SessionStats{SessionID: sessionID}
	if err := row.Scan(&stats.TurnCount, &stats.UserTurns, &stats.AssistantTurns,
		&stats.FirstTurnAt, &stats.LastTurnAt); err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	return &stats, nil
}

// --- cost records ---

// UpsertCost writes the cost record for a session. Keyed by session_id so a
// repeated end-of-session report does not duplicate rows.
func (p *Postgres) UpsertCost(ctx context.Context, c *CostRow) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO session_costs
			(session_id, duration_seconds, text_in_tokens, text_out_tokens,
			 audio_in_seconds, audio_out_seconds,
			 text_in_cost, text_out_cost, audio_in_cost, audio_out_cost,
			 total_cost, error_occurred, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		ON CONFLICT (session_id) DO UPDATE SET
			duration_seconds = EXCLUDED.duration_seconds,
			text_in_tokens = EXCLUDED.text_in_tokens,
			text_out_tokens = EXCLUDED.text_out_tokens,
			audio_in_seconds = EXCLUDED.audio_in_seconds,
			audio_out_seconds = EXCLUDED.audio_out_seconds,
			text_in_cost = EXCLUDED.text_in_cost,
			text_out_cost = EXCLUDED.text_out_cost,
			audio_in_cost = EXCLUDED.audio_in_cost,
			audio_out_cost = EXCLUDED.audio_out_cost,
			total_cost = EXCLUDED.total_cost,
			error_occurred = EXCLUDED.error_occurred`,
		c.SessionID, c.DurationSeconds, c.TextInTokens, c.TextOutTokens,
		c.AudioInSeconds, c.AudioOutSeconds,
		c.TextInCost, c.TextOutCost, c.AudioInCost, c.AudioOutCost,
		c.TotalCost, c.ErrorOccurred)
	if err != nil {
		return fmt.Errorf("upsert cost record: %w", err)
	}
	return nil
}

func (p *Postgres) ListCostsByDay(ctx context.Context, day time.Time) ([]CostRow, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	rows, err := p.pool.Query(ctx, `
		SELECT session_id, duration_seconds, text_in_tokens, text_out_tokens,
		       audio_in_seconds, audio_out_seconds,
		       text_in_cost, text_out_cost, audio_in_cost, audio_out_cost,
		       total_cost, error_occurred, created_at
		FROM session_costs WHERE created_at >= $1 AND created_at < $2`, start, end)
	if err != nil {
		return nil, fmt.Errorf("list costs: %w", err)
	}
	defer rows.Close()

	var out []CostRow
	for rows.Next() {
		var c CostRow
		if err := rows.Scan(&c.SessionID, &c.DurationSeconds, &c.TextInTokens, &c.TextOutTokens,
			&c.AudioInSeconds, &c.AudioOutSeconds,
			&c.TextInCost, &c.TextOutCost, &c.AudioInCost, &c.AudioOutCost,
			&c.TotalCost, &c.ErrorOccurred, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cost record: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list costs: %w", err)
	}
	return out, nil
}
