package cost

import (
	"time"

	"github.com/brightfold/voicegate/pkg/gateway/store"
)

// DailySummary aggregates one day's cost records.
type DailySummary struct {
	Day             time.Time
	Sessions        int
	TotalCost       float64
	TotalSeconds    int
	AvgCost         float64
	AvgSeconds      float64
	TotalTextTokens int64
	// SuccessRate is sessions without error_occurred over total sessions,
	// in [0, 1]. Zero when there are no sessions.
	SuccessRate float64
}

// Summarize is a pure reduction over one day's records.
func Summarize(day time.Time, records []store.CostRow) DailySummary {
	s := DailySummary{Day: day, Sessions: len(records)}
	if len(records) == 0 {
		return s
	}

	succeeded := 0
	for _, r := range records {
		s.TotalCost += r.TotalCost
		s.TotalSeconds += r.DurationSeconds
		s.TotalTextTokens += r.TextInTokens + r.TextOutTokens
		if !r.ErrorOccurred {
			succeeded++
		}
	}
	s.AvgCost = s.TotalCost / float64(len(records))
	s.AvgSeconds = float64(s.TotalSeconds) / float64(len(records))
	s.SuccessRate = float64(succeeded) / float64(len(records))
	return s
}

// ToRow converts a computed record to its persisted form.
func ToRow(r Record) *store.CostRow {
	return &store.CostRow{
		SessionID:       r.SessionID,
		DurationSeconds: r.DurationSeconds,
		TextInTokens:    r.TextInTokens,
		TextOutTokens:   r.TextOutTokens,
		AudioInSeconds:  r.AudioInSeconds,
		AudioOutSeconds: r.AudioOutSeconds,
		TextInCost:      r.TextInCost,
		TextOutCost:     r.TextOutCost,
		AudioInCost:     r.AudioInCost,
		AudioOutCost:    r.AudioOutCost,
		TotalCost:       r.TotalCost,
		ErrorOccurred:   r.ErrorOccurred,
		CreatedAt:       r.CreatedAt,
	}
}
