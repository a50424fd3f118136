package cost

import "time"

// Usage holds the raw counters reported for one session. Audio is counted
// in seconds, text in tokens.
type Usage struct {
	DurationSeconds int
	TextInTokens    int64
	TextOutTokens   int64
	AudioInSeconds  float64
	AudioOutSeconds float64
}

// Record is a computed cost breakdown. It is always a pure function of the
// raw counters: no running totals are adjusted incrementally, so the same
// inputs always reproduce the same record.
type Record struct {
	SessionID       string
	DurationSeconds int
	TextInTokens    int64
	TextOutTokens   int64
	AudioInSeconds  float64
	AudioOutSeconds float64

	TextInCost   float64
	TextOutCost  float64
	AudioInCost  float64
	AudioOutCost float64
	TotalCost    float64

	ErrorOccurred bool
	CreatedAt     time.Time
}

// Compute prices one session's usage against the tier's rates. The total is
// the exact sum of the four sub-costs.
func Compute(rates Rates, u Usage) Record {
	const mtok = 1_000_000.0

	audioInTokens := u.AudioInSeconds * AudioTokensPerSecond
	audioOutTokens := u.AudioOutSeconds * AudioTokensPerSecond

	r := Record{
		DurationSeconds: u.DurationSeconds,
		TextInTokens:    u.TextInTokens,
		TextOutTokens:   u.TextOutTokens,
		AudioInSeconds:  u.AudioInSeconds,
		AudioOutSeconds: u.AudioOutSeconds,

		TextInCost:   float64(u.TextInTokens) / mtok * rates.TextInPerMTok,
		TextOutCost:  float64(u.TextOutTokens) / mtok * rates.TextOutPerMTok,
		AudioInCost:  audioInTokens / mtok * rates.AudioInPerMTok,
		AudioOutCost: audioOutTokens / mtok * rates.AudioOutPerMTok,
	}
	r.TotalCost = r.TextInCost + r.TextOutCost + r.AudioInCost + r.AudioOutCost
	return r
}
