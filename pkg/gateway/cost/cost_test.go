package cost

import (
	"math"
	"testing"
	"time"

	"github.com/brightfold/voicegate/pkg/gateway/store"
)

func TestCompute_ZeroInputsAllZero(t *testing.T) {
	r := Compute(DefaultTable().RatesFor("standard"), Usage{})
	if r.TextInCost != 0 || r.TextOutCost != 0 || r.AudioInCost != 0 || r.AudioOutCost != 0 || r.TotalCost != 0 {
		t.Fatalf("zero usage produced non-zero costs: %+v", r)
	}
}

func TestCompute_TotalIsSumOfSubCosts(t *testing.T) {
	rates := DefaultTable().RatesFor("premium")
	r := Compute(rates, Usage{
		DurationSeconds: 95,
		TextInTokens:    12_345,
		TextOutTokens:   54_321,
		AudioInSeconds:  61.5,
		AudioOutSeconds: 33.25,
	})

	sum := r.TextInCost + r.TextOutCost + r.AudioInCost + r.AudioOutCost
	if r.TotalCost != sum {
		t.Fatalf("total %v != sum of sub-costs %v", r.TotalCost, sum)
	}
	if r.TotalCost <= 0 {
		t.Fatalf("total = %v", r.TotalCost)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	rates := DefaultTable().RatesFor("standard")
	u := Usage{
		DurationSeconds: 180,
		TextInTokens:    999,
		TextOutTokens:   1001,
		AudioInSeconds:  180,
		AudioOutSeconds: 120.7,
	}
	a := Compute(rates, u)
	b := Compute(rates, u)
	if a != b {
		t.Fatalf("identical inputs produced different records:\n%+v\n%+v", a, b)
	}
}

func TestCompute_AudioUsesTokenEquivalent(t *testing.T) {
	rates := Rates{AudioInPerMTok: 1_000_000} // $1 per token for easy math
	r := Compute(rates, Usage{AudioInSeconds: 2})
	want := 2 * AudioTokensPerSecond
	if math.Abs(r.AudioInCost-want) > 1e-9 {
		t.Fatalf("audio in cost = %v, want %v", r.AudioInCost, want)
	}
}

func TestRatesFor_UnknownTierFallsBack(t *testing.T) {
	table := DefaultTable()
	if table.RatesFor("mystery") != table[DefaultTier] {
		t.Fatalf("unknown tier did not fall back to default")
	}
}

func TestSummarize(t *testing.T) {
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	records := []store.CostRow{
		{SessionID: "a", DurationSeconds: 60, TotalCost: 0.10, TextInTokens: 100, TextOutTokens: 50},
		{SessionID: "b", DurationSeconds: 120, TotalCost: 0.30},
		{SessionID: "c", DurationSeconds: 30, TotalCost: 0.05, ErrorOccurred: true},
	}

	s := Summarize(day, records)
	if s.Sessions != 3 {
		t.Fatalf("sessions = %d", s.Sessions)
	}
	if math.Abs(s.TotalCost-0.45) > 1e-9 {
		t.Fatalf("total cost = %v", s.TotalCost)
	}
	if s.TotalSeconds != 210 {
		t.Fatalf("total seconds = %d", s.TotalSeconds)
	}
	if math.Abs(s.AvgSeconds-70) > 1e-9 {
		t.Fatalf("avg seconds = %v", s.AvgSeconds)
	}
	if math.Abs(s.SuccessRate-2.0/3.0) > 1e-9 {
		t.Fatalf("success rate = %v", s.SuccessRate)
	}
	if s.TotalTextTokens != 150 {
		t.Fatalf("text tokens = %d", s.TotalTextTokens)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(time.Now(), nil)
	if s.Sessions != 0 || s.TotalCost != 0 || s.SuccessRate != 0 {
		t.Fatalf("empty summary = %+v", s)
	}
}

func TestLoadTable_MissingPathUsesDefaults(t *testing.T) {
	table, err := LoadTable("")
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if _, ok := table["standard"]; !ok {
		t.Fatalf("defaults missing standard tier")
	}
}
