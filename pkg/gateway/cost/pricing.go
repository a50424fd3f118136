package cost

import (
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v2"
)

// AudioTokensPerSecond converts audio seconds to the provider's
// token-equivalent before per-token audio pricing applies.
const AudioTokensPerSecond = 32.0

// Rates are USD per million tokens for one model tier.
type Rates struct {
	TextInPerMTok   float64 `yaml:"text_in_per_mtok"`
	TextOutPerMTok  float64 `yaml:"text_out_per_mtok"`
	AudioInPerMTok  float64 `yaml:"audio_in_per_mtok"`
	AudioOutPerMTok float64 `yaml:"audio_out_per_mtok"`
}

// Table maps model tier to rates.
type Table map[string]Rates

// DefaultTier is used when a session's tier has no entry.
const DefaultTier = "standard"

// DefaultTable returns the built-in pricing table.
func DefaultTable() Table {
	return Table{
		"standard": {
			TextInPerMTok:   0.50,
			TextOutPerMTok:  2.00,
			AudioInPerMTok:  3.00,
			AudioOutPerMTok: 12.00,
		},
		"premium": {
			TextInPerMTok:   1.25,
			TextOutPerMTok:  5.00,
			AudioInPerMTok:  8.00,
			AudioOutPerMTok: 24.00,
		},
	}
}

// LoadTable reads a pricing table from a YAML file, falling back to the
// defaults for any tier the file does not define.
func LoadTable(path string) (Table, error) {
	table := DefaultTable()
	if path == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file %q: %w", path, err)
	}

	var loaded Table
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("parse pricing file %q: %w", path, err)
	}
	for tier, rates := range loaded {
		if rates.TextInPerMTok < 0 || rates.TextOutPerMTok < 0 ||
			rates.AudioInPerMTok < 0 || rates.AudioOutPerMTok < 0 {
			return nil, fmt.Errorf("pricing file %q: tier %q has negative rates", path, tier)
		}
		table[tier] = rates
	}
	return table, nil
}

// RatesFor returns the tier's rates, or the default tier's when unknown.
func (t Table) RatesFor(tier string) Rates {
	if r, ok := t[tier]; ok {
		return r
	}
	return t[DefaultTier]
}
