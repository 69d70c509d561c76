package pricing

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func twoTierEntry(effective time.Time) Entry {
	return Entry{
		Provider:      "openai",
		Model:         "gpt-4o",
		EffectiveFrom: effective,
		Tiers: []Tier{
			{UpTo: 128000, InputPerMillion: 1.25, OutputPerMillion: 5.00},
			{UpTo: 0, InputPerMillion: 2.50, OutputPerMillion: 10.00},
		},
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestGraduatedTieredCost(t *testing.T) {
	e := twoTierEntry(time.Now())

	// 150000 units: first 128000 at $1.25/1M, remaining 22000 at $2.50/1M.
	want := 128000*1.25/1e6 + 22000*2.50/1e6
	if got := e.InputCost(150000); !approxEqual(got, want) {
		t.Errorf("InputCost(150000) = %v, want %v", got, want)
	}

	// Below the boundary only the first tier applies.
	if got := e.InputCost(1000); !approxEqual(got, 1000*1.25/1e6) {
		t.Errorf("InputCost(1000) = %v, want %v", got, 1000*1.25/1e6)
	}

	if got := e.OutputCost(130000); !approxEqual(got, 128000*5.00/1e6+2000*10.00/1e6) {
		t.Errorf("OutputCost(130000) = %v", got)
	}

	if got := e.InputCost(0); got != 0 {
		t.Errorf("InputCost(0) = %v, want 0", got)
	}
}

func TestActiveSelectsLatestNotAfterNow(t *testing.T) {
	table := NewTable()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	old := twoTierEntry(now.AddDate(0, -2, 0))
	current := twoTierEntry(now.AddDate(0, -1, 0))
	current.Tiers[0].InputPerMillion = 9.99
	future := twoTierEntry(now.AddDate(0, 1, 0))

	if _, err := table.Update(old, future, current); err != nil {
		t.Fatalf("Update: %v", err)
	}

	active, err := table.Active("openai", "gpt-4o", now)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.Tiers[0].InputPerMillion != 9.99 {
		t.Errorf("Active picked wrong entry: effective %v", active.EffectiveFrom)
	}
}

func TestActiveUnknownPair(t *testing.T) {
	table := NewTable()
	_, err := table.Active("nope", "missing", time.Now())
	if !errors.Is(err, ErrPricingUnavailable) {
		t.Errorf("err = %v, want ErrPricingUnavailable", err)
	}

	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.Provider != "nope" {
		t.Errorf("error missing pair detail: %v", err)
	}
}

func TestUpdateIsAppendOnlyAndVersioned(t *testing.T) {
	table := NewTable()
	now := time.Now()

	v1, err := table.Update(twoTierEntry(now.Add(-time.Hour)))
	if err != nil || v1 != 1 {
		t.Fatalf("first Update: version=%d err=%v", v1, err)
	}

	newer := twoTierEntry(now)
	newer.Tiers[0].InputPerMillion = 2.00
	v2, err := table.Update(newer)
	if err != nil || v2 != 2 {
		t.Fatalf("second Update: version=%d err=%v", v2, err)
	}

	// Historical lookups still resolve the old entry.
	hist, err := table.Active("openai", "gpt-4o", now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("historical Active: %v", err)
	}
	if hist.Tiers[0].InputPerMillion != 1.25 {
		t.Error("historical entry was mutated by update")
	}
}

func TestValidateRejectsBadTiers(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{"no tiers", Entry{Provider: "p", Model: "m"}},
		{"unnamed", Entry{Tiers: []Tier{{UpTo: 0}}}},
		{"bounded final tier", Entry{Provider: "p", Model: "m", Tiers: []Tier{{UpTo: 100}}}},
		{"descending boundaries", Entry{Provider: "p", Model: "m", Tiers: []Tier{
			{UpTo: 200}, {UpTo: 100}, {UpTo: 0},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.entry.Validate(); err == nil {
				t.Error("Validate accepted an invalid entry")
			}
		})
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	content := `entries:
  - provider: openai
    model: gpt-4o
    effective_from: 2026-01-01T00:00:00Z
    tiers:
      - up_to: 128000
        input_per_million: 1.25
        output_per_million: 5.00
      - up_to: 0
        input_per_million: 2.50
        output_per_million: 10.00
  - provider: anthropic
    model: claude-sonnet
    effective_from: 2026-01-01T00:00:00Z
    tiers:
      - up_to: 0
        input_per_million: 3.00
        output_per_million: 15.00
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}

	if got := table.Providers(); len(got) != 2 {
		t.Errorf("Providers() = %v, want two providers", got)
	}

	e, err := table.Active("anthropic", "claude-sonnet", time.Now())
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if !approxEqual(e.InputCost(1_000_000), 3.00) {
		t.Errorf("InputCost(1M) = %v, want 3.00", e.InputCost(1_000_000))
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("entries: [{provider: p}]"), 0o644)
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected validation error for entry without tiers")
	}
}
