package providers

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNumberStringDecodesVariants(t *testing.T) {
	var out struct {
		A NumberString `json:"a"`
		B NumberString `json:"b"`
		C NumberString `json:"c"`
		D NumberString `json:"d"`
		E NumberString `json:"e"`
	}
	raw := `{"a":"123456789012345678901234","b":18,"c":null,"d":{"amount":"1"},"e":0.25}`
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out.A.String() != "123456789012345678901234" {
		t.Fatalf("unexpected string value: %s", out.A)
	}
	if out.B.Int(0) != 18 {
		t.Fatalf("unexpected int value: %d", out.B.Int(0))
	}
	if out.C != "" || out.D != "" {
		t.Fatalf("expected empty values, got %q %q", out.C, out.D)
	}
	if !out.E.Decimal().Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("unexpected decimal: %s", out.E.Decimal())
	}
	if out.C.Int(6) != 6 {
		t.Fatal("expected fallback for empty value")
	}
}

func TestFormatting(t *testing.T) {
	if got := FormatUSD(decimal.RequireFromString("1.23456789")); got != "1.234568" {
		t.Fatalf("unexpected usd format: %s", got)
	}
	if got := FormatPercent(Percent(decimal.NewFromInt(1), decimal.NewFromInt(3))); got != "33.33" {
		t.Fatalf("unexpected percent: %s", got)
	}
	if got := Percent(decimal.NewFromInt(1), decimal.Zero); !got.IsZero() {
		t.Fatalf("expected zero percent for zero whole, got %s", got)
	}
}
