package providers

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// NumberString decodes a JSON number or numeric string without going
// through float64.
type NumberString string

func (n *NumberString) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*n = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*n = NumberString(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		// Objects and arrays carry no scalar amount.
		*n = ""
		return nil
	}
	*n = NumberString(num.String())
	return nil
}

func (n NumberString) String() string { return string(n) }

// Decimal parses the value; empty or invalid input yields zero.
func (n NumberString) Decimal() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(string(n)))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Int parses an integer value, falling back when empty or invalid.
func (n NumberString) Int(fallback int) int {
	d := n.Decimal()
	if string(n) == "" || !d.IsInteger() {
		return fallback
	}
	return int(d.IntPart())
}

// FormatUSD renders a USD amount with six fractional digits at most.
func FormatUSD(d decimal.Decimal) string {
	return d.Round(6).String()
}

// FormatPercent renders a percentage with two fractional digits.
func FormatPercent(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Percent returns part / whole × 100, or zero when whole is not positive.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100))
}
