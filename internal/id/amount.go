package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/shopspring/decimal"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// NormalizeAmount accepts exactly one of a base-unit integer or a decimal
// amount and returns both representations.
func NormalizeAmount(baseUnits, decimalAmount string, decimals int) (string, string, error) {
	if baseUnits != "" && decimalAmount != "" {
		return "", "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && decimalAmount == "" {
		return "", "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return "", "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		n, err := ParseBaseUnits(baseUnits)
		if err != nil {
			return "", "", err
		}
		return n.String(), FormatDecimal(n.String(), decimals), nil
	}

	if !decimalPattern.MatchString(decimalAmount) {
		return "", "", clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	base, err := decimalToBaseUnits(decimalAmount, decimals)
	if err != nil {
		return "", "", err
	}
	return base, normalizeDecimal(decimalAmount), nil
}

// ParseBaseUnits parses a non-negative base-10 integer string.
func ParseBaseUnits(v string) (*big.Int, error) {
	raw := strings.TrimSpace(v)
	if raw == "" || strings.HasPrefix(raw, "-") || strings.HasPrefix(raw, "+") {
		return nil, clierr.New(clierr.CodeUsage, "amount must be a non-negative integer string")
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "amount must be a non-negative integer string")
	}
	return n, nil
}

// ToDecimal scales a base-unit integer down by 10^decimals.
func ToDecimal(baseUnits *big.Int, decimals int) decimal.Decimal {
	if baseUnits == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(baseUnits, -int32(decimals))
}

// ParseDecimalBaseUnits parses a base-unit string and scales it by decimals.
// Unparsable input yields zero.
func ParseDecimalBaseUnits(baseUnits string, decimals int) decimal.Decimal {
	n, ok := new(big.Int).SetString(strings.TrimSpace(baseUnits), 10)
	if !ok {
		return decimal.Zero
	}
	return ToDecimal(n, decimals)
}

// FormatDecimal converts a base-unit integer string into a trimmed decimal string.
func FormatDecimal(baseUnits string, decimals int) string {
	n := new(big.Int)
	if _, ok := n.SetString(strings.TrimSpace(baseUnits), 10); !ok {
		return "0"
	}
	if decimals == 0 {
		return n.String()
	}

	s := n.String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// EtherToWei converts a decimal ether string into wei.
func EtherToWei(v string) (*big.Int, error) {
	raw := strings.TrimSpace(v)
	if !decimalPattern.MatchString(raw) {
		return nil, clierr.New(clierr.CodeUsage, "amount must be in decimal form like 0.01")
	}
	base, err := decimalToBaseUnits(raw, 18)
	if err != nil {
		return nil, err
	}
	n, _ := new(big.Int).SetString(base, 10)
	return n, nil
}

func decimalToBaseUnits(v string, decimals int) (string, error) {
	parts := strings.SplitN(v, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}

	combined := strings.TrimLeft(intPart+fracPart+strings.Repeat("0", decimals-len(fracPart)), "0")
	if combined == "" {
		return "0", nil
	}
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return combined, nil
}

func normalizeDecimal(v string) string {
	if !strings.Contains(v, ".") {
		out := strings.TrimLeft(v, "0")
		if out == "" {
			return "0"
		}
		return out
	}
	parts := strings.SplitN(v, ".", 2)
	intPart := strings.TrimLeft(parts[0], "0")
	if intPart == "" {
		intPart = "0"
	}
	fracPart := strings.TrimRight(parts[1], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
