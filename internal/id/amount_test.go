package id

import (
	"math/big"
	"testing"
)

func TestNormalizeAmountBaseUnits(t *testing.T) {
	base, dec, err := NormalizeAmount("1000000", "", 6)
	if err != nil {
		t.Fatalf("NormalizeAmount failed: %v", err)
	}
	if base != "1000000" || dec != "1" {
		t.Fatalf("unexpected result: base=%s dec=%s", base, dec)
	}
}

func TestNormalizeAmountDecimal(t *testing.T) {
	base, dec, err := NormalizeAmount("", "1.25", 6)
	if err != nil {
		t.Fatalf("NormalizeAmount failed: %v", err)
	}
	if base != "1250000" || dec != "1.25" {
		t.Fatalf("unexpected result: base=%s dec=%s", base, dec)
	}
}

func TestNormalizeAmountValidation(t *testing.T) {
	if _, _, err := NormalizeAmount("10", "1", 6); err == nil {
		t.Fatal("expected mutual exclusivity error")
	}
	if _, _, err := NormalizeAmount("", "1.1234567", 6); err == nil {
		t.Fatal("expected precision error")
	}
	if _, _, err := NormalizeAmount("-5", "", 6); err == nil {
		t.Fatal("expected negative amount error")
	}
	if got := FormatDecimal("0", 6); got != "0" {
		t.Fatalf("unexpected zero format: %s", got)
	}
}

func TestToDecimalKeepsPrecision(t *testing.T) {
	n, _ := new(big.Int).SetString("123456789012345678901", 10)
	if got := ToDecimal(n, 18).String(); got != "123.456789012345678901" {
		t.Fatalf("unexpected decimal: %s", got)
	}
	if got := ParseDecimalBaseUnits("1500000", 6).String(); got != "1.5" {
		t.Fatalf("unexpected decimal: %s", got)
	}
	if got := ParseDecimalBaseUnits("garbage", 6).String(); got != "0" {
		t.Fatalf("expected zero for invalid input, got %s", got)
	}
}

func TestEtherToWei(t *testing.T) {
	wei, err := EtherToWei("0.01")
	if err != nil {
		t.Fatalf("EtherToWei failed: %v", err)
	}
	if wei.String() != "10000000000000000" {
		t.Fatalf("unexpected wei: %s", wei)
	}
	if _, err := EtherToWei("1e18"); err == nil {
		t.Fatal("expected format error")
	}
}
