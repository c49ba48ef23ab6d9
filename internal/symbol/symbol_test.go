package symbol

import (
	"errors"
	"testing"
)

func TestValidate_Valid(t *testing.T) {
	for _, name := range []string{"IND_BNG", "X", "BTC-100K-2025", "ELECTION2024"} {
		if err := Validate(name); err != nil {
			t.Errorf("unexpected error for %q: %v", name, err)
		}
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []string{
		"",
		"ind_bng", // lower case
		"_IND",    // leading underscore
		"IND BNG",
		"IND/BNG",
		"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456",
	}
	for _, name := range tests {
		err := Validate(name)
		if !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("expected ErrInvalidSymbol for %q, got %v", name, err)
		}
	}
}

func TestValidatePrice_Bounds(t *testing.T) {
	for _, p := range []int64{0, 1, 5, 9, 10} {
		if err := ValidatePrice(p); err != nil {
			t.Errorf("price %d should be valid, got %v", p, err)
		}
	}
	for _, p := range []int64{-1, 11, 100} {
		if !errors.Is(ValidatePrice(p), ErrInvalidPrice) {
			t.Errorf("price %d should be rejected", p)
		}
	}
}

func TestComplement_SumsToSettlementValue(t *testing.T) {
	for p := MinPrice; p <= MaxPrice; p++ {
		c := Complement(p)
		if p+c != SettlementValue {
			t.Errorf("complement of %d is %d, sum %d", p, c, p+c)
		}
		if err := ValidatePrice(c); err != nil {
			t.Errorf("complement %d of %d out of range", c, p)
		}
	}
}
