// Package symbol holds the naming rules for tradable symbols and the
// integer price domain shared by both outcomes of a symbol.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
)

// SettlementValue is what one yes token plus one no token are worth together.
const SettlementValue int64 = 10

// Price bounds, inclusive.
const (
	MinPrice int64 = 0
	MaxPrice int64 = SettlementValue
)

// nameRegex matches upper-case symbols such as IND_BNG or BTC-100K-2025.
var nameRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{0,31}$`)

var (
	ErrInvalidSymbol = errors.New("symbol: invalid symbol")
	ErrInvalidPrice  = errors.New("symbol: price out of range")
)

// Validate checks a symbol name.
func Validate(name string) error {
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q (expected 1-32 of A-Z, 0-9, '_' or '-')", ErrInvalidSymbol, name)
	}
	return nil
}

// ValidatePrice checks that price lies in [MinPrice, MaxPrice].
func ValidatePrice(price int64) error {
	if price < MinPrice || price > MaxPrice {
		return fmt.Errorf("%w: %d (expected %d..%d)", ErrInvalidPrice, price, MinPrice, MaxPrice)
	}
	return nil
}

// Complement returns the price of the opposite outcome such that both
// prices add up to SettlementValue.
func Complement(price int64) int64 {
	return SettlementValue - price
}
