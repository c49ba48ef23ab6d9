// Package model defines the core domain types shared across the exchange.
// Currency amounts use shopspring/decimal; token quantities and prices are
// whole units.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is one side of a binary event.
type Outcome string

const (
	Yes Outcome = "yes"
	No  Outcome = "no"
)

// Valid reports whether o is yes or no.
func (o Outcome) Valid() bool {
	return o == Yes || o == No
}

// Opposite returns the complementary outcome.
func (o Outcome) Opposite() Outcome {
	if o == Yes {
		return No
	}
	return Yes
}

// Origin tags how a resting order came to exist.
type Origin uint8

const (
	// Regular orders are explicit sells of owned inventory.
	Regular Origin = iota + 1
	// Minted orders are the unfilled remainder of a buy, backed by the
	// buyer's locked currency.
	Minted
)

func (o Origin) String() string {
	switch o {
	case Regular:
		return "regular"
	case Minted:
		return "minted"
	default:
		return fmt.Sprintf("origin(%d)", uint8(o))
	}
}

func (o Origin) MarshalJSON() ([]byte, error) {
	switch o {
	case Regular, Minted:
		return json.Marshal(o.String())
	default:
		return nil, fmt.Errorf("model: unknown origin %d", uint8(o))
	}
}

func (o *Origin) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseOrigin(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOrigin is the inverse of Origin.String.
func ParseOrigin(s string) (Origin, error) {
	switch s {
	case "regular":
		return Regular, nil
	case "minted":
		return Minted, nil
	default:
		return 0, fmt.Errorf("model: unknown origin %q", s)
	}
}

// Balance is a user's currency account.
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// TokenBalance is a user's holding of one outcome token.
type TokenBalance struct {
	Available int64 `json:"available"`
	Locked    int64 `json:"locked"`
}

// Position holds both outcome balances of one symbol.
type Position struct {
	Yes TokenBalance `json:"yes"`
	No  TokenBalance `json:"no"`
}

// Get returns the balance for outcome o.
func (p Position) Get(o Outcome) TokenBalance {
	if o == No {
		return p.No
	}
	return p.Yes
}

// Fill is one slice of resting liquidity taken from a price level.
type Fill struct {
	UserID   string `json:"user_id"`
	Quantity int64  `json:"quantity"`
	Origin   Origin `json:"origin"`
}

// Trade is an immutable record of one settled fill.
// Price is the price paid by the buyer on Outcome. Seq is assigned by the
// engine in settlement order and orders the journal.
type Trade struct {
	Seq       int64           `json:"seq" db:"seq"`
	ID        string          `json:"id" db:"id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Outcome   Outcome         `json:"outcome" db:"outcome"`
	Price     int64           `json:"price" db:"price"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	BuyerID   string          `json:"buyer_id" db:"buyer_id"`
	SellerID  string          `json:"seller_id" db:"seller_id"`
	Origin    Origin          `json:"origin" db:"origin"`
	Cost      decimal.Decimal `json:"cost" db:"cost"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// RestingOrder is a read-only view of one entry in a price level.
type RestingOrder struct {
	UserID   string `json:"user_id"`
	Quantity int64  `json:"quantity"`
	Origin   Origin `json:"origin"`
}

// PriceLevel is a read-only view of one price level. Resting is in
// consumption order.
type PriceLevel struct {
	Price   int64          `json:"price"`
	Total   int64          `json:"total"`
	Resting []RestingOrder `json:"resting"`
}

// OrderBook is a read-only view of one symbol's book, levels sorted by price.
type OrderBook struct {
	Symbol string       `json:"symbol"`
	Yes    []PriceLevel `json:"yes"`
	No     []PriceLevel `json:"no"`
}

// Level returns the level at price on outcome o, if present.
func (b OrderBook) Level(o Outcome, price int64) (PriceLevel, bool) {
	levels := b.Yes
	if o == No {
		levels = b.No
	}
	for _, l := range levels {
		if l.Price == price {
			return l, true
		}
	}
	return PriceLevel{}, false
}
