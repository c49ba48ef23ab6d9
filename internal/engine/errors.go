package engine

import "errors"

// Request and state errors. All of them are detected before any mutation.
var (
	ErrInvalidPrice          = errors.New("engine: price must be between 0 and 10")
	ErrInvalidQuantity       = errors.New("engine: quantity must be positive")
	ErrInvalidAmount         = errors.New("engine: amount must be a positive whole number")
	ErrInvalidOutcome        = errors.New("engine: outcome must be yes or no")
	ErrInvalidSymbol         = errors.New("engine: invalid symbol")
	ErrInvalidUserID         = errors.New("engine: user id is required")
	ErrUserNotFound          = errors.New("engine: user not found")
	ErrSymbolNotFound        = errors.New("engine: symbol not found")
	ErrInsufficientFunds     = errors.New("engine: insufficient balance")
	ErrInsufficientInventory = errors.New("engine: insufficient inventory")
	ErrAlreadyExists         = errors.New("engine: already exists")
)

// ErrSettlement means a ledger or book step failed after validation
// passed. It signals a broken invariant, not a bad request.
var ErrSettlement = errors.New("engine: settlement failed")
