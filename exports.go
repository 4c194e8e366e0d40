package tally

import "github.com/tallyhq/tally/types"

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Currency is re-exported from types package.
type Currency = types.Currency

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export common currencies
const (
	USD = types.USD
	EUR = types.EUR
	GBP = types.GBP
	JPY = types.JPY
)

// Re-export Money constructors
var (
	NewMoney = types.NewMoney
	Zero     = types.Zero
	Sum      = types.Sum
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
