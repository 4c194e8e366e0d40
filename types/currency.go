package types

import (
	"fmt"
	"strings"
)

// Currency is an ISO 4217 uppercase currency code: "USD", "EUR", "GBP".
type Currency string

// Currencies supported out of the box.
const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	JPY Currency = "JPY"
	CAD Currency = "CAD"
	AUD Currency = "AUD"
	CHF Currency = "CHF"
	BRL Currency = "BRL"
	MXN Currency = "MXN"
	KRW Currency = "KRW"
)

// CurrencyInfo describes a currency's formatting properties.
type CurrencyInfo struct {
	Code     Currency
	Decimals int // minor-unit decimal places (2 for USD, 0 for JPY)
	Symbol   string
}

// CurrencyTable maps currency codes to their formatting properties.
// Build one at process start and pass it by reference where needed;
// Money formatting falls back to the default table.
type CurrencyTable struct {
	byCode map[Currency]CurrencyInfo
}

// NewCurrencyTable builds a table from the given entries.
func NewCurrencyTable(entries ...CurrencyInfo) *CurrencyTable {
	t := &CurrencyTable{byCode: make(map[Currency]CurrencyInfo, len(entries))}
	for _, e := range entries {
		t.byCode[e.Code] = e
	}
	return t
}

// DefaultCurrencies returns a table covering the currencies declared above.
func DefaultCurrencies() *CurrencyTable {
	return NewCurrencyTable(
		CurrencyInfo{USD, 2, "$"},
		CurrencyInfo{EUR, 2, "€"},
		CurrencyInfo{GBP, 2, "£"},
		CurrencyInfo{JPY, 0, "¥"},
		CurrencyInfo{CAD, 2, "C$"},
		CurrencyInfo{AUD, 2, "A$"},
		CurrencyInfo{CHF, 2, "CHF "},
		CurrencyInfo{BRL, 2, "R$"},
		CurrencyInfo{MXN, 2, "MX$"},
		CurrencyInfo{KRW, 0, "₩"},
	)
}

// Parse normalizes and validates a currency code against the table.
func (t *CurrencyTable) Parse(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := t.byCode[c]; !ok {
		return "", fmt.Errorf("types: unknown currency %q", code)
	}
	return c, nil
}

// Info returns the formatting info for a currency.
func (t *CurrencyTable) Info(c Currency) (CurrencyInfo, bool) {
	info, ok := t.byCode[c]
	return info, ok
}

// Contains reports whether the table knows the currency.
func (t *CurrencyTable) Contains(c Currency) bool {
	_, ok := t.byCode[c]
	return ok
}

// Codes returns all known codes, unordered.
func (t *CurrencyTable) Codes() []Currency {
	out := make([]Currency, 0, len(t.byCode))
	for c := range t.byCode {
		out = append(out, c)
	}
	return out
}

var defaultTable = DefaultCurrencies()

func (c Currency) info() CurrencyInfo {
	if info, ok := defaultTable.Info(c); ok {
		return info
	}
	return CurrencyInfo{Code: c, Decimals: 2, Symbol: string(c) + " "}
}
