package domain

import (
	"fmt"
	"slices"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 currency code.
type Currency string

const (
	EUR Currency = "EUR"
	CHF Currency = "CHF"
	HKD Currency = "HKD"
	SEK Currency = "SEK"
	USD Currency = "USD"
	GBP Currency = "GBP"
	HUF Currency = "HUF"
	CZK Currency = "CZK"
	AUD Currency = "AUD"
	HRK Currency = "HRK"
	PLN Currency = "PLN"
)

// DefaultCurrency is used for new profiles.
const DefaultCurrency = EUR

// SupportedCurrencies is the set of currencies a transaction may use.
var SupportedCurrencies = []Currency{EUR, CHF, HKD, SEK, USD, GBP, HUF, CZK, AUD, HRK, PLN}

// Valid reports whether c is supported and a known ISO currency.
func (c Currency) Valid() bool {
	if !slices.Contains(SupportedCurrencies, c) {
		return false
	}
	return money.GetCurrency(string(c)) != nil
}

// Fraction returns the number of minor-unit digits of c (2 when unknown).
func (c Currency) Fraction() int {
	if cur := money.GetCurrency(string(c)); cur != nil {
		return cur.Fraction
	}
	return 2
}

// ComputeExchangeRate returns how many units of main one unit of from is worth,
// using rates quoted against a common base.
func ComputeExchangeRate(rates map[Currency]decimal.Decimal, from, main Currency) (decimal.Decimal, error) {
	fromRate, ok := rates[from]
	if !ok || fromRate.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrMissingRate, from)
	}
	mainRate, ok := rates[main]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrMissingRate, main)
	}
	return mainRate.Div(fromRate), nil
}
