package domain

import "github.com/shopspring/decimal"

// Settings holds user preferences.
//
// Every transaction stores the rate of its currency against MainCurrency at the
// time it was saved, so changing MainCurrency changes the meaning of stored rates.
type Settings struct {
	MainCurrency    Currency `json:"mainCurrency"`
	DefaultCurrency Currency `json:"defaultCurrency"`
}

// ExchangeRates are quoted against Base on Date.
type ExchangeRates struct {
	Rates map[Currency]decimal.Decimal `json:"rates"`
	Base  Currency                     `json:"base"`
	Date  string                       `json:"date"`
}

// Profile is the single per-user settings document. ID always equals UID.
type Profile struct {
	ID            string        `json:"id"`
	UID           string        `json:"uid"`
	Settings      Settings      `json:"settings"`
	ExchangeRates ExchangeRates `json:"exchangeRates"`
}

// DefaultProfile is applied on sign-in so a profile exists even before the
// first snapshot of the user's data arrives.
func DefaultProfile(uid string) Profile {
	return Profile{
		ID:  uid,
		UID: uid,
		Settings: Settings{
			MainCurrency:    DefaultCurrency,
			DefaultCurrency: DefaultCurrency,
		},
		ExchangeRates: ExchangeRates{
			Rates: map[Currency]decimal.Decimal{
				EUR: decimal.NewFromInt(1),
				CHF: decimal.RequireFromString("1.0784"),
				HKD: decimal.RequireFromString("9.0882"),
				SEK: decimal.RequireFromString("10.2958"),
				USD: decimal.RequireFromString("1.1726"),
				GBP: decimal.RequireFromString("0.90013"),
				HUF: decimal.RequireFromString("345.72"),
				CZK: decimal.RequireFromString("26.319"),
				AUD: decimal.RequireFromString("1.6508"),
				HRK: decimal.RequireFromString("7.4755"),
				PLN: decimal.RequireFromString("4.4201"),
			},
			Base: EUR,
			Date: "2020-08-03",
		},
	}
}
