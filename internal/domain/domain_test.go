package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepeating(t *testing.T) {
	for _, r := range RepeatingModes {
		got, err := ParseRepeating(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	_, err := ParseRepeating("hourly")
	assert.True(t, errors.Is(err, ErrUnknownRepeating))
}

func TestRepeating_Active(t *testing.T) {
	tests := []struct {
		mode Repeating
		want bool
	}{
		{RepeatingNone, false},
		{RepeatingInactive, false},
		{RepeatingDaily, true},
		{RepeatingWeekly, true},
		{RepeatingMonthly, true},
		{RepeatingAnnually, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.mode.Active())
		})
	}
}

func TestMigrateLegacyType(t *testing.T) {
	yes, no := true, false

	assert.Equal(t, TypeExpense, Transaction{IsExpense: &yes}.MigrateLegacyType().Type)
	assert.Equal(t, TypeIncome, Transaction{IsExpense: &no}.MigrateLegacyType().Type)
	assert.Equal(t, TypeIncome, Transaction{}.MigrateLegacyType().Type)
	assert.Equal(t, TypeTransfer, Transaction{Type: TypeTransfer, IsExpense: &yes}.MigrateLegacyType().Type)
}

func TestTransaction_CloneIsDeep(t *testing.T) {
	rate := decimal.NewFromInt(2)
	orig := Transaction{TagIDs: []string{"a"}, AttachedFiles: []string{"f"}, Rate: &rate}

	c := orig.Clone()
	c.TagIDs[0] = "b"
	c.AttachedFiles[0] = "g"
	*c.Rate = decimal.NewFromInt(3)

	assert.Equal(t, "a", orig.TagIDs[0])
	assert.Equal(t, "f", orig.AttachedFiles[0])
	assert.True(t, orig.Rate.Equal(decimal.NewFromInt(2)))
}

func TestCurrency_Valid(t *testing.T) {
	assert.True(t, EUR.Valid())
	assert.True(t, USD.Valid())
	assert.False(t, Currency("JPY").Valid(), "known ISO code but not supported")
	assert.False(t, Currency("XXX1").Valid())
	assert.Equal(t, 2, EUR.Fraction())
}

func TestComputeExchangeRate(t *testing.T) {
	rates := DefaultProfile("u1").ExchangeRates.Rates

	r, err := ComputeExchangeRate(rates, EUR, EUR)
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.NewFromInt(1)))

	r, err = ComputeExchangeRate(rates, USD, EUR)
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.NewFromInt(1).Div(decimal.RequireFromString("1.1726"))))

	_, err = ComputeExchangeRate(rates, Currency("JPY"), EUR)
	assert.True(t, errors.Is(err, ErrMissingRate))
}

func TestState_CurrentProfile(t *testing.T) {
	s := NewState()
	_, ok := s.CurrentProfile()
	assert.False(t, ok)

	s.UID = "u1"
	s.Profile = map[string]Profile{"u1": DefaultProfile("u1")}
	p, ok := s.CurrentProfile()
	require.True(t, ok)
	assert.Equal(t, EUR, p.Settings.MainCurrency)
}
