package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType tells whether money left, entered or moved between the user's accounts.
type TransactionType string

const (
	TypeExpense  TransactionType = "expense"
	TypeIncome   TransactionType = "income"
	TypeTransfer TransactionType = "transfer"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeExpense, TypeIncome, TypeTransfer:
		return true
	}
	return false
}

// Repeating is the recurrence mode of a transaction.
type Repeating string

const (
	RepeatingNone     Repeating = "none"
	RepeatingInactive Repeating = "inactive"
	RepeatingDaily    Repeating = "daily"
	RepeatingWeekly   Repeating = "weekly"
	RepeatingMonthly  Repeating = "monthly"
	RepeatingAnnually Repeating = "annually"
)

// RepeatingModes lists every supported repeating mode.
var RepeatingModes = []Repeating{
	RepeatingNone,
	RepeatingInactive,
	RepeatingDaily,
	RepeatingWeekly,
	RepeatingMonthly,
	RepeatingAnnually,
}

// Valid reports whether r is a supported repeating mode.
func (r Repeating) Valid() bool {
	return slices.Contains(RepeatingModes, r)
}

// Active reports whether r still produces new instances.
func (r Repeating) Active() bool {
	switch r {
	case RepeatingDaily, RepeatingWeekly, RepeatingMonthly, RepeatingAnnually:
		return true
	}
	return false
}

// ParseRepeating converts s into a Repeating, rejecting unknown modes.
func ParseRepeating(s string) (Repeating, error) {
	r := Repeating(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRepeating, s)
	}
	return r, nil
}

// Transaction is a single money movement owned by one user.
// It mirrors the document stored in the remote "transactions" collection.
type Transaction struct {
	ID            string           `json:"id"`
	UID           string           `json:"uid"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      Currency         `json:"currency"`
	Type          TransactionType  `json:"type,omitempty"`
	TagIDs        []string         `json:"tagIds"`
	Note          string           `json:"note"`
	DateTime      time.Time        `json:"dateTime"`
	Repeating     Repeating        `json:"repeating"`
	AttachedFiles []string         `json:"attachedFiles,omitempty"`
	Rate          *decimal.Decimal `json:"rate,omitempty"`

	// IsExpense is only present on records written by old clients, before Type existed.
	IsExpense *bool `json:"isExpense,omitempty"`
}

// Clone returns a deep copy so callers can change slices without touching shared state.
func (t Transaction) Clone() Transaction {
	c := t
	c.TagIDs = slices.Clone(t.TagIDs)
	c.AttachedFiles = slices.Clone(t.AttachedFiles)
	if t.Rate != nil {
		r := *t.Rate
		c.Rate = &r
	}
	if t.IsExpense != nil {
		b := *t.IsExpense
		c.IsExpense = &b
	}
	return c
}

// MigrateLegacyType fills Type from the legacy IsExpense flag when Type is missing.
func (t Transaction) MigrateLegacyType() Transaction {
	if t.Type != "" {
		return t
	}
	if t.IsExpense != nil && *t.IsExpense {
		t.Type = TypeExpense
	} else {
		t.Type = TypeIncome
	}
	return t
}
