package domain

import "errors"

var (
	// ErrNoUserID is returned when an operation needs a signed-in user.
	ErrNoUserID = errors.New("no user id, try to sign in again")

	// ErrUserDataNotLoaded is returned when profile settings are needed but not yet loaded.
	ErrUserDataNotLoaded = errors.New("user data not loaded yet")

	// ErrUnknownRepeating marks a transaction with a repeating mode the engine does not know.
	ErrUnknownRepeating = errors.New("unknown repeating mode")

	// ErrMissingRate is returned when an exchange rate for a currency is unavailable.
	ErrMissingRate = errors.New("missing exchange rate")
)
