package domain

// SignInStatus is the sync status exposed to the UI layer.
type SignInStatus string

const (
	StatusUnknown   SignInStatus = "unknown"
	StatusSigningIn SignInStatus = "signing-in"
	StatusLive      SignInStatus = "live"
	StatusSignedOut SignInStatus = "signed-out"
)

// SerializableState is the part of the replica that is backed up and exported.
type SerializableState struct {
	Tags         map[string]Tag         `json:"tags"`
	Transactions map[string]Transaction `json:"transactions"`
	Profile      map[string]Profile     `json:"profile"`
}

// FilterProgram is a saved filter stored as a file in the user's storage.
type FilterProgram struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// State is the local replica plus transient sync metadata.
//
// Maps inside a State are never mutated after the State is published; every
// change produces new maps.
type State struct {
	SerializableState

	UID          string          `json:"uid,omitempty"`
	Status       SignInStatus    `json:"status"`
	Online       bool            `json:"online"`
	Loaded       bool            `json:"loaded"`
	Filters      []FilterProgram `json:"filters,omitempty"`
	FiltersError string          `json:"filtersError,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
}

// NewState returns an empty, signed-out replica.
func NewState() State {
	return State{
		SerializableState: EmptySerializable(),
		Status:            StatusUnknown,
	}
}

// EmptySerializable returns a SerializableState with all three maps allocated.
func EmptySerializable() SerializableState {
	return SerializableState{
		Tags:         map[string]Tag{},
		Transactions: map[string]Transaction{},
		Profile:      map[string]Profile{},
	}
}

// CurrentProfile returns the profile of the signed-in user.
func (s State) CurrentProfile() (Profile, bool) {
	if s.UID == "" {
		return Profile{}, false
	}
	p, ok := s.Profile[s.UID]
	return p, ok
}

// Serializable returns the backed-up part of the state.
func (s State) Serializable() SerializableState {
	return s.SerializableState
}
