package session

import (
	"fmt"

	"github.com/yoockh/closingdesk/internal/models"
)

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateAnonymous
	StateProfilePending
	StateProfileLoaded
	StateProfileMissing
)

var stateNames = map[State]string{
	StateUninitialized:  "uninitialized",
	StateLoading:        "loading",
	StateAnonymous:      "anonymous",
	StateProfilePending: "authenticated_profile_pending",
	StateProfileLoaded:  "authenticated_profile_loaded",
	StateProfileMissing: "authenticated_profile_missing",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Authenticated reports whether a user is attached, with or without a profile.
func (s State) Authenticated() bool {
	return s == StateProfilePending || s == StateProfileLoaded || s == StateProfileMissing
}

// Settled reports whether no session or profile load is outstanding.
func (s State) Settled() bool {
	return s == StateAnonymous || s == StateProfileLoaded || s == StateProfileMissing
}

// Snapshot is an immutable copy of the resolver state.
type Snapshot struct {
	State        State            `json:"state"`
	Loading      bool             `json:"loading"`
	User         *models.Identity `json:"user"`
	Profile      *models.Profile  `json:"profile"`
	Role         models.Role      `json:"role"`
	ProfileErr   error            `json:"-"`
	ProfileError string           `json:"profile_error,omitempty"`
}
