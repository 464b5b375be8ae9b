package tokutei

import (
	"github.com/tokutei-learning/tokutei/access"
	"github.com/tokutei-learning/tokutei/auth"
	"github.com/tokutei-learning/tokutei/backend"
)

// Phase is the coarse state of a store.
type Phase int

const (
	PhaseAnonymous Phase = iota
	PhaseLoading
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// State is the auth state of one browser client. IsAuthenticated is true
// exactly when User is set; Profile may be nil while authenticated.
type State struct {
	User            *backend.User
	Profile         *backend.Profile
	IsAuthenticated bool
	IsLoading       bool
	Error           *auth.Error
}

// Phase derives the phase of s. Loading wins over the other two.
func (s State) Phase() Phase {
	switch {
	case s.IsLoading:
		return PhaseLoading
	case s.IsAuthenticated:
		return PhaseAuthenticated
	default:
		return PhaseAnonymous
	}
}

// Access returns the role helper for s.
func (s State) Access() access.Checker {
	return access.New(s.IsAuthenticated, s.Profile)
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	return State{
		User:            s.User.Clone(),
		Profile:         s.Profile.Clone(),
		IsAuthenticated: s.IsAuthenticated,
		IsLoading:       s.IsLoading,
		Error:           s.Error.Clone(),
	}
}
