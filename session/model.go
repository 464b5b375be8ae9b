package session

import (
	"time"

	"github.com/tokutei-learning/tokutei/backend"
)

// Snapshot is the persisted subset of a client's auth state.
type Snapshot struct {
	User            *backend.User
	Profile         *backend.Profile
	IsAuthenticated bool

	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	SavedAt time.Time
}

// AuthSession rebuilds the backend session carried by s, or nil when s holds
// no tokens.
func (s *Snapshot) AuthSession() *backend.AuthSession {
	if s == nil || s.AccessToken == "" {
		return nil
	}
	return &backend.AuthSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		User:         s.User.Clone(),
	}
}
