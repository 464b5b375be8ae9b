package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// SessionID identifies one sign-in of one user.
type SessionID [16]byte

const (
	refreshTokenRawSize = 48
	refreshSecretSize   = 32
	linkTokenSize       = 32
)

// NewSessionID returns a random session id.
func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// ParseSessionID decodes the String form of a session id.
func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewRefreshToken returns an opaque refresh token bound to sessionID and the
// digest of its secret half. Only the digest is stored.
func NewRefreshToken(sessionID SessionID) (string, [32]byte, error) {
	var raw [refreshTokenRawSize]byte
	copy(raw[:len(sessionID)], sessionID[:])
	if _, err := rand.Read(raw[len(sessionID):]); err != nil {
		return "", [32]byte{}, err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), sha256.Sum256(raw[len(sessionID):]), nil
}

// DecodeRefreshToken splits a refresh token into its session id and the
// digest of its secret half.
func DecodeRefreshToken(token string) (SessionID, [32]byte, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return sid, [32]byte{}, err
	}
	if len(raw) != refreshTokenRawSize {
		return sid, [32]byte{}, errors.New("invalid refresh token size")
	}

	copy(sid[:], raw[:len(sid)])
	return sid, sha256.Sum256(raw[len(sid):]), nil
}

// NewLinkToken returns a random token for an emailed confirmation or
// recovery link, and the digest under which it is stored.
func NewLinkToken() (string, [32]byte, error) {
	var raw [linkTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", [32]byte{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(raw[:])
	return token, HashLinkToken(token), nil
}

// HashLinkToken returns the storage digest of a link token.
func HashLinkToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}
