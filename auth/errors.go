package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tokutei-learning/tokutei/backend"
)

// Kind classifies an [Error].
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidCredentials
	KindEmailNotConfirmed
	KindAlreadyRegistered
	KindWeakPassword
	KindInvalidEmail
	KindSignupDisabled
	KindDatabase
	KindConfirmationRequired
	KindNotAuthenticated
	KindTokenExpired
	KindInvalidLink
	KindProfileNotFound
	KindTransport
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindInvalidCredentials:   "invalid_credentials",
	KindEmailNotConfirmed:    "email_not_confirmed",
	KindAlreadyRegistered:    "already_registered",
	KindWeakPassword:         "weak_password",
	KindInvalidEmail:         "invalid_email",
	KindSignupDisabled:       "signup_disabled",
	KindDatabase:             "database",
	KindConfirmationRequired: "email_confirmation_required",
	KindNotAuthenticated:     "not_authenticated",
	KindTokenExpired:         "token_expired",
	KindInvalidLink:          "invalid_link",
	KindProfileNotFound:      "profile_not_found",
	KindTransport:            "transport",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the only error type returned by [Client]. Message is ready to
// show to the user.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Code    string
	// Raw is the backend's own message, when there was one.
	Raw string

	cause error
}

// Kind sentinels for errors.Is. Only Kind is compared.
var (
	ErrInvalidCredentials   = &Error{Kind: KindInvalidCredentials}
	ErrEmailNotConfirmed    = &Error{Kind: KindEmailNotConfirmed}
	ErrAlreadyRegistered    = &Error{Kind: KindAlreadyRegistered}
	ErrWeakPassword         = &Error{Kind: KindWeakPassword}
	ErrInvalidEmail         = &Error{Kind: KindInvalidEmail}
	ErrSignupDisabled       = &Error{Kind: KindSignupDisabled}
	ErrDatabase             = &Error{Kind: KindDatabase}
	ErrConfirmationRequired = &Error{Kind: KindConfirmationRequired}
	ErrNotAuthenticated     = &Error{Kind: KindNotAuthenticated}
	ErrTokenExpired         = &Error{Kind: KindTokenExpired}
	ErrInvalidLink          = &Error{Kind: KindInvalidLink}
	ErrProfileNotFound      = &Error{Kind: KindProfileNotFound}
	ErrTransport            = &Error{Kind: KindTransport}
)

func (e *Error) Error() string {
	if e.Message == "" {
		return "auth: " + e.Kind.String()
	}
	return e.Message
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Type returns the wire tag of the error kind, e.g. "email_confirmation_required".
func (e *Error) Type() string {
	return e.Kind.String()
}

// Fatal reports whether the error means the action failed. Confirmation
// required is a successful sign-up that cannot sign in yet.
func (e *Error) Fatal() bool {
	return e != nil && e.Kind != KindConfirmationRequired
}

// Clone returns a copy of e.
func (e *Error) Clone() *Error {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func newError(kind Kind, message string, cause error) *Error {
	e := &Error{Kind: kind, Message: message, cause: cause}
	if be, ok := backend.AsError(cause); ok {
		e.Status = be.Status
		e.Code = be.Code
		e.Raw = be.Message
	}
	return e
}

// isTransport reports whether err is a failure to talk to the backend at
// all rather than a rejection by it.
func isTransport(err error) bool {
	if _, ok := backend.AsError(err); ok {
		return false
	}
	if errors.Is(err, backend.ErrNoSession) || errors.Is(err, backend.ErrProfileNotFound) {
		return false
	}
	return true
}

func mapSignupError(err error) *Error {
	be, ok := backend.AsError(err)
	if !ok {
		return newError(KindTransport, msgSignupUnexpected, err)
	}
	switch {
	case strings.Contains(be.Message, "User already registered"):
		return newError(KindAlreadyRegistered, msgAlreadyRegistered, err)
	case strings.Contains(be.Message, "Password should be at least"):
		return newError(KindWeakPassword, msgWeakPassword, err)
	case strings.Contains(be.Message, "Unable to validate email address"):
		return newError(KindInvalidEmail, msgInvalidEmail, err)
	case strings.Contains(be.Message, "signup is disabled"):
		return newError(KindSignupDisabled, msgSignupDisabled, err)
	case strings.Contains(be.Message, "Database error"):
		return newError(KindDatabase, "データベースエラー: "+be.Message, err)
	}
	base := be.Message
	if base == "" {
		base = msgSignupFailed
	}
	code := be.Code
	if code == "" {
		code = "unknown"
	}
	return newError(KindUnknown, fmt.Sprintf("%s (コード: %s)", base, code), err)
}

func mapLoginError(err error) *Error {
	be, ok := backend.AsError(err)
	if !ok {
		return newError(KindTransport, msgLoginUnexpected, err)
	}
	switch {
	case strings.Contains(be.Message, "Email not confirmed"):
		return newError(KindEmailNotConfirmed, msgEmailNotConfirmed, err)
	case strings.Contains(be.Message, "Invalid login credentials"):
		return newError(KindInvalidCredentials, msgInvalidCredentials, err)
	}
	if be.Message == "" {
		return newError(KindUnknown, msgLoginFailed, err)
	}
	return newError(KindUnknown, be.Message, err)
}

func mapVerifyError(err error) *Error {
	be, ok := backend.AsError(err)
	if !ok {
		return newError(KindTransport, msgVerifyUnexpected, err)
	}
	switch {
	case strings.Contains(be.Message, "Token has expired"):
		return newError(KindTokenExpired, msgTokenExpired, err)
	case strings.Contains(be.Message, "Token not found"):
		return newError(KindInvalidLink, msgInvalidLink, err)
	}
	return newError(KindUnknown, be.Message, err)
}

// mapPassThrough keeps the backend's message for rejections and uses
// unexpected for everything else.
func mapPassThrough(err error, unexpected string) *Error {
	switch {
	case errors.Is(err, backend.ErrNoSession):
		return newError(KindNotAuthenticated, msgNotAuthenticated, err)
	case errors.Is(err, backend.ErrProfileNotFound):
		return newError(KindProfileNotFound, msgProfileNotFound, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), isTransport(err):
		return newError(KindTransport, unexpected, err)
	}
	be, _ := backend.AsError(err)
	if strings.Contains(be.Message, "Password should be at least") {
		return newError(KindWeakPassword, msgWeakPassword, err)
	}
	return newError(KindUnknown, be.Message, err)
}

// NotAuthenticated returns the error reported when an action needs a
// signed-in user and there is none.
func NotAuthenticated() *Error {
	return newError(KindNotAuthenticated, msgNotAuthenticated, backend.ErrNoSession)
}
