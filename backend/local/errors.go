package local

import (
	"net/http"

	"github.com/tokutei-learning/tokutei/backend"
)

// Rejections carry the hosted API's own wording so that auth maps both
// backends identically.
var (
	errUserExists = &backend.Error{Status: http.StatusUnprocessableEntity, Code: "user_already_exists", Message: "User already registered"}
	errWeakPass   = &backend.Error{Status: http.StatusUnprocessableEntity, Code: "weak_password", Message: "Password should be at least 8 characters."}
	errBadEmail   = &backend.Error{Status: http.StatusBadRequest, Code: "validation_failed", Message: "Unable to validate email address: invalid format"}
	errNoSignup   = &backend.Error{Status: http.StatusUnprocessableEntity, Code: "signup_disabled", Message: "signup is disabled"}
	errBadLogin   = &backend.Error{Status: http.StatusBadRequest, Code: "invalid_credentials", Message: "Invalid login credentials"}
	errNotConfirm = &backend.Error{Status: http.StatusBadRequest, Code: "email_not_confirmed", Message: "Email not confirmed"}
	errBadJWT     = &backend.Error{Status: http.StatusForbidden, Code: "bad_jwt", Message: "invalid JWT: unable to parse or verify signature"}
	errNoSession  = &backend.Error{Status: http.StatusForbidden, Code: "session_not_found", Message: "Session from session_id claim in JWT does not exist"}
	errBadRefresh = &backend.Error{Status: http.StatusBadRequest, Code: "refresh_token_not_found", Message: "Invalid Refresh Token: Refresh Token Not Found"}
	errOTPExpired = &backend.Error{Status: http.StatusForbidden, Code: "otp_expired", Message: "Token has expired or is invalid"}
	errOTPMissing = &backend.Error{Status: http.StatusNotFound, Code: "otp_not_found", Message: "Token not found"}
)

// rejection returns a fresh copy so callers cannot mutate the shared value.
func rejection(e *backend.Error) error {
	c := *e
	return &c
}
