// Package access answers role questions about a session state. It is pure:
// a [Checker] is a value built from a snapshot and never changes.
//
// A missing profile fails every role check, even for an authenticated user.
package access

import (
	"errors"
	"fmt"

	"github.com/tokutei-learning/tokutei/backend"
)

// ErrUnauthorized is wrapped by every [RoleError].
var ErrUnauthorized = errors.New("unauthorized")

// RoleError reports which role was required and which was present.
type RoleError struct {
	Required backend.Role
	Actual   backend.Role
}

func (e *RoleError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("unauthorized: role %s required, no role present", e.Required)
	}
	return fmt.Sprintf("unauthorized: role %s required, have %s", e.Required, e.Actual)
}

func (e *RoleError) Unwrap() error {
	return ErrUnauthorized
}

// Options are the conditions of [Checker.CanAccess]. All set conditions
// must hold.
type Options struct {
	RequiredRole backend.Role
	AllowedRoles []backend.Role
	Condition    func(*backend.Profile) bool
}

// Checker evaluates role rules against one state snapshot.
type Checker struct {
	authenticated bool
	profile       *backend.Profile
}

// New returns a Checker for the given state.
func New(isAuthenticated bool, profile *backend.Profile) Checker {
	return Checker{authenticated: isAuthenticated, profile: profile}
}

// Role returns the profile's role. ok is false when there is no
// authenticated profile.
func (c Checker) Role() (backend.Role, bool) {
	if !c.authenticated || c.profile == nil {
		return "", false
	}
	return c.profile.Role, true
}

// IsStudent reports whether the profile role is student.
func (c Checker) IsStudent() bool {
	return c.HasRole(backend.RoleStudent)
}

// IsTeacher reports whether the profile role is teacher.
func (c Checker) IsTeacher() bool {
	return c.HasRole(backend.RoleTeacher)
}

// HasRole reports whether the profile role is one of roles.
func (c Checker) HasRole(roles ...backend.Role) bool {
	role, ok := c.Role()
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanAccess reports whether every condition in opts holds. It is always
// false for an unauthenticated state. Without a profile only role
// conditions fail; Condition is called with a nil profile.
func (c Checker) CanAccess(opts Options) bool {
	if !c.authenticated {
		return false
	}
	if opts.RequiredRole != "" && !c.HasRole(opts.RequiredRole) {
		return false
	}
	if len(opts.AllowedRoles) > 0 && !c.HasRole(opts.AllowedRoles...) {
		return false
	}
	if opts.Condition != nil && !opts.Condition(c.profile) {
		return false
	}
	return true
}

// RequireRole returns a *RoleError unless the profile has role.
func (c Checker) RequireRole(role backend.Role) error {
	if c.HasRole(role) {
		return nil
	}
	actual, _ := c.Role()
	return &RoleError{Required: role, Actual: actual}
}
