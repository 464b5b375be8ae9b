package backend

import (
	"context"
	"fmt"
	"time"
)

// Role is the application role stored on a profile.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// ParseRole validates a raw role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStudent, RoleTeacher:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// SubscriptionPlan is the billing plan of a teacher account.
type SubscriptionPlan string

const (
	PlanFree  SubscriptionPlan = "free"
	PlanBasic SubscriptionPlan = "basic"
	PlanPro   SubscriptionPlan = "pro"
)

// User is the identity record issued by the auth API.
type User struct {
	ID               string            `json:"id"`
	Email            string            `json:"email"`
	EmailConfirmedAt *time.Time        `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UserMetadata     map[string]string `json:"user_metadata,omitempty"`
}

// Confirmed reports whether the user's email address has been confirmed.
func (u *User) Confirmed() bool {
	return u != nil && u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero()
}

// Profile is a row of the profiles table. Student and teacher specific
// attributes are optional.
type Profile struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name"`
	Role         Role       `json:"role"`
	AvatarURL    *string    `json:"avatar_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`

	PreferredLanguage *string `json:"preferred_language,omitempty"`
	LearningLevel     *string `json:"learning_level,omitempty"`

	OrganizationName   *string           `json:"organization_name,omitempty"`
	TeacherCode        *string           `json:"teacher_code,omitempty"`
	MaxStudents        *int              `json:"max_students,omitempty"`
	SubscriptionPlan   *SubscriptionPlan `json:"subscription_plan,omitempty"`
	SubscriptionStatus *string           `json:"subscription_status,omitempty"`
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.AvatarURL = cloneString(p.AvatarURL)
	c.PreferredLanguage = cloneString(p.PreferredLanguage)
	c.LearningLevel = cloneString(p.LearningLevel)
	c.OrganizationName = cloneString(p.OrganizationName)
	c.TeacherCode = cloneString(p.TeacherCode)
	c.SubscriptionStatus = cloneString(p.SubscriptionStatus)
	if p.LastActiveAt != nil {
		t := *p.LastActiveAt
		c.LastActiveAt = &t
	}
	if p.MaxStudents != nil {
		n := *p.MaxStudents
		c.MaxStudents = &n
	}
	if p.SubscriptionPlan != nil {
		plan := *p.SubscriptionPlan
		c.SubscriptionPlan = &plan
	}
	return &c
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.EmailConfirmedAt != nil {
		t := *u.EmailConfirmedAt
		c.EmailConfirmedAt = &t
	}
	if u.UserMetadata != nil {
		c.UserMetadata = make(map[string]string, len(u.UserMetadata))
		for k, v := range u.UserMetadata {
			c.UserMetadata[k] = v
		}
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ProfileUpdate carries a partial profile change. Nil fields are left
// untouched. Identity columns and the teacher code are not updatable.
type ProfileUpdate struct {
	FullName           *string           `json:"full_name,omitempty"`
	AvatarURL          *string           `json:"avatar_url,omitempty"`
	PreferredLanguage  *string           `json:"preferred_language,omitempty"`
	LearningLevel      *string           `json:"learning_level,omitempty"`
	OrganizationName   *string           `json:"organization_name,omitempty"`
	MaxStudents        *int              `json:"max_students,omitempty"`
	SubscriptionPlan   *SubscriptionPlan `json:"subscription_plan,omitempty"`
	SubscriptionStatus *string           `json:"subscription_status,omitempty"`
	LastActiveAt       *time.Time        `json:"last_active_at,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.FullName == nil && u.AvatarURL == nil && u.PreferredLanguage == nil &&
		u.LearningLevel == nil && u.OrganizationName == nil && u.MaxStudents == nil &&
		u.SubscriptionPlan == nil && u.SubscriptionStatus == nil && u.LastActiveAt == nil
}

// Apply writes the non-nil fields of u onto p.
func (u ProfileUpdate) Apply(p *Profile) {
	if u.FullName != nil {
		p.FullName = *u.FullName
	}
	if u.AvatarURL != nil {
		p.AvatarURL = cloneString(u.AvatarURL)
	}
	if u.PreferredLanguage != nil {
		p.PreferredLanguage = cloneString(u.PreferredLanguage)
	}
	if u.LearningLevel != nil {
		p.LearningLevel = cloneString(u.LearningLevel)
	}
	if u.OrganizationName != nil {
		p.OrganizationName = cloneString(u.OrganizationName)
	}
	if u.MaxStudents != nil {
		n := *u.MaxStudents
		p.MaxStudents = &n
	}
	if u.SubscriptionPlan != nil {
		plan := *u.SubscriptionPlan
		p.SubscriptionPlan = &plan
	}
	if u.SubscriptionStatus != nil {
		p.SubscriptionStatus = cloneString(u.SubscriptionStatus)
	}
	if u.LastActiveAt != nil {
		t := *u.LastActiveAt
		p.LastActiveAt = &t
	}
}

// AuthSession is the credential pair issued after a successful sign-in.
type AuthSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user,omitempty"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *AuthSession) Expired(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SignUpParams is the input of [Auth.SignUp]. Metadata is stored on the
// identity and copied into the profile row by the backend.
type SignUpParams struct {
	Email      string
	Password   string
	Metadata   map[string]string
	RedirectTo string
}

// SignUpResult carries whatever the backend returned for a sign-up. Session
// is nil when email confirmation is required; User may be nil as well.
type SignUpResult struct {
	User    *User
	Session *AuthSession
}

// OTPType names the kind of one-time token being verified.
type OTPType string

const (
	OTPEmail    OTPType = "email"
	OTPRecovery OTPType = "recovery"
)

// UserAttributes is the input of [Auth.UpdateUser].
type UserAttributes struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// Auth is the identity half of the backend.
type Auth interface {
	SignUp(ctx context.Context, params SignUpParams) (*SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*AuthSession, error)
	SignOut(ctx context.Context, accessToken string) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdateUser(ctx context.Context, accessToken string, attrs UserAttributes) (*User, error)
	GetUser(ctx context.Context, accessToken string) (*User, error)
	RefreshSession(ctx context.Context, refreshToken string) (*AuthSession, error)
	VerifyOTP(ctx context.Context, tokenHash string, typ OTPType) (*AuthSession, error)
}

// Profiles is the data half of the backend, scoped to the profiles table.
type Profiles interface {
	GetProfile(ctx context.Context, accessToken, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, accessToken, userID string, update ProfileUpdate) (*Profile, error)
}

// Backend combines both halves.
type Backend interface {
	Auth
	Profiles
}
