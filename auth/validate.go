package auth

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tokutei-learning/tokutei/backend"
)

// LoginForm is the login form as submitted.
type LoginForm struct {
	Email    string `json:"email" validate:"notblank,email"`
	Password string `json:"password" validate:"min=8"`
}

// SignupForm is the sign-up form as submitted. OrganizationName is required
// for teachers only.
type SignupForm struct {
	FullName         string `json:"full_name" validate:"notblank"`
	Email            string `json:"email" validate:"notblank,email"`
	Password         string `json:"password" validate:"min=8"`
	ConfirmPassword  string `json:"confirm_password" validate:"required"`
	Role             string `json:"role" validate:"oneof=student teacher"`
	OrganizationName string `json:"organization_name"`
}

// Request converts a validated form into a [SignupRequest].
func (f SignupForm) Request() SignupRequest {
	req := SignupRequest{
		Email:    strings.TrimSpace(f.Email),
		Password: f.Password,
		FullName: strings.TrimSpace(f.FullName),
		Role:     backend.Role(f.Role),
	}
	if req.Role == backend.RoleTeacher {
		req.OrganizationName = strings.TrimSpace(f.OrganizationName)
	}
	return req
}

// ResetForm is the password reset request form.
type ResetForm struct {
	Email string `json:"email" validate:"notblank,email"`
}

// PasswordForm sets a new password after following a recovery link.
type PasswordForm struct {
	Password        string `json:"password" validate:"min=8"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// ProfileForm is the editable part of the profile page.
type ProfileForm struct {
	FullName          string `json:"full_name" validate:"notblank"`
	PreferredLanguage string `json:"preferred_language"`
	LearningLevel     string `json:"learning_level"`
	OrganizationName  string `json:"organization_name"`
}

// Update converts the form into a profile update. Empty optional fields are
// left untouched.
func (f ProfileForm) Update() backend.ProfileUpdate {
	name := strings.TrimSpace(f.FullName)
	u := backend.ProfileUpdate{FullName: &name}
	if v := strings.TrimSpace(f.PreferredLanguage); v != "" {
		u.PreferredLanguage = &v
	}
	if v := strings.TrimSpace(f.LearningLevel); v != "" {
		u.LearningLevel = &v
	}
	if v := strings.TrimSpace(f.OrganizationName); v != "" {
		u.OrganizationName = &v
	}
	return u
}

// FieldErrors maps a form field name to the message shown beside it.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fe[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

const (
	notBlankTag    = "notblank"
	passwordsTag   = "passwords_match"
	orgRequiredTag = "org_required"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && strings.TrimSpace(s) != ""
	})
	validate.RegisterStructValidation(signupStructValidation, SignupForm{})
	validate.RegisterStructValidation(passwordStructValidation, PasswordForm{})
}

func passwordStructValidation(sl validator.StructLevel) {
	f, ok := sl.Current().Interface().(PasswordForm)
	if ok && f.ConfirmPassword != "" && f.Password != f.ConfirmPassword {
		sl.ReportError(f.ConfirmPassword, "confirm_password", "ConfirmPassword", passwordsTag, "")
	}
}

func signupStructValidation(sl validator.StructLevel) {
	f, ok := sl.Current().Interface().(SignupForm)
	if !ok {
		return
	}
	if f.ConfirmPassword != "" && f.Password != f.ConfirmPassword {
		sl.ReportError(f.ConfirmPassword, "confirm_password", "ConfirmPassword", passwordsTag, "")
	}
	if f.Role == string(backend.RoleTeacher) && strings.TrimSpace(f.OrganizationName) == "" {
		sl.ReportError(f.OrganizationName, "organization_name", "OrganizationName", orgRequiredTag, "")
	}
}

// messages holds the text per field and tag.
var messages = map[string]map[string]string{
	"email": {
		notBlankTag: "メールアドレスを入力してください",
		"email":     "有効なメールアドレスを入力してください",
	},
	"password": {
		"min": "パスワードは8文字以上で入力してください",
	},
	"confirm_password": {
		"required":   "パスワード（確認）を入力してください",
		passwordsTag: "パスワードが一致しません",
	},
	"full_name": {
		notBlankTag: "氏名を入力してください",
	},
	"role": {
		"oneof": "役割を選択してください",
	},
	"organization_name": {
		orgRequiredTag: "組織名を入力してください",
	},
}

// Validate checks a form struct and returns FieldErrors, or nil when the
// form is valid. Only the first failure per field is reported.
func Validate(form any) FieldErrors {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"_": err.Error()}
	}
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out[field]; seen {
			continue
		}
		msg := messages[field][fe.Tag()]
		if msg == "" {
			msg = "入力内容を確認してください"
		}
		out[field] = msg
	}
	return out
}
