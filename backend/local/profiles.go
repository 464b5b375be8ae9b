package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokutei-learning/tokutei/backend"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// newProfile builds the row the hosted signup trigger would insert from the
// identity's metadata.
func newProfile(user *backend.User, now time.Time) *backend.Profile {
	role, err := backend.ParseRole(user.UserMetadata["role"])
	if err != nil {
		role = backend.RoleStudent
	}
	p := &backend.Profile{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  user.UserMetadata["full_name"],
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if role == backend.RoleTeacher {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		plan := backend.PlanFree
		status := "active"
		maxStudents := 30
		p.TeacherCode = &code
		p.SubscriptionPlan = &plan
		p.SubscriptionStatus = &status
		p.MaxStudents = &maxStudents
		if org := user.UserMetadata["organization_name"]; org != "" {
			p.OrganizationName = &org
		}
	}
	return p
}

func insertProfile(ctx context.Context, db execer, p *backend.Profile) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO profiles (id, email, role, doc) VALUES (?, ?, ?, ?)`,
		p.ID, p.Email, string(p.Role), string(doc),
	); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// GetProfile returns the caller's own profile row. Rows of other users are
// invisible, as under the hosted row-level security policy.
func (b *Backend) GetProfile(ctx context.Context, accessToken, userID string) (*backend.Profile, error) {
	claims, err := b.authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if claims.Subject != userID {
		return nil, fmt.Errorf("%w: %s", backend.ErrProfileNotFound, userID)
	}
	return b.loadProfile(ctx, userID)
}

// UpdateProfile applies update to the caller's own profile row.
func (b *Backend) UpdateProfile(ctx context.Context, accessToken, userID string, update backend.ProfileUpdate) (*backend.Profile, error) {
	claims, err := b.authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if claims.Subject != userID {
		return nil, fmt.Errorf("%w: %s", backend.ErrProfileNotFound, userID)
	}

	p, err := b.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	update.Apply(p)
	p.UpdatedAt = b.now()

	doc, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, `UPDATE profiles SET doc = ? WHERE id = ?`, string(doc), userID); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	b.logger.Debug("profile updated", "user_id", userID)
	return p, nil
}

func (b *Backend) loadProfile(ctx context.Context, userID string) (*backend.Profile, error) {
	var doc string
	err := b.db.QueryRowContext(ctx, `SELECT doc FROM profiles WHERE id = ?`, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", backend.ErrProfileNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	var p backend.Profile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &p, nil
}
