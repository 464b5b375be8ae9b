package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tokutei-learning/tokutei/backend"
)

// Seed is a fixture file of accounts to create.
type Seed struct {
	Users []SeedUser `yaml:"users"`
}

// SeedUser is one fixture account.
type SeedUser struct {
	Email            string       `yaml:"email"`
	Password         string       `yaml:"password"`
	FullName         string       `yaml:"full_name"`
	Role             backend.Role `yaml:"role"`
	Confirmed        bool         `yaml:"confirmed"`
	OrganizationName string       `yaml:"organization_name,omitempty"`
}

// DefaultSeed returns the accounts test mode starts with.
func DefaultSeed() Seed {
	return Seed{Users: []SeedUser{
		{Email: "unconfirmed@example.com", Password: "password123", FullName: "未確認ユーザー", Role: backend.RoleStudent},
		{Email: "confirmed@example.com", Password: "password123", FullName: "確認済みユーザー", Role: backend.RoleStudent, Confirmed: true},
		{Email: "teacher@example.com", Password: "password123", FullName: "確認済み講師", Role: backend.RoleTeacher, Confirmed: true, OrganizationName: "TOKUTEI学院"},
	}}
}

// ParseSeed decodes a YAML fixture file.
func ParseSeed(data []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	for i, u := range s.Users {
		if u.Email == "" || u.Password == "" {
			return Seed{}, fmt.Errorf("seed user %d: email and password are required", i)
		}
		if u.Role == "" {
			s.Users[i].Role = backend.RoleStudent
			continue
		}
		if _, err := backend.ParseRole(string(u.Role)); err != nil {
			return Seed{}, fmt.Errorf("seed user %d: %w", i, err)
		}
	}
	return s, nil
}

// LoadSeed reads and decodes a YAML fixture file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	return ParseSeed(data)
}

// Seed creates the fixture accounts. Existing emails are skipped so seeding
// twice is harmless. It returns the number of accounts created.
func (b *Backend) Seed(ctx context.Context, s Seed) (int, error) {
	created := 0
	for _, u := range s.Users {
		email := normalizeEmail(u.Email)
		_, err := b.userByEmail(ctx, email)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return created, err
		}
		meta := map[string]string{"full_name": u.FullName, "role": string(u.Role)}
		if u.OrganizationName != "" {
			meta["organization_name"] = u.OrganizationName
		}
		if _, err := b.createUser(ctx, email, u.Password, meta, u.Confirmed); err != nil {
			return created, fmt.Errorf("seed %s: %w", email, err)
		}
		created++
	}
	b.logger.Info("seeded", "created", created, "total", len(s.Users))
	return created, nil
}
