// Package local is a self-contained substitute for the hosted backend. It keeps
// identities, profiles, sessions and emailed link tokens in sqlite and mimics
// the hosted API's rejection messages so that the auth layer maps them the same way.
//
// Open it on ":memory:" for tests and test mode. Mails that the hosted backend
// would send are recorded in an outbox instead.
package local

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tokutei-learning/tokutei/backend"
	"github.com/tokutei-learning/tokutei/jwt"
	"github.com/tokutei-learning/tokutei/password"

	_ "modernc.org/sqlite"
)

// Options configures a [Backend]. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// Password sets the Argon2id cost. Zero means password.DefaultConfig.
	Password password.Config
	// Tokens configures access tokens. Zero means HS256 with a random
	// per-process secret and a one hour lifetime.
	Tokens jwt.Config
	// AutoConfirm skips email confirmation on sign-up.
	AutoConfirm bool
	// DisableSignup rejects every sign-up.
	DisableSignup bool
	// LinkTTL bounds confirmation and recovery links. Default 24h.
	LinkTTL time.Duration
	// RefreshTTL bounds refresh tokens. Default 30 days.
	RefreshTTL time.Duration
	Now        func() time.Time
}

// Mail is a message the hosted backend would have emailed.
type Mail struct {
	To         string
	Type       backend.OTPType
	TokenHash  string
	RedirectTo string
	SentAt     time.Time
}

// Backend implements backend.Backend on sqlite. Safe for concurrent use.
type Backend struct {
	db       *sql.DB
	logger   *slog.Logger
	hasher   *password.Argon2
	tokens   *jwt.Manager
	validate *validator.Validate
	opts     Options

	mu     sync.Mutex
	outbox []Mail
}

var _ backend.Backend = (*Backend)(nil)

// Open opens (or creates) the database at dsn and migrates it.
func Open(ctx context.Context, dsn string, opts Options) (*Backend, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Password == (password.Config{}) {
		opts.Password = password.DefaultConfig()
	}
	if opts.Tokens.SigningMethod == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("local: token secret: %w", err)
		}
		opts.Tokens = jwt.Config{
			AccessTTL:     time.Hour,
			SigningMethod: jwt.MethodHS256,
			PrivateKey:    secret,
			Issuer:        "tokutei-local",
		}
	}
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = 24 * time.Hour
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	hasher, err := password.NewArgon2(opts.Password)
	if err != nil {
		return nil, fmt.Errorf("local: password config: %w", err)
	}
	tokens, err := jwt.NewManager(opts.Tokens)
	if err != nil {
		return nil, fmt.Errorf("local: token config: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if dsn == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Backend{
		db:       db,
		logger:   opts.Logger.With("component", "local-backend"),
		hasher:   hasher,
		tokens:   tokens,
		validate: validator.New(),
		opts:     opts,
	}, nil
}

// Close closes the underlying database.
func (b *Backend) Close() error {
	return b.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                 TEXT PRIMARY KEY,
		email              TEXT NOT NULL UNIQUE,
		password_hash      TEXT NOT NULL,
		email_confirmed_at TEXT,
		created_at         TEXT NOT NULL,
		metadata           TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id    TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		email TEXT NOT NULL,
		role  TEXT NOT NULL,
		doc   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		refresh_digest BLOB NOT NULL,
		created_at     TEXT NOT NULL,
		expires_at     TEXT NOT NULL,
		revoked        INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS one_time_tokens (
		digest     BLOB PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		type       TEXT NOT NULL,
		expires_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_user ON one_time_tokens(user_id)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Outbox returns a copy of every recorded mail, oldest first.
func (b *Backend) Outbox() []Mail {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Mail, len(b.outbox))
	copy(out, b.outbox)
	return out
}

// LastMail returns the most recent mail sent to email.
func (b *Backend) LastMail(email string) (Mail, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.outbox) - 1; i >= 0; i-- {
		if b.outbox[i].To == email {
			return b.outbox[i], true
		}
	}
	return Mail{}, false
}

func (b *Backend) send(m Mail) {
	b.mu.Lock()
	b.outbox = append(b.outbox, m)
	b.mu.Unlock()
	b.logger.Info("mail recorded", "to", m.To, "type", m.Type)
}

func (b *Backend) now() time.Time {
	return b.opts.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
