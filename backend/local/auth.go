package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tokutei-learning/tokutei/backend"
	"github.com/tokutei-learning/tokutei/internal"
	"github.com/tokutei-learning/tokutei/jwt"
)

const minPasswordLength = 8

type userRow struct {
	user *backend.User
	hash string
}

// SignUp creates an identity and its profile row. Without AutoConfirm the
// user stays unconfirmed and a confirmation mail is recorded.
func (b *Backend) SignUp(ctx context.Context, params backend.SignUpParams) (*backend.SignUpResult, error) {
	if b.opts.DisableSignup {
		return nil, rejection(errNoSignup)
	}
	email := normalizeEmail(params.Email)
	if err := b.checkEmail(email); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(params.Password) < minPasswordLength {
		return nil, rejection(errWeakPass)
	}

	user, err := b.createUser(ctx, email, params.Password, params.Metadata, b.opts.AutoConfirm)
	if err != nil {
		return nil, err
	}
	b.logger.Info("user signed up", "user_id", user.ID, "confirmed", user.Confirmed())

	if user.Confirmed() {
		sess, err := b.issueSession(ctx, user)
		if err != nil {
			return nil, err
		}
		return &backend.SignUpResult{User: user, Session: sess}, nil
	}
	if err := b.mailToken(ctx, user, backend.OTPEmail, params.RedirectTo); err != nil {
		return nil, err
	}
	return &backend.SignUpResult{User: user}, nil
}

// SignInWithPassword checks credentials and issues a session. Hashes made
// with weaker parameters are upgraded in place.
func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*backend.AuthSession, error) {
	row, err := b.userByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rejection(errBadLogin)
	}
	if err != nil {
		return nil, err
	}
	ok, err := b.hasher.Verify(password, row.hash)
	if err != nil || !ok {
		return nil, rejection(errBadLogin)
	}
	if !row.user.Confirmed() {
		return nil, rejection(errNotConfirm)
	}

	if upgrade, err := b.hasher.NeedsRehash(row.hash); err == nil && upgrade {
		if err := b.setPassword(ctx, row.user.ID, password); err != nil {
			b.logger.Warn("password rehash failed", "user_id", row.user.ID, "error", err)
		}
	}
	return b.issueSession(ctx, row.user)
}

// SignOut revokes the session named by the token's session_id claim.
func (b *Backend) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	claims, err := b.authenticate(ctx, accessToken)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE id = ?`, claims.SessionID)
	return err
}

// ResetPasswordForEmail records a recovery mail. Unknown addresses succeed
// silently so the endpoint does not reveal which emails are registered.
func (b *Backend) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	email = normalizeEmail(email)
	if err := b.checkEmail(email); err != nil {
		return err
	}
	row, err := b.userByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return b.mailToken(ctx, row.user, backend.OTPRecovery, redirectTo)
}

// UpdateUser changes the password and/or email of the token's user.
func (b *Backend) UpdateUser(ctx context.Context, accessToken string, attrs backend.UserAttributes) (*backend.User, error) {
	claims, err := b.authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if attrs.Password != "" {
		if utf8.RuneCountInString(attrs.Password) < minPasswordLength {
			return nil, rejection(errWeakPass)
		}
		if err := b.setPassword(ctx, claims.Subject, attrs.Password); err != nil {
			return nil, err
		}
	}
	if attrs.Email != "" {
		email := normalizeEmail(attrs.Email)
		if err := b.checkEmail(email); err != nil {
			return nil, err
		}
		if _, err := b.db.ExecContext(ctx, `UPDATE users SET email = ? WHERE id = ?`, email, claims.Subject); err != nil {
			if isUniqueViolation(err) {
				return nil, rejection(errUserExists)
			}
			return nil, fmt.Errorf("update email: %w", err)
		}
	}
	row, err := b.userByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	return row.user, nil
}

// GetUser resolves an access token to its user.
func (b *Backend) GetUser(ctx context.Context, accessToken string) (*backend.User, error) {
	claims, err := b.authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	row, err := b.userByID(ctx, claims.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rejection(errNoSession)
	}
	if err != nil {
		return nil, err
	}
	return row.user, nil
}

// RefreshSession rotates the refresh token of a live session.
func (b *Backend) RefreshSession(ctx context.Context, refreshToken string) (*backend.AuthSession, error) {
	if refreshToken == "" {
		return nil, backend.ErrNoSession
	}
	sid, digest, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, rejection(errBadRefresh)
	}

	var (
		userID    string
		stored    []byte
		expiresAt string
		revoked   bool
	)
	err = b.db.QueryRowContext(ctx,
		`SELECT user_id, refresh_digest, expires_at, revoked FROM sessions WHERE id = ?`, sid.String(),
	).Scan(&userID, &stored, &expiresAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rejection(errBadRefresh)
	}
	if err != nil {
		return nil, err
	}
	exp, err := parseTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse session expiry: %w", err)
	}
	if revoked || string(stored) != string(digest[:]) || !b.now().Before(exp) {
		return nil, rejection(errBadRefresh)
	}

	row, err := b.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	token, next, err := internal.NewRefreshToken(sid)
	if err != nil {
		return nil, err
	}
	if _, err := b.db.ExecContext(ctx, `UPDATE sessions SET refresh_digest = ? WHERE id = ?`, next[:], sid.String()); err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	return b.accessSession(row.user, sid, token)
}

// VerifyOTP redeems a link token. Tokens are single use.
func (b *Backend) VerifyOTP(ctx context.Context, tokenHash string, typ backend.OTPType) (*backend.AuthSession, error) {
	digest := internal.HashLinkToken(tokenHash)

	var (
		userID    string
		stored    string
		expiresAt string
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT user_id, type, expires_at FROM one_time_tokens WHERE digest = ?`, digest[:],
	).Scan(&userID, &stored, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rejection(errOTPMissing)
	}
	if err != nil {
		return nil, err
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM one_time_tokens WHERE digest = ?`, digest[:]); err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	exp, err := parseTime(expiresAt)
	if err != nil || !b.now().Before(exp) || backend.OTPType(stored) != typ {
		return nil, rejection(errOTPExpired)
	}

	if typ == backend.OTPEmail {
		if _, err := b.db.ExecContext(ctx,
			`UPDATE users SET email_confirmed_at = COALESCE(email_confirmed_at, ?) WHERE id = ?`,
			formatTime(b.now()), userID,
		); err != nil {
			return nil, fmt.Errorf("confirm email: %w", err)
		}
	}
	row, err := b.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return b.issueSession(ctx, row.user)
}

// ConfirmEmail marks email confirmed without a link. Used by fixtures.
func (b *Backend) ConfirmEmail(ctx context.Context, email string) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE users SET email_confirmed_at = COALESCE(email_confirmed_at, ?) WHERE email = ?`,
		formatTime(b.now()), normalizeEmail(email),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("confirm %s: %w", email, sql.ErrNoRows)
	}
	return nil
}

func (b *Backend) authenticate(ctx context.Context, accessToken string) (*jwt.AccessClaims, error) {
	if accessToken == "" {
		return nil, backend.ErrNoSession
	}
	claims, err := b.tokens.Parse(jwt.Bearer(accessToken))
	if err != nil {
		return nil, rejection(errBadJWT)
	}
	var revoked bool
	err = b.db.QueryRowContext(ctx, `SELECT revoked FROM sessions WHERE id = ?`, claims.SessionID).Scan(&revoked)
	if errors.Is(err, sql.ErrNoRows) || revoked {
		return nil, rejection(errNoSession)
	}
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (b *Backend) issueSession(ctx context.Context, user *backend.User) (*backend.AuthSession, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	token, digest, err := internal.NewRefreshToken(sid)
	if err != nil {
		return nil, err
	}
	now := b.now()
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, refresh_digest, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		sid.String(), user.ID, digest[:], formatTime(now), formatTime(now.Add(b.opts.RefreshTTL)),
	); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return b.accessSession(user, sid, token)
}

func (b *Backend) accessSession(user *backend.User, sid internal.SessionID, refreshToken string) (*backend.AuthSession, error) {
	access, exp, err := b.tokens.Issue(user.ID, user.Email, sid.String(), b.now())
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &backend.AuthSession{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresAt:    exp,
		User:         user,
	}, nil
}

func (b *Backend) mailToken(ctx context.Context, user *backend.User, typ backend.OTPType, redirectTo string) error {
	token, digest, err := internal.NewLinkToken()
	if err != nil {
		return err
	}
	now := b.now()
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO one_time_tokens (digest, user_id, type, expires_at) VALUES (?, ?, ?, ?)`,
		digest[:], user.ID, string(typ), formatTime(now.Add(b.opts.LinkTTL)),
	); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	b.send(Mail{To: user.Email, Type: typ, TokenHash: token, RedirectTo: redirectTo, SentAt: now})
	return nil
}

func (b *Backend) createUser(ctx context.Context, email, password string, metadata map[string]string, confirmed bool) (*backend.User, error) {
	hash, err := b.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := b.now()
	user := &backend.User{
		ID:           uuid.NewString(),
		Email:        email,
		CreatedAt:    now,
		UserMetadata: metadata,
	}
	var confirmedAt sql.NullString
	if confirmed {
		user.EmailConfirmedAt = &now
		confirmedAt = sql.NullString{String: formatTime(now), Valid: true}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if metadata == nil {
		meta = []byte("{}")
	}

	profile := newProfile(user, now)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, email_confirmed_at, created_at, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, email, hash, confirmedAt, formatTime(now), string(meta),
	); err != nil {
		if isUniqueViolation(err) {
			return nil, rejection(errUserExists)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if err := insertProfile(ctx, tx, profile); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return user, nil
}

func (b *Backend) setPassword(ctx context.Context, userID, password string) error {
	hash, err := b.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, userID)
	return err
}

func (b *Backend) userByEmail(ctx context.Context, email string) (*userRow, error) {
	return b.scanUser(b.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, email_confirmed_at, created_at, metadata FROM users WHERE email = ?`, email))
}

func (b *Backend) userByID(ctx context.Context, id string) (*userRow, error) {
	return b.scanUser(b.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, email_confirmed_at, created_at, metadata FROM users WHERE id = ?`, id))
}

func (b *Backend) scanUser(row *sql.Row) (*userRow, error) {
	var (
		u           backend.User
		hash        string
		confirmedAt sql.NullString
		createdAt   string
		meta        string
	)
	if err := row.Scan(&u.ID, &u.Email, &hash, &confirmedAt, &createdAt, &meta); err != nil {
		return nil, err
	}
	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if confirmedAt.Valid {
		t, err := parseTime(confirmedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse email_confirmed_at: %w", err)
		}
		u.EmailConfirmedAt = &t
	}
	if err := json.Unmarshal([]byte(meta), &u.UserMetadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if len(u.UserMetadata) == 0 {
		u.UserMetadata = nil
	}
	return &userRow{user: &u, hash: hash}, nil
}

func (b *Backend) checkEmail(email string) error {
	if err := b.validate.Var(email, "required,email"); err != nil {
		return rejection(errBadEmail)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
