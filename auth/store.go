package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/veyra/stitchd/errors"
)

// Store handles persistence of users and tokens
type Store struct {
	db *sql.DB
}

// NewStore creates a new auth store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CountUsers returns the number of users in the table.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, errors.WrapStorage(err, "count users")
	}
	return n, nil
}

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		return nil, errors.WrapStorage(err, "create user")
	}
	return user, nil
}

// GetUserByEmail finds a user by email, returning ErrNotFound when absent.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("user %s", email)
	}
	if err != nil {
		return nil, errors.WrapStorage(err, "get user by email")
	}
	return user, nil
}

// InsertToken persists a freshly issued token.
func (s *Store) InsertToken(ctx context.Context, t *Token) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, subject, kind, value, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Subject, string(t.Kind), t.Value, t.IssuedAt, t.ExpiresAt,
	)
	if err != nil {
		return errors.WrapStorage(err, "insert token")
	}
	return nil
}

// GetTokenByValue looks a token up by its opaque value. Equality only;
// expiry is the caller's concern.
func (s *Store) GetTokenByValue(ctx context.Context, value string) (*Token, error) {
	t := &Token{}
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subject, kind, value, issued_at, expires_at FROM tokens WHERE value = ?`, value,
	).Scan(&t.ID, &t.Subject, &kind, &t.Value, &t.IssuedAt, &t.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrUnauthorized, "unknown token")
	}
	if err != nil {
		return nil, errors.WrapStorage(err, "get token by value")
	}
	t.Kind = TokenKind(kind)
	return t, nil
}
