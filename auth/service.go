package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/logger"
)

// Service implements bootstrap, login, validation and refresh over the
// token store. Whether auth is enforced at all is a process-wide toggle
// fixed at startup; the gateway consults Enabled and skips validation
// entirely when it is off.
type Service struct {
	store   *Store
	enabled bool
	now     func() time.Time

	bootstrapMu sync.Mutex
}

// NewService creates an auth service over a store.
func NewService(store *Store, enabled bool) *Service {
	return &Service{store: store, enabled: enabled, now: time.Now}
}

// Enabled reports whether token authentication is enforced.
func (s *Service) Enabled() bool { return s.enabled }

// Bootstrap creates the first user. It succeeds only while the user
// table is empty; afterwards it fails with ErrAlreadyInitialized.
func (s *Service) Bootstrap(ctx context.Context, email, password string) (*User, *TokenPair, error) {
	if email == "" || password == "" {
		return nil, nil, errors.NewValidation("email and password are required")
	}

	// Count and insert must be one step, or two concurrent calls could
	// both observe an empty table and both create a user.
	s.bootstrapMu.Lock()
	defer s.bootstrapMu.Unlock()

	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, nil, err
	}
	if n > 0 {
		return nil, nil, errors.Wrap(errors.ErrAlreadyInitialized, "a user already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, errors.Wrap(err, "hash password")
	}

	user, err := s.store.CreateUser(ctx, email, string(hash))
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.Issue(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	logger.Logger.Infow("Bootstrap user created", "email", email)
	return user, pair, nil
}

// Login verifies credentials and issues a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*User, *TokenPair, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil, errors.Wrap(errors.ErrUnauthorized, "invalid credentials")
		}
		return nil, nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil, errors.Wrap(errors.ErrUnauthorized, "invalid credentials")
	}
	pair, err := s.Issue(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Issue mints an access/refresh pair for user.
func (s *Service) Issue(ctx context.Context, user *User) (*TokenPair, error) {
	now := s.now().UTC()
	access := &Token{
		ID:        uuid.New().String(),
		Subject:   user.ID,
		Kind:      KindAccess,
		Value:     uuid.New().String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(AccessTTL),
	}
	refresh := &Token{
		ID:        uuid.New().String(),
		Subject:   user.ID,
		Kind:      KindRefresh,
		Value:     uuid.New().String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(RefreshTTL),
	}
	if err := s.store.InsertToken(ctx, access); err != nil {
		return nil, err
	}
	if err := s.store.InsertToken(ctx, refresh); err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// Validate resolves an access token value to its subject. Unknown,
// wrong-kind and expired tokens are all ErrUnauthorized.
func (s *Service) Validate(ctx context.Context, value string) (string, error) {
	if value == "" {
		return "", errors.Wrap(errors.ErrUnauthorized, "no token provided")
	}
	token, err := s.store.GetTokenByValue(ctx, value)
	if err != nil {
		return "", err
	}
	if token.Kind != KindAccess {
		return "", errors.Wrap(errors.ErrUnauthorized, "not an access token")
	}
	if token.Expired(s.now().UTC()) {
		return "", errors.Wrap(errors.ErrUnauthorized, "token expired")
	}
	return token.Subject, nil
}

// Refresh mints a new access token from a live refresh token.
func (s *Service) Refresh(ctx context.Context, refreshValue string) (*Token, error) {
	token, err := s.store.GetTokenByValue(ctx, refreshValue)
	if err != nil {
		return nil, err
	}
	if token.Kind != KindRefresh {
		return nil, errors.Wrap(errors.ErrUnauthorized, "not a refresh token")
	}
	now := s.now().UTC()
	if token.Expired(now) {
		return nil, errors.Wrap(errors.ErrUnauthorized, "refresh token expired")
	}

	access := &Token{
		ID:        uuid.New().String(),
		Subject:   token.Subject,
		Kind:      KindAccess,
		Value:     uuid.New().String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(AccessTTL),
	}
	if err := s.store.InsertToken(ctx, access); err != nil {
		return nil, err
	}
	return access, nil
}
