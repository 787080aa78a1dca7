// Package session holds the operator's credential: the bearer token, the role
// list and the optional refresh token. The Store is created once at startup and
// injected into the request interceptor and the route guard.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/upb/registry-console/claims"
	"github.com/upb/registry-console/repositories"
	"go.uber.org/zap"
)

// Persisted entry keys. Token and roles are always written and removed together.
const (
	KeyToken        = "token"
	KeyRoles        = "roles"
	KeyRefreshToken = "refresh_token"
)

var (
	// ErrCorruptedRoles is returned when the persisted roles entry is not a JSON array of strings
	ErrCorruptedRoles = errors.New("stored roles are corrupted")

	// ErrNoRefresher is returned by Refresh when the store was opened without a refresher
	ErrNoRefresher = errors.New("no refresh operation configured")

	// ErrSessionEnded is returned by Refresh when the credential was cleared
	// while the identity provider was being called
	ErrSessionEnded = errors.New("session ended during refresh")
)

// Credential is the state written on login
type Credential struct {
	Token        string
	Roles        []string
	RefreshToken string
}

// Refresher exchanges a refresh credential for a new access token
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Store is the process-wide credential store
type Store struct {
	mu           sync.RWMutex
	token        string
	rawRoles     string
	refreshToken string
	// generation changes on every Save, Clear and Reload
	generation uint64

	kv        repositories.KeyValueRepository
	profile   string
	refresher Refresher
	clientID  string
	logger    *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithRefresher sets the refresh operation used by Refresh
func WithRefresher(r Refresher) Option {
	return func(s *Store) { s.refresher = r }
}

// WithClientID sets the client whose roles are read from refreshed tokens
func WithClientID(clientID string) Option {
	return func(s *Store) { s.clientID = clientID }
}

// Open loads the persisted credential for profile
func Open(ctx context.Context, kv repositories.KeyValueRepository, profile string, logger *zap.Logger, opts ...Option) (*Store, error) {
	s := &Store{kv: kv, profile: profile, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the persisted entries, replacing the in-memory state
func (s *Store) Reload(ctx context.Context) error {
	token, _, err := s.kv.Get(ctx, s.profile, KeyToken)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	rawRoles, _, err := s.kv.Get(ctx, s.profile, KeyRoles)
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}
	refreshToken, _, err := s.kv.Get(ctx, s.profile, KeyRefreshToken)
	if err != nil {
		return fmt.Errorf("load refresh token: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.rawRoles = rawRoles
	s.refreshToken = refreshToken
	s.generation++
	s.mu.Unlock()

	s.logger.Debug("credential loaded",
		zap.String("profile", s.profile),
		zap.Bool("logged_in", token != ""))
	return nil
}

// Profile returns the profile the store persists under
func (s *Store) Profile() string {
	return s.profile
}

// Token returns the current bearer token, or "" when logged out
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsLoggedIn reports whether a token is present. Stale roles without a token do not count.
func (s *Store) IsLoggedIn() bool {
	return s.Token() != ""
}

// Roles decodes the persisted role list. An absent entry yields an empty list.
func (s *Store) Roles() ([]string, error) {
	s.mu.RLock()
	raw := s.rawRoles
	s.mu.RUnlock()

	return decodeRoles(raw)
}

// Credential returns a snapshot of the stored credential
func (s *Store) Credential() (Credential, error) {
	s.mu.RLock()
	cred := Credential{Token: s.token, RefreshToken: s.refreshToken}
	raw := s.rawRoles
	s.mu.RUnlock()

	roles, err := decodeRoles(raw)
	if err != nil {
		return Credential{}, err
	}
	cred.Roles = roles
	return cred, nil
}

// Save persists a credential obtained from a login
func (s *Store) Save(ctx context.Context, cred Credential) error {
	if cred.Token == "" {
		return errors.New("credential token is required")
	}
	rawRoles, err := encodeRoles(cred.Roles)
	if err != nil {
		return err
	}

	entries := map[string]string{KeyToken: cred.Token, KeyRoles: rawRoles}
	if cred.RefreshToken != "" {
		entries[KeyRefreshToken] = cred.RefreshToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.SetMany(ctx, s.profile, entries); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	if cred.RefreshToken == "" {
		if err := s.kv.DeleteMany(ctx, s.profile, KeyRefreshToken); err != nil {
			return fmt.Errorf("drop stale refresh token: %w", err)
		}
	}

	s.token = cred.Token
	s.rawRoles = rawRoles
	s.refreshToken = cred.RefreshToken
	s.generation++

	s.logger.Info("credential saved",
		zap.String("profile", s.profile),
		zap.Strings("roles", cred.Roles))
	return nil
}

// UpdateToken stores a refreshed access token. Roles are kept unless the new
// token carries roles for the configured client.
func (s *Store) UpdateToken(ctx context.Context, token string) error {
	_, err := s.updateToken(ctx, token, nil)
	return err
}

// updateToken writes token under the lock. With a non-nil since the write only
// happens if the generation still matches; otherwise the current token is
// returned, or ErrSessionEnded when there is none.
func (s *Store) updateToken(ctx context.Context, token string, since *uint64) (string, error) {
	if token == "" {
		return "", errors.New("refreshed token is empty")
	}

	entries := map[string]string{KeyToken: token}
	if roles, err := claims.ExtractRoles(token, s.clientID); err == nil && len(roles) > 0 {
		rawRoles, err := encodeRoles(roles)
		if err != nil {
			return "", err
		}
		entries[KeyRoles] = rawRoles
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if since != nil && *since != s.generation {
		s.logger.Info("credential changed during refresh, discarding refreshed token",
			zap.String("profile", s.profile),
			zap.Bool("logged_in", s.token != ""))
		if s.token == "" {
			return "", ErrSessionEnded
		}
		return s.token, nil
	}

	if err := s.kv.SetMany(ctx, s.profile, entries); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}
	s.token = token
	if rawRoles, ok := entries[KeyRoles]; ok {
		s.rawRoles = rawRoles
	}
	return token, nil
}

// Refresh obtains a new access token from the identity provider and stores it.
// A logout or login that lands while the provider is being called wins over the
// refreshed token.
func (s *Store) Refresh(ctx context.Context) (string, error) {
	if s.refresher == nil {
		return "", ErrNoRefresher
	}

	s.mu.RLock()
	refreshToken := s.refreshToken
	generation := s.generation
	s.mu.RUnlock()

	token, err := s.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	return s.updateToken(ctx, token, &generation)
}

// Clear removes the credential. The in-memory state is always cleared, even
// when the persisted entries could not be removed.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.rawRoles = ""
	s.refreshToken = ""
	s.generation++

	if err := s.kv.DeleteMany(ctx, s.profile, KeyToken, KeyRoles, KeyRefreshToken); err != nil {
		s.logger.Error("failed to remove persisted credential",
			zap.String("profile", s.profile),
			zap.Error(err))
		return fmt.Errorf("remove credential: %w", err)
	}

	s.logger.Info("credential cleared", zap.String("profile", s.profile))
	return nil
}

func encodeRoles(roles []string) (string, error) {
	if roles == nil {
		roles = []string{}
	}
	b, err := json.Marshal(roles)
	if err != nil {
		return "", fmt.Errorf("encode roles: %w", err)
	}
	return string(b), nil
}

func decodeRoles(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var roles []string
	if err := json.Unmarshal([]byte(raw), &roles); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedRoles, err)
	}
	if roles == nil {
		roles = []string{}
	}
	return roles, nil
}
