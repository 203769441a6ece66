// Package auth validates dashboard credentials and throttles login attempts.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"debugconsole/internal/logging"
)

// DefaultUsername is the account name every dashboard login uses.
const DefaultUsername = "debug"

// Authenticator validates one credential pair. Implementations must be safe
// for concurrent use and free of side effects visible to the caller.
type Authenticator interface {
	Validate(username, password string) bool
}

type credential struct {
	hash    string
	expires time.Time
}

func (c credential) expired(now time.Time) bool {
	return !c.expires.IsZero() && !now.Before(c.expires)
}

// CredentialStore accepts any of a set of hashed passwords for a single
// username. Passwords may expire.
type CredentialStore struct {
	username string
	logger   logging.Logger
	now      func() time.Time

	mu    sync.RWMutex
	creds []credential
}

// StoreOption customizes a CredentialStore.
type StoreOption func(*CredentialStore)

// WithStoreLogger sets the store logger.
func WithStoreLogger(logger logging.Logger) StoreOption {
	return func(s *CredentialStore) {
		s.logger = logging.OrNop(logger)
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *CredentialStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewCredentialStore returns an empty store for username. An empty username
// means DefaultUsername.
func NewCredentialStore(username string, opts ...StoreOption) *CredentialStore {
	if username == "" {
		username = DefaultUsername
	}
	s := &CredentialStore{
		username: username,
		logger:   logging.NewComponentLogger("Auth"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Username returns the accepted username.
func (s *CredentialStore) Username() string {
	return s.username
}

// AddHash accepts passwords matching encoded until expires. A zero expires
// never expires.
func (s *CredentialStore) AddHash(encoded string, expires time.Time) error {
	if err := ValidateHash(encoded); err != nil {
		return fmt.Errorf("add credential: %w", err)
	}
	s.mu.Lock()
	s.creds = append(s.creds, credential{hash: encoded, expires: expires})
	s.mu.Unlock()
	return nil
}

// Issue generates a random password valid for ttl (forever when ttl <= 0),
// stores its hash and returns the plaintext together with its expiry.
func (s *CredentialStore) Issue(ttl time.Duration) (string, time.Time, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("generate password: %w", err)
	}
	plain := base64.RawURLEncoding.EncodeToString(buf)
	hash, err := HashPassword(plain)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("hash password: %w", err)
	}
	var expires time.Time
	if ttl > 0 {
		expires = s.now().Add(ttl)
	}
	if err := s.AddHash(hash, expires); err != nil {
		return "", time.Time{}, err
	}
	return plain, expires, nil
}

// Validate implements Authenticator.
func (s *CredentialStore) Validate(username, password string) bool {
	if username != s.username || password == "" {
		return false
	}
	now := s.now()
	s.mu.RLock()
	creds := append([]credential(nil), s.creds...)
	s.mu.RUnlock()

	for _, c := range creds {
		if c.expired(now) {
			continue
		}
		ok, err := VerifyPassword(password, c.hash)
		if err != nil {
			s.logger.Warn("Credential check failed: %v", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// Prune drops expired credentials and returns how many were removed.
func (s *CredentialStore) Prune() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.creds[:0]
	for _, c := range s.creds {
		if !c.expired(now) {
			kept = append(kept, c)
		}
	}
	removed := len(s.creds) - len(kept)
	for i := len(kept); i < len(s.creds); i++ {
		s.creds[i] = credential{}
	}
	s.creds = kept
	return removed
}

// Len returns the number of stored credentials, expired ones included.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}

var _ Authenticator = (*CredentialStore)(nil)
