package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"debugconsole/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	require.NoError(t, ValidateHash(hash))

	ok, err := VerifyPassword("s3cret", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordAcceptsBcrypt(t *testing.T) {
	raw, err := bcrypt.GenerateFromPassword([]byte("legacy"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, ValidateHash(string(raw)))

	ok, err := VerifyPassword("legacy", string(raw))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("nope", string(raw))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateHashRejectsGarbage(t *testing.T) {
	assert.ErrorIs(t, ValidateHash("plaintext"), ErrUnsupportedHash)
	assert.Error(t, ValidateHash("argon2id$1$2$3"))
	assert.Error(t, ValidateHash("argon2id$1$65536$0$c2FsdA$aGFzaA"))
}

func TestCredentialStoreValidate(t *testing.T) {
	store := NewCredentialStore("", WithStoreLogger(logging.Nop()))
	assert.Equal(t, DefaultUsername, store.Username())

	hash, err := HashPassword("pw")
	require.NoError(t, err)
	require.NoError(t, store.AddHash(hash, time.Time{}))

	assert.True(t, store.Validate("debug", "pw"))
	assert.False(t, store.Validate("admin", "pw"))
	assert.False(t, store.Validate("debug", "other"))
	assert.False(t, store.Validate("debug", ""))
}

func TestCredentialStoreEmptyRejectsEverything(t *testing.T) {
	store := NewCredentialStore("debug", WithStoreLogger(logging.Nop()))
	assert.False(t, store.Validate("debug", "anything"))
}

func TestAddHashRejectsPlaintext(t *testing.T) {
	store := NewCredentialStore("debug", WithStoreLogger(logging.Nop()))
	assert.Error(t, store.AddHash("hunter2", time.Time{}))
	assert.Equal(t, 0, store.Len())
}

func TestIssuedPasswordsExpire(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewCredentialStore("debug", WithStoreLogger(logging.Nop()), WithClock(clock.Now))

	plain, expires, err := store.Issue(time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, plain)
	assert.Equal(t, clock.Now().Add(time.Hour), expires)
	assert.True(t, store.Validate("debug", plain))

	clock.Advance(time.Hour)
	assert.False(t, store.Validate("debug", plain))
	assert.Equal(t, 1, store.Prune())
	assert.Equal(t, 0, store.Len())
}

func TestIssueWithoutTTLNeverExpires(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := NewCredentialStore("debug", WithStoreLogger(logging.Nop()), WithClock(clock.Now))

	plain, expires, err := store.Issue(0)
	require.NoError(t, err)
	assert.True(t, expires.IsZero())

	clock.Advance(24 * 365 * time.Hour)
	assert.True(t, store.Validate("debug", plain))
	assert.Equal(t, 0, store.Prune())
}

func TestInitLimiterDisabled(t *testing.T) {
	var limiter *InitLimiter = NewInitLimiter(LimiterConfig{})
	assert.Nil(t, limiter)
	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"))
	}
	assert.Equal(t, 0, limiter.Tracked())
}

func TestInitLimiterThrottlesPerAddress(t *testing.T) {
	limiter := NewInitLimiter(LimiterConfig{PerMinute: 1, Burst: 2})
	require.NotNil(t, limiter)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))

	assert.True(t, limiter.Allow("10.0.0.2"))
	assert.Equal(t, 2, limiter.Tracked())
}

func TestInitLimiterBoundedSize(t *testing.T) {
	limiter := NewInitLimiter(LimiterConfig{PerMinute: 1, Burst: 1, Size: 2})
	for _, addr := range []string{"a", "b", "c"} {
		assert.True(t, limiter.Allow(addr))
	}
	assert.Equal(t, 2, limiter.Tracked())
}
