package keys

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestKey(t *testing.T, alg string) *SigningKey {
	t.Helper()
	key, err := Generate(alg)
	require.NoError(t, err)
	return key
}

func TestActiveKeyMissing(t *testing.T) {
	m := NewManager(time.Hour)
	_, err := m.ActiveKey()
	assert.ErrorIs(t, err, ErrNoActiveKey)
	assert.Empty(t, m.VerificationKeySet())
}

func TestActiveKeyOutsideWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewManager(time.Hour, WithClock(clock.Now))

	expired := newTestKey(t, AlgRS256)
	expired.NotAfter = clock.Now().Add(-time.Minute)
	require.NoError(t, m.Rotate(expired))

	_, err := m.ActiveKey()
	assert.ErrorIs(t, err, ErrNoActiveKey)
	assert.Empty(t, m.VerificationKeySet())

	early := newTestKey(t, AlgES256)
	early.NotBefore = clock.Now().Add(time.Minute)
	require.NoError(t, m.Rotate(early))
	_, err = m.ActiveKey()
	assert.ErrorIs(t, err, ErrNoActiveKey)

	clock.Advance(2 * time.Minute)
	active, err := m.ActiveKey()
	require.NoError(t, err)
	assert.Equal(t, early.ID, active.ID)
}

func TestRotateKeepsOldKeyForWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewManager(time.Hour, WithClock(clock.Now))

	k1 := newTestKey(t, AlgRS256)
	k2 := newTestKey(t, AlgES256)
	require.NoError(t, m.Rotate(k1))
	require.NoError(t, m.Rotate(k2))

	active, err := m.ActiveKey()
	require.NoError(t, err)
	assert.Equal(t, k2.ID, active.ID)

	set := m.VerificationKeySet()
	require.Len(t, set, 2)
	assert.Equal(t, k2.ID, set[0].ID)

	_, err = m.Lookup(k1.ID)
	assert.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	_, err = m.Lookup(k1.ID)
	assert.NoError(t, err)

	clock.Advance(2 * time.Second)
	_, err = m.Lookup(k1.ID)
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Len(t, m.VerificationKeySet(), 1)
}

func TestRotateKeepsEarlierNotAfter(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewManager(24*time.Hour, WithClock(clock.Now))

	k1 := newTestKey(t, AlgES256)
	k1.NotAfter = clock.Now().Add(time.Minute)
	require.NoError(t, m.Rotate(k1))
	require.NoError(t, m.Rotate(newTestKey(t, AlgES256)))

	clock.Advance(2 * time.Minute)
	_, err := m.Lookup(k1.ID)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestConcurrentRotateAndRead(t *testing.T) {
	m := NewManager(time.Hour)
	require.NoError(t, m.Rotate(newTestKey(t, AlgES256)))

	keys := make([]*SigningKey, 4)
	for i := range keys {
		keys[i] = newTestKey(t, AlgES256)
	}

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Rotate(k))
		}()
		go func() {
			defer wg.Done()
			active, err := m.ActiveKey()
			assert.NoError(t, err)
			assert.NotNil(t, active)
			_ = m.VerificationKeySet()
		}()
	}
	wg.Wait()

	assert.Len(t, m.VerificationKeySet(), 5)
}

func TestJWKS(t *testing.T) {
	m := NewManager(time.Hour)
	rsaKey := newTestKey(t, AlgRS256)
	ecKey := newTestKey(t, AlgES256)
	require.NoError(t, m.Rotate(rsaKey))
	require.NoError(t, m.Rotate(ecKey))

	set, err := m.JWKS()
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())

	key, ok := set.LookupKeyID(rsaKey.ID)
	require.True(t, ok)
	assert.Equal(t, "RSA", key.KeyType().String())

	raw, err := json.Marshal(set)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"kid":"`+ecKey.ID+`"`)
	assert.Contains(t, string(raw), `"use":"sig"`)
	assert.NotContains(t, string(raw), `"d":`)
}

func TestNewSigningKeyAlgorithmMismatch(t *testing.T) {
	key := newTestKey(t, AlgRS256)
	_, err := NewSigningKey(key.Private, AlgES256, time.Time{})
	assert.ErrorIs(t, err, ErrAlgorithmMismatch)
}

func TestKeyIDIsStable(t *testing.T) {
	key := newTestKey(t, AlgES256)
	again, err := NewSigningKey(key.Private, "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, key.ID, again.ID)
	assert.Equal(t, AlgES256, again.Algorithm)
}

func TestPEMRoundTrip(t *testing.T) {
	for _, alg := range []string{AlgRS256, AlgES256} {
		t.Run(alg, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "keys", "signing.pem")
			key := newTestKey(t, alg)
			require.NoError(t, WritePEMFile(path, key))

			loaded, err := LoadPEMFile(path, "")
			require.NoError(t, err)
			assert.Equal(t, key.ID, loaded.ID)
			assert.Equal(t, alg, loaded.Algorithm)
		})
	}
}

func TestLoadOrGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.pem")

	first, generated, err := LoadOrGenerate(path, AlgRS256)
	require.NoError(t, err)
	assert.True(t, generated)

	second, generated, err := LoadOrGenerate(path, AlgRS256)
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, first.ID, second.ID)
}

func TestParsePEMInvalid(t *testing.T) {
	_, err := ParsePEM([]byte("not pem"))
	assert.Error(t, err)
}

func TestGenerateHelpers(t *testing.T) {
	rsaKey, err := GenerateRSA()
	require.NoError(t, err)
	assert.Equal(t, AlgRS256, rsaKey.Algorithm)

	ecKey, err := GenerateEC()
	require.NoError(t, err)
	assert.Equal(t, AlgES256, ecKey.Algorithm)
	assert.NotEqual(t, rsaKey.ID, ecKey.ID)
}
