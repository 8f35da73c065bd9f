// Package keys owns signing key material: the single active key used for new
// signatures and the retired keys that still verify until their window closes.
package keys

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koskedk/dwh-identity/internal/core"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	// ErrNoActiveKey is returned when nothing has been installed for signing
	ErrNoActiveKey = errors.New("no active signing key")
	// ErrUnknownKey is returned for key ids outside the verification set
	ErrUnknownKey = errors.New("unknown signing key")
)

// Manager holds the active signing key behind an atomic pointer so issuance
// never blocks on rotation. Retired keys are kept under a mutex.
type Manager struct {
	active       atomic.Pointer[SigningKey]
	mu           sync.RWMutex
	retired      []*SigningKey
	retireWindow time.Duration
	now          func() time.Time
	metrics      core.Recorder
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRecorder records rotations
func WithRecorder(r core.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// NewManager creates a manager. retireWindow is how long a replaced key keeps
// verifying and should be at least the longest token lifetime.
func NewManager(retireWindow time.Duration, opts ...Option) *Manager {
	m := &Manager{
		retireWindow: retireWindow,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ActiveKey returns the key used for new signatures. A key outside its
// validity window is not returned: nothing could verify what it signs.
func (m *Manager) ActiveKey() (*SigningKey, error) {
	key := m.active.Load()
	if key == nil {
		return nil, ErrNoActiveKey
	}
	if !key.ValidAt(m.now()) {
		return nil, fmt.Errorf("%w: key %s is outside its validity window", ErrNoActiveKey, key.ID)
	}
	return key, nil
}

// Rotate promotes newKey and retires the previous active key. The old key's
// NotAfter becomes now+retireWindow unless it was already earlier.
func (m *Manager) Rotate(newKey *SigningKey) error {
	if newKey == nil || newKey.Private == nil {
		return fmt.Errorf("%w: nil key", ErrUnsupportedKey)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	old := m.active.Swap(newKey)
	if old != nil && old.ID != newKey.ID {
		retired := *old
		cutoff := now.Add(m.retireWindow)
		if retired.NotAfter.IsZero() || retired.NotAfter.After(cutoff) {
			retired.NotAfter = cutoff
		}
		m.retired = append(m.retired, &retired)
	}

	// Drop retired keys whose window has closed
	m.retired = slices.DeleteFunc(m.retired, func(k *SigningKey) bool {
		return !k.ValidAt(now)
	})

	if old != nil && m.metrics != nil {
		m.metrics.RecordKeyRotation()
	}
	return nil
}

// VerificationKeySet returns the active key followed by every retired key
// still inside its window.
func (m *Manager) VerificationKeySet() []*SigningKey {
	now := m.now()
	var set []*SigningKey
	if key := m.active.Load(); key != nil && key.ValidAt(now) {
		set = append(set, key)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.retired {
		if k.ValidAt(now) {
			set = append(set, k)
		}
	}
	return set
}

// Lookup finds a verification key by id
func (m *Manager) Lookup(kid string) (*SigningKey, error) {
	for _, k := range m.VerificationKeySet() {
		if k.ID == kid {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
}

// JWKS returns the public verification keys as a JWK set
func (m *Manager) JWKS() (jwk.Set, error) {
	set := jwk.NewSet()
	for _, k := range m.VerificationKeySet() {
		key, err := jwk.FromRaw(k.Public())
		if err != nil {
			return nil, fmt.Errorf("failed to build jwk: %w", err)
		}
		if err := key.Set(jwk.KeyIDKey, k.ID); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.AlgorithmKey, jwa.SignatureAlgorithm(k.Algorithm)); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// RunRotation generates and installs a new key every interval until ctx is done
func (m *Manager) RunRotation(ctx context.Context, interval time.Duration, alg string) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			key, err := Generate(alg)
			if err != nil {
				log.Printf("[Keys] Failed to generate signing key: %v", err)
				continue
			}
			if err := m.Rotate(key); err != nil {
				log.Printf("[Keys] Failed to rotate signing key: %v", err)
				continue
			}
			log.Printf("[Keys] Rotated signing key, active kid=%s", key.ID)
		}
	}
}
