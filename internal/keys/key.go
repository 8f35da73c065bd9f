package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Supported signing algorithms
const (
	AlgRS256 = "RS256"
	AlgES256 = "ES256"
)

const rsaKeyBits = 2048

var (
	// ErrUnsupportedKey is returned for key types other than RSA and P-256 ECDSA
	ErrUnsupportedKey = errors.New("unsupported signing key")
	// ErrAlgorithmMismatch is returned when a configured algorithm doesn't fit the key
	ErrAlgorithmMismatch = errors.New("signing algorithm does not match key")
)

// SigningKey is private key material plus the window in which tokens signed
// with it verify. A zero NotAfter means no end.
type SigningKey struct {
	ID        string
	Algorithm string
	Private   crypto.Signer
	NotBefore time.Time
	NotAfter  time.Time
}

// Public returns the public half of the key
func (k *SigningKey) Public() crypto.PublicKey {
	return k.Private.Public()
}

// ValidAt reports whether tokens signed with the key verify at t
func (k *SigningKey) ValidAt(t time.Time) bool {
	if !k.NotBefore.IsZero() && t.Before(k.NotBefore) {
		return false
	}
	if !k.NotAfter.IsZero() && !t.Before(k.NotAfter) {
		return false
	}
	return true
}

// SigningMethod returns the golang-jwt method for the key's algorithm
func (k *SigningKey) SigningMethod() jwt.SigningMethod {
	switch k.Algorithm {
	case AlgES256:
		return jwt.SigningMethodES256
	default:
		return jwt.SigningMethodRS256
	}
}

// NewSigningKey wraps a signer, deriving the algorithm when alg is empty and
// the key id from the RFC 7638 thumbprint of the public key.
func NewSigningKey(signer crypto.Signer, alg string, notBefore time.Time) (*SigningKey, error) {
	derived, err := algorithmFor(signer)
	if err != nil {
		return nil, err
	}
	if alg == "" {
		alg = derived
	}
	if alg != derived {
		return nil, fmt.Errorf("%w: %s for %T", ErrAlgorithmMismatch, alg, signer)
	}

	kid, err := thumbprint(signer.Public())
	if err != nil {
		return nil, err
	}

	return &SigningKey{
		ID:        kid,
		Algorithm: alg,
		Private:   signer,
		NotBefore: notBefore,
	}, nil
}

// Generate creates a fresh key for the given algorithm
func Generate(alg string) (*SigningKey, error) {
	var (
		signer crypto.Signer
		err    error
	)
	switch alg {
	case AlgRS256, "":
		signer, err = rsa.GenerateKey(rand.Reader, rsaKeyBits)
	case AlgES256:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		return nil, fmt.Errorf("%w: algorithm %q", ErrUnsupportedKey, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", alg, err)
	}
	return NewSigningKey(signer, alg, time.Time{})
}

// GenerateRSA creates a 2048-bit RS256 key
func GenerateRSA() (*SigningKey, error) {
	return Generate(AlgRS256)
}

// GenerateEC creates a P-256 ES256 key
func GenerateEC() (*SigningKey, error) {
	return Generate(AlgES256)
}

func algorithmFor(signer crypto.Signer) (string, error) {
	switch k := signer.(type) {
	case *rsa.PrivateKey:
		return AlgRS256, nil
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return "", fmt.Errorf("%w: curve %s", ErrUnsupportedKey, k.Curve.Params().Name)
		}
		return AlgES256, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedKey, signer)
	}
}

func thumbprint(pub crypto.PublicKey) (string, error) {
	key, err := jwk.FromRaw(pub)
	if err != nil {
		return "", fmt.Errorf("failed to build jwk: %w", err)
	}
	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}
