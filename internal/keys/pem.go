package keys

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LoadPEMFile reads a PKCS#1, SEC 1 or PKCS#8 private key
func LoadPEMFile(path, alg string) (*SigningKey, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	signer, err := ParsePEM(data)
	if err != nil {
		return nil, err
	}

	return NewSigningKey(signer, alg, time.Time{})
}

// ParsePEM decodes the first PEM block into a signer
func ParsePEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block from signing key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	return signer, nil
}

// WritePEMFile writes the key as PKCS#8 with owner-only permissions
func WritePEMFile(path string, key *SigningKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key.Private)
	if err != nil {
		return fmt.Errorf("failed to marshal signing key: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return os.WriteFile(path, data, 0o600)
}

// LoadOrGenerate loads the key at path, or generates and persists one when the
// file doesn't exist. An empty path yields an ephemeral key.
func LoadOrGenerate(path, alg string) (*SigningKey, bool, error) {
	if path == "" {
		key, err := Generate(alg)
		return key, true, err
	}

	key, err := LoadPEMFile(path, alg)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	key, err = Generate(alg)
	if err != nil {
		return nil, false, err
	}
	if err := WritePEMFile(path, key); err != nil {
		return nil, false, err
	}
	return key, true, nil
}
