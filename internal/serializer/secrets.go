package serializer

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SecretProvider supplies the process-wide master secret from which
// encryption keys are derived. Backed by an external secret store in
// production; key material never appears in serialized payloads.
type SecretProvider interface {
	MasterSecret() ([]byte, error)
}

// StaticSecretProvider holds the master secret in memory. Intended for
// embedded deployments and tests.
type StaticSecretProvider struct {
	secret []byte
}

// NewStaticSecretProvider creates a provider around the given secret
func NewStaticSecretProvider(secret []byte) (*StaticSecretProvider, error) {
	if len(secret) == 0 {
		return nil, errors.New("master secret must not be empty")
	}
	return &StaticSecretProvider{secret: append([]byte(nil), secret...)}, nil
}

// MasterSecret returns the configured secret
func (p *StaticSecretProvider) MasterSecret() ([]byte, error) {
	return p.secret, nil
}

// stateKeyInfo namespaces the derived key so the same master secret can
// serve other purposes without key reuse.
var stateKeyInfo = []byte("stratoshift/orchestrator:flow-state-encryption:v1")

// deriveStateKey derives the 256-bit AES key for flow state encryption
// from the master secret via HKDF-SHA256.
func deriveStateKey(provider SecretProvider) ([]byte, error) {
	secret, err := provider.MasterSecret()
	if err != nil {
		return nil, err
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, stateKeyInfo), key); err != nil {
		return nil, err
	}
	return key, nil
}
