// Package deviceid derives a stable, non-reversible device fingerprint
// from a locally persisted random secret. Only the derived digest ever
// leaves the device; the secret cannot be recovered from it.
package deviceid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	secretLen      = 32
	fingerprintLen = 32
)

// ErrStorageUnavailable is returned when the secure store cannot be
// read or written. The caller retries after the precondition clears.
var ErrStorageUnavailable = errors.New("device identity storage unavailable")

// Provider produces the device fingerprint. The secret is generated
// lazily on first use and reused for the life of the store entry; a
// store cleared by the OS or a factory reset yields a fresh secret and
// therefore a fresh fingerprint, which the server treats as a new
// device.
type Provider struct {
	store     SecureStore
	salt      []byte
	namespace string

	mu     sync.Mutex
	cached string
}

// NewProvider builds a provider over the given store. salt is a
// device-derived value (vendor-scoped identifier or equivalent) mixed
// into the derivation so that neither the stored secret nor the salt
// alone reproduces the fingerprint.
func NewProvider(store SecureStore, salt, namespace string) *Provider {
	return &Provider{
		store:     store,
		salt:      []byte(salt),
		namespace: namespace,
	}
}

// Fingerprint returns the hex-encoded device fingerprint. Calls are
// idempotent: every call on the same store entry returns the same
// value.
func (p *Provider) Fingerprint() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" {
		return p.cached, nil
	}

	secret, err := p.loadOrCreateSecret()
	if err != nil {
		return "", err
	}

	fp, err := derive(secret, p.salt, p.namespace)
	if err != nil {
		return "", err
	}

	p.cached = fp
	return fp, nil
}

func (p *Provider) loadOrCreateSecret() ([]byte, error) {
	secret, err := p.store.Load()
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	secret = make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate device secret: %w", err)
	}

	if err := p.store.Save(secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return secret, nil
}

func derive(secret, salt []byte, namespace string) (string, error) {
	r := hkdf.New(sha256.New, secret, salt, []byte(namespace))

	out := make([]byte, fingerprintLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", fmt.Errorf("failed to derive fingerprint: %w", err)
	}

	return hex.EncodeToString(out), nil
}
