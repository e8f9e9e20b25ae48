package deviceid

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound means no secret has been persisted yet.
	ErrNotFound = errors.New("device secret not found")
	// ErrUnavailable means the store exists but cannot be reached right
	// now (locked keychain, missing mount). Callers retry later; they
	// must not fall back to a weaker identifier.
	ErrUnavailable = errors.New("secure store unavailable")
)

// SecureStore is the capability the identity provider needs from the
// platform: a device-local, non-synced byte slot. Injecting it keeps
// the provider testable with an in-memory fake.
type SecureStore interface {
	Load() ([]byte, error)
	Save(secret []byte) error
}

// FileStore keeps the secret in a 0600 file inside an app-namespaced
// directory. The file survives app reinstalls that preserve the
// directory and dies with it on reset, which is exactly the lifetime
// the fingerprint is supposed to have.
type FileStore struct {
	path string
}

func NewFileStore(dir, namespace string) *FileStore {
	return &FileStore{
		path: filepath.Join(dir, fmt.Sprintf("%s.device-secret", namespace)),
	}
}

func (s *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *FileStore) Save(secret []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.WriteFile(s.path, secret, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
