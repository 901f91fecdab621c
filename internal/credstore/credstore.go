// Package credstore persists login credentials for the automation,
// encrypted at rest with AES-GCM under a locally generated key file.
// This keeps credentials out of config files and logs; it is not a
// defense against an attacker who can read the key file.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials is the payload handed to the authentication manager.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ErrNotFound is returned by Load when no credentials were ever saved.
var ErrNotFound = errors.New("credstore: no stored credentials")

// Store reads and writes one encrypted credentials file. The key file
// lives next to the credentials file with a ".key" suffix.
type Store struct {
	path string
}

// New creates a store rooted at path. Nothing touches the disk until
// Load or Save is called.
func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) keyPath() string {
	return s.path + ".key"
}

// Load decrypts and returns the stored credentials.
func (s *Store) Load() (Credentials, error) {
	var creds Credentials

	blob, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return creds, ErrNotFound
		}
		return creds, fmt.Errorf("credstore: reading %s: %w", s.path, err)
	}

	key, err := os.ReadFile(s.keyPath())
	if err != nil {
		return creds, fmt.Errorf("credstore: reading key file: %w", err)
	}

	plain, err := decrypt(key, blob)
	if err != nil {
		return creds, fmt.Errorf("credstore: decrypting credentials: %w", err)
	}

	if err := json.Unmarshal(plain, &creds); err != nil {
		return creds, fmt.Errorf("credstore: corrupt credentials file: %w", err)
	}
	return creds, nil
}

// Save encrypts and writes the credentials, generating the key file on
// first use. Files are created with owner-only permissions.
func (s *Store) Save(creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("credstore: creating directory: %w", err)
	}

	key, err := s.ensureKey()
	if err != nil {
		return err
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("credstore: marshaling credentials: %w", err)
	}

	blob, err := encrypt(key, plain)
	if err != nil {
		return fmt.Errorf("credstore: encrypting credentials: %w", err)
	}

	if err := os.WriteFile(s.path, blob, 0o600); err != nil {
		return fmt.Errorf("credstore: writing %s: %w", s.path, err)
	}
	return nil
}

// Clear removes stored credentials. The key file is kept so future
// saves reuse it. Missing files are not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("credstore: removing %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) ensureKey() ([]byte, error) {
	key, err := os.ReadFile(s.keyPath())
	if err == nil && len(key) == 32 {
		return key, nil
	}

	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("credstore: generating key: %w", err)
	}
	if err := os.WriteFile(s.keyPath(), key, 0o600); err != nil {
		return nil, fmt.Errorf("credstore: writing key file: %w", err)
	}
	return key, nil
}

func encrypt(key, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func decrypt(key, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
