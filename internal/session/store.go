package session

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sessionFile = "session.enc"
	keyFile     = "session.key"
)

// Store persists the session encrypted at rest in the data directory. The
// key lives beside the ciphertext with owner-only permissions; the file
// layout is nonce followed by ciphertext.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (st *Store) key() ([]byte, error) {
	path := filepath.Join(st.dir, keyFile)
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("session key %s has wrong size", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(st.dir, 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

// Load reads and decrypts the saved session. A missing file is a fresh
// start, not an error.
func (st *Store) Load() (*Session, error) {
	raw, err := os.ReadFile(filepath.Join(st.dir, sessionFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	key, err := st.key()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize() {
		return nil, fmt.Errorf("session file too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(plain, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save encrypts and writes the session with owner-only permissions.
func (st *Store) Save(s *Session) error {
	plain, err := json.Marshal(s)
	if err != nil {
		return err
	}
	key, err := st.key()
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	out := aead.Seal(nonce, nonce, plain, nil)

	if err := os.MkdirAll(st.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(st.dir, sessionFile), out, 0o600)
}

// Clear removes the persisted session file, keeping the key.
func (st *Store) Clear() error {
	err := os.Remove(filepath.Join(st.dir, sessionFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
