package tokenstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"filippo.io/age"

	"adsync/internal/askdelphi"
)

// AgeStore persists the token set age-encrypted with a passphrase, using
// age's scrypt-based recipient. The token cache holds long-lived refresh
// tokens, so an at-rest encrypted backend is available for shared machines.
type AgeStore struct {
	path       string
	passphrase string
}

// NewAgeStore creates an AgeStore at the given path.
func NewAgeStore(path, passphrase string) (*AgeStore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("age token store requires a passphrase")
	}
	return &AgeStore{path: path, passphrase: passphrase}, nil
}

// Load decrypts and returns the persisted token set, or (nil, nil) when the
// file does not exist.
func (s *AgeStore) Load() (*askdelphi.TokenSet, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening token cache: %w", err)
	}
	defer f.Close()

	identity, err := age.NewScryptIdentity(s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(f, identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting token cache: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading token cache: %w", err)
	}

	var ts askdelphi.TokenSet
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("parsing token cache %s: %w", s.path, err)
	}
	return &ts, nil
}

// Save encrypts and replaces the persisted token set.
func (s *AgeStore) Save(ts *askdelphi.TokenSet) error {
	plain, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("encoding token set: %w", err)
	}

	recipient, err := age.NewScryptRecipient(s.passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return fmt.Errorf("encrypting token set: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted token set: %w", err)
	}

	return writeFileAtomic(s.path, buf.Bytes(), 0600)
}

// Clear removes the token cache file.
func (s *AgeStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token cache: %w", err)
	}
	return nil
}

var _ askdelphi.TokenStore = (*AgeStore)(nil)
