package credentials

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// defaultKeyringService is the keyring service name used when none is given.
const defaultKeyringService = "libtrack"

// keyringItem is the account name the session record is stored under.
const keyringItem = "session"

// KeyringStore persists the session record in the operating system's
// credential manager (Keychain, Secret Service, Windows Credential
// Manager). The record is one JSON item, written and removed as a
// whole.
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a keyring-backed store. An empty service name
// falls back to "libtrack".
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = defaultKeyringService
	}

	return &KeyringStore{service: service}
}

// Load returns the stored session. A missing or unparseable keyring
// item yields an empty session rather than an error.
func (k *KeyringStore) Load() (Session, error) {
	v, err := keyring.Get(k.service, keyringItem)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Session{}, nil
		}

		return Session{}, fmt.Errorf("reading keyring: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(v), &sess); err != nil {
		return Session{}, nil
	}

	return sess, nil
}

// Save persists the session as one keyring item.
func (k *KeyringStore) Save(sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	if err := keyring.Set(k.service, keyringItem, string(data)); err != nil {
		return fmt.Errorf("writing keyring: %w", err)
	}

	return nil
}

// Clear removes the stored session. Clearing an empty keyring is a no-op.
func (k *KeyringStore) Clear() error {
	err := keyring.Delete(k.service, keyringItem)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("clearing keyring: %w", err)
	}

	return nil
}
