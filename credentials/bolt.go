package credentials

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// storeDirPerm is the permission mode for the store directory (~/.libtrack/).
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the store database file.
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout is the maximum time to wait for the bolt database lock.
	storeOpenTimeout = 5 * time.Second
)

var (
	sessionBucket = []byte("session")
	sessionKey    = []byte("current")
	saltKey       = []byte("salt")
)

// BoltStore persists the session record in a bbolt database. The whole
// record is one JSON value under one key, so a save is a single Put and
// a reader can never observe a half-written session.
type BoltStore struct {
	db  *bolt.DB
	box *sealedBox // nil when the record is stored in the clear
}

// Open opens the default store at ~/.libtrack/credentials.db, creating
// it if it does not exist.
func Open() (*BoltStore, error) {
	path, err := defaultPath()
	if err != nil {
		return nil, err
	}

	return OpenAt(path)
}

// OpenAt opens a store at the given path, creating it if it does not
// exist. Useful for tests that need an isolated database.
func OpenAt(path string) (*BoltStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// OpenSealed opens the default store with the record encrypted at rest
// using a key derived from passphrase. For hosts without an OS keyring.
func OpenSealed(passphrase string) (*BoltStore, error) {
	path, err := defaultPath()
	if err != nil {
		return nil, err
	}

	return OpenSealedAt(path, passphrase)
}

// OpenSealedAt opens a sealed store at the given path. A random salt is
// generated on first open and persisted beside the record.
func OpenSealedAt(path, passphrase string) (*BoltStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	salt, err := loadOrCreateSalt(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	box, err := newSealedBox(passphrase, salt)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, box: box}, nil
}

func openDB(path string) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing credential store: %w", err)
	}

	return db, nil
}

func loadOrCreateSalt(db *bolt.DB) ([]byte, error) {
	var salt []byte

	err := db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)

		if v := b.Get(saltKey); v != nil {
			salt = append([]byte(nil), v...)

			return nil
		}

		fresh, err := newSalt()
		if err != nil {
			return err
		}

		salt = fresh

		return b.Put(saltKey, fresh)
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store salt: %w", err)
	}

	return salt, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load returns the stored session. A missing, undecryptable, or
// unparseable record yields an empty session rather than an error.
func (s *BoltStore) Load() (Session, error) {
	var raw []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(sessionBucket).Get(sessionKey); v != nil {
			raw = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("reading credential store: %w", err)
	}

	if raw == nil {
		return Session{}, nil
	}

	if s.box != nil {
		plaintext, err := s.box.Open(raw)
		if err != nil {
			// Wrong passphrase or tampered record. Treat as no session.
			return Session{}, nil
		}

		raw = plaintext
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, nil
	}

	return sess, nil
}

// Save persists the session as one record.
func (s *BoltStore) Save(sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	if s.box != nil {
		data, err = s.box.Seal(data)
		if err != nil {
			return fmt.Errorf("sealing session: %w", err)
		}
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(sessionKey, data)
	})
	if err != nil {
		return fmt.Errorf("writing credential store: %w", err)
	}

	return nil
}

// Clear removes the stored session. Clearing an empty store is a no-op.
func (s *BoltStore) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete(sessionKey)
	})
	if err != nil {
		return fmt.Errorf("clearing credential store: %w", err)
	}

	return nil
}

func defaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".libtrack", "credentials.db"), nil
}
