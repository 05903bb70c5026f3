package credentials

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

// newTestStore opens an isolated plaintext store in a temp directory.
func newTestStore(t *testing.T) *BoltStore {
	t.Helper()

	s, err := OpenAt(filepath.Join(t.TempDir(), "credentials.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func testSession() Session {
	return Session{
		AccessToken:  "t1",
		RefreshToken: "r1",
		Email:        "user@example.com",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
}

func TestBoltStore_LoadEmpty(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.Load()
	require.NoError(t, err)
	assert.True(t, sess.IsZero())
}

func TestBoltStore_SaveLoadRoundtrip(t *testing.T) {
	s := newTestStore(t)
	want := testSession()

	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, got.Valid(), "both tokens should be present after save")
}

func TestBoltStore_SaveOverwrites(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(testSession()))

	rotated := testSession()
	rotated.AccessToken = "t2"
	rotated.RefreshToken = "r2"
	require.NoError(t, s.Save(rotated))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "t2", got.AccessToken)
	assert.Equal(t, "r2", got.RefreshToken)
}

func TestBoltStore_ClearRemovesSession(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(testSession()))

	require.NoError(t, s.Clear())

	got, err := s.Load()
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestBoltStore_ClearIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
}

func TestBoltStore_CorruptRecordLoadsEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(testSession()))

	// Scribble over the record behind the store's back.
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(sessionKey, []byte("{not json"))
	})
	require.NoError(t, err)

	got, err := s.Load()
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "corrupt record should load as no session, got %+v", got)
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")

	s, err := OpenAt(path)
	require.NoError(t, err)
	want := testSession()
	require.NoError(t, s.Save(want))
	require.NoError(t, s.Close())

	s2, err := OpenAt(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// --- sealed store ---

func TestSealedStore_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")

	s, err := OpenSealedAt(path, "correct horse battery")
	require.NoError(t, err)
	defer s.Close()

	want := testSession()
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSealedStore_RecordIsNotPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")

	s, err := OpenSealedAt(path, "correct horse battery")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(testSession()))

	var raw []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		raw = append([]byte(nil), tx.Bucket(sessionBucket).Get(sessionKey)...)
		return nil
	})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "t1")
	assert.NotContains(t, string(raw), "r1")
}

func TestSealedStore_WrongPassphraseLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")

	s, err := OpenSealedAt(path, "correct horse battery")
	require.NoError(t, err)
	require.NoError(t, s.Save(testSession()))
	require.NoError(t, s.Close())

	s2, err := OpenSealedAt(path, "wrong passphrase")
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load()
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestSealedStore_SamePassphraseAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")

	s, err := OpenSealedAt(path, "correct horse battery")
	require.NoError(t, err)
	want := testSession()
	require.NoError(t, s.Save(want))
	require.NoError(t, s.Close())

	// The persisted salt must make the derived key reproducible.
	s2, err := OpenSealedAt(path, "correct horse battery")
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSealedStore_TamperedRecordLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")

	s, err := OpenSealedAt(path, "correct horse battery")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(testSession()))

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		sealed := append([]byte(nil), b.Get(sessionKey)...)
		sealed[len(sealed)-1] ^= 0xff

		return b.Put(sessionKey, sealed)
	})
	require.NoError(t, err)

	got, err := s.Load()
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

// --- Session helpers ---

func TestSession_Valid(t *testing.T) {
	assert.True(t, Session{AccessToken: "t", RefreshToken: "r"}.Valid())
	assert.False(t, Session{AccessToken: "t"}.Valid())
	assert.False(t, Session{RefreshToken: "r"}.Valid())
	assert.False(t, Session{}.Valid())
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()

	assert.True(t, Session{}.Expired(now), "unknown expiry counts as expired")
	assert.True(t, Session{ExpiresAt: now.Add(-time.Minute)}.Expired(now))
	assert.True(t, Session{ExpiresAt: now}.Expired(now))
	assert.False(t, Session{ExpiresAt: now.Add(time.Minute)}.Expired(now))
}
