// Package credentials provides durable, process-independent storage for
// the LibTrack session: access token, refresh token, user identity, and
// expiry metadata. All backends follow one rule: the record is written
// and cleared as a whole, so a reader never observes a session holding
// only one of the two tokens.
package credentials

import "time"

//go:generate mockgen -source=credentials.go -destination=mock_store.go -package=credentials

// Session is the persisted authenticated state for this installation.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Email        string    `json:"email,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// Valid reports whether the session carries both tokens. Tokens are set
// and cleared together; a record holding only one is treated as absent.
func (s Session) Valid() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}

// Expired reports whether the access token has expired at the given
// time. An unknown expiry counts as expired.
func (s Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return true
	}

	return !now.Before(s.ExpiresAt)
}

// IsZero reports whether the session holds no data at all.
func (s Session) IsZero() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.Email == "" && s.ExpiresAt.IsZero()
}

// Store persists exactly one Session per installation.
//
// Load is fail-soft: "nothing stored" and "stored data unreadable" both
// return an empty Session with a nil error. Only I/O failures surface an
// error, and callers are expected to treat those as "no session" too.
type Store interface {
	Load() (Session, error)
	Save(Session) error
	Clear() error
}
