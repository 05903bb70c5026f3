// Package libtrack is the authenticated request core of the LibTrack
// client: a session manager owning the access/refresh token lifecycle
// and a dispatcher that attaches credentials to outbound calls and
// recovers transparently from expired access tokens.
package libtrack

import "encoding/json"

// loginRequest is the payload for POST /api/login. The server expects
// the email address in the username field.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is returned from POST /api/login on success.
type loginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	User         string `json:"user"`
}

// refreshRequest is the payload for POST /api/token/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refreshResponse is returned from POST /api/token/refresh on success.
// The refresh token rotates on every exchange.
type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

// Envelope is the canonical wrapper the LibTrack API puts around JSON
// response bodies. Data stays opaque for the caller to decode.
type Envelope struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Envelope type discriminators.
const (
	TypeSuccess = "success"
	TypeError   = "error"
	TypeInfo    = "info"
)
