package libtrack

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the session manager and the dispatcher.
var (
	// ErrNetwork wraps transport-level failures where no response was
	// received. The session is left untouched.
	ErrNetwork = errors.New("network request failed")

	// ErrAuthenticationRequired is terminal: the session could not be
	// refreshed and has been cleared. The user must log in again.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrInvalidCredentials is returned by Login when the server
	// rejects the email/password pair.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAPIResponse marks a structurally invalid server payload, such
	// as a body missing the envelope type discriminator.
	ErrAPIResponse = errors.New("unexpected API response")
)

// APIError is a non-2xx business response (404, 409, 422, 500, ...)
// passed through to the caller verbatim. It is never produced for
// authentication failures, which the dispatcher resolves itself.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("API error (%d)", e.StatusCode)
}
