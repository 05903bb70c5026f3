package libtrack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/feub/libtrack-go/credentials"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// State is the session lifecycle state.
type State int

const (
	// StateUnknown is the initial state, before Restore has read the
	// credential store.
	StateUnknown State = iota

	// StateUnauthenticated means no usable token pair is held.
	StateUnauthenticated

	// StateAuthenticated means a token pair is held.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Manager owns the in-memory session, keeps it synchronized with the
// credential store, and runs the refresh protocol. It is the only
// writer of the store; the dispatcher reads tokens through it and asks
// it for refreshes.
type Manager struct {
	httpClient *http.Client
	baseURL    string
	store      credentials.Store
	logger     *slog.Logger

	// group deduplicates concurrent refresh attempts: while one
	// exchange is in flight, every other caller waits on it and
	// receives the same outcome.
	group singleflight.Group

	// mu guards the session fields and serializes credential store
	// writes with the in-memory state they mirror, so the two can never
	// diverge across a concurrent logout.
	mu      sync.Mutex
	state   State
	session credentials.Session

	// generation is bumped by Logout and Invalidate. A refresh that
	// started under an older generation discards its result instead of
	// resurrecting a cleared session.
	generation uint64

	onAuthRequired func()
}

// NewManager creates a session manager backed by the given credential
// store, talking to the API at baseURL. If httpClient is nil,
// http.DefaultClient is used. If logger is nil, logging is discarded.
func NewManager(store credentials.Store, httpClient *http.Client, baseURL string, logger *slog.Logger) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1 << 30)}))
	}

	return &Manager{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		store:      store,
		logger:     logger,
		state:      StateUnknown,
	}
}

// OnAuthRequired registers the callback fired when the session dies
// terminally (refresh and retry both failed, or the server forced a
// re-login). Hosts typically route to their login screen here. The
// callback runs outside the manager lock.
func (m *Manager) OnAuthRequired(fn func()) {
	m.mu.Lock()
	m.onAuthRequired = fn
	m.mu.Unlock()
}

// Restore loads any persisted session from the credential store and
// resolves the initial Unknown state. Store failures are treated as "no
// session": the client starts logged out rather than crashing on
// corrupt local state.
func (m *Manager) Restore() State {
	sess, err := m.store.Load()
	if err != nil {
		m.logger.Warn("credential store read failed, starting unauthenticated", slog.Any("error", err))

		sess = credentials.Session{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !sess.Valid() {
		m.session = credentials.Session{}
		m.state = StateUnauthenticated

		return m.state
	}

	m.session = sess
	m.state = StateAuthenticated

	return m.state
}

// Login authenticates against the remote API and persists the
// resulting session. On failure the current session, if any, is left
// untouched and the reason is surfaced to the caller; nothing is
// retried automatically.
func (m *Manager) Login(ctx context.Context, email, password string) (credentials.Session, error) {
	status, body, err := m.postJSON(ctx, "/api/login", loginRequest{Username: email, Password: password})
	if err != nil {
		return credentials.Session{}, err
	}

	if status < 200 || status > 299 {
		msg := gjson.GetBytes(body, "message").Str
		if msg == "" {
			msg = fmt.Sprintf("login failed (%d)", status)
		}

		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return credentials.Session{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
		}

		return credentials.Session{}, &APIError{StatusCode: status, Message: msg}
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil || lr.Token == "" || lr.RefreshToken == "" {
		return credentials.Session{}, fmt.Errorf("%w: malformed login payload", ErrAPIResponse)
	}

	sess := credentials.Session{
		AccessToken:  lr.Token,
		RefreshToken: lr.RefreshToken,
		Email:        lr.User,
	}
	if exp, ok := tokenExpiry(lr.Token); ok {
		sess.ExpiresAt = exp
	}

	// Install and persist in one critical section: a logout arriving
	// now must either run before both or after both, never between.
	m.mu.Lock()
	m.session = sess
	m.state = StateAuthenticated

	if err := m.store.Save(sess); err != nil {
		m.logger.Error("persisting session failed", slog.Any("error", err))
	}
	m.mu.Unlock()

	m.logger.Info("logged in", slog.String("user", sess.Email))

	return sess, nil
}

// Logout clears the in-memory session and the credential store. It
// never fails: persistence errors are logged so the caller can always
// treat logout as complete. A refresh still in flight when Logout runs
// cannot resurrect the session afterwards; logout wins.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.session = credentials.Session{}
	m.state = StateUnauthenticated
	m.generation++

	if err := m.store.Clear(); err != nil {
		m.logger.Error("clearing credential store failed", slog.Any("error", err))
	}
	m.mu.Unlock()

	m.logger.Info("logged out")
}

// Invalidate clears the session like Logout and fires the registered
// re-authentication callback. The dispatcher calls it when a refreshed
// request still comes back unauthorized.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.session = credentials.Session{}
	m.state = StateUnauthenticated
	m.generation++
	cb := m.onAuthRequired

	if err := m.store.Clear(); err != nil {
		m.logger.Error("clearing credential store failed", slog.Any("error", err))
	}
	m.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Refresh exchanges the refresh token for a new token pair. Concurrent
// callers share a single in-flight exchange: whichever call arrives
// first performs the network request and every waiter receives that
// same outcome, so a burst of 401s can never double-spend a single-use
// refresh token. Returns true when a new pair is in place.
//
// On any failure (no refresh token, transport error, non-2xx status,
// unparseable body) the session and store are cleared and false is
// returned.
func (m *Manager) Refresh(ctx context.Context) bool {
	v, _, _ := m.group.Do("refresh", func() (any, error) {
		return m.refresh(ctx), nil
	})

	ok, _ := v.(bool)

	return ok
}

func (m *Manager) refresh(ctx context.Context) bool {
	m.mu.Lock()
	refreshToken := m.session.RefreshToken
	email := m.session.Email
	gen := m.generation
	m.mu.Unlock()

	if refreshToken == "" {
		return false
	}

	status, body, err := m.postJSON(ctx, "/api/token/refresh", refreshRequest{RefreshToken: refreshToken})
	if err == nil && (status < 200 || status > 299) {
		msg := gjson.GetBytes(body, "message").Str
		if msg == "" {
			msg = fmt.Sprintf("refresh failed (%d)", status)
		}

		err = fmt.Errorf("%w: %s", ErrAPIResponse, msg)
	}

	var rr refreshResponse
	if err == nil {
		if uerr := json.Unmarshal(body, &rr); uerr != nil || rr.Token == "" || rr.RefreshToken == "" {
			err = fmt.Errorf("%w: malformed refresh payload", ErrAPIResponse)
		}
	}

	if err != nil {
		m.logger.Warn("token refresh failed", slog.Any("error", err))
		m.clear(gen)

		return false
	}

	sess := credentials.Session{
		AccessToken:  rr.Token,
		RefreshToken: rr.RefreshToken,
		Email:        email,
	}
	if exp, ok := tokenExpiry(rr.Token); ok {
		sess.ExpiresAt = exp
	}

	m.mu.Lock()
	if m.generation != gen {
		// A logout landed while the exchange was in flight. Discard the
		// new pair rather than resurrecting a cleared session.
		m.mu.Unlock()

		return false
	}

	m.session = sess
	m.state = StateAuthenticated

	// Persist before releasing the lock: once the generation check has
	// passed, a logout must queue behind this save, not race it.
	if err := m.store.Save(sess); err != nil {
		m.logger.Error("persisting refreshed session failed", slog.Any("error", err))
	}
	m.mu.Unlock()

	return true
}

// clear drops the session and store contents, unless a logout already
// superseded the operation that failed.
func (m *Manager) clear(gen uint64) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()

		return
	}

	m.session = credentials.Session{}
	m.state = StateUnauthenticated

	if err := m.store.Clear(); err != nil {
		m.logger.Error("clearing credential store failed", slog.Any("error", err))
	}
	m.mu.Unlock()
}

// postJSON sends an unauthenticated JSON POST to the auth endpoints and
// returns the status code and raw body.
func (m *Manager) postJSON(ctx context.Context, endpoint string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshalling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading response from %s: %v", ErrNetwork, endpoint, err)
	}

	return resp.StatusCode, body, nil
}

// Token returns the current access token, or empty string.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.session.AccessToken
}

// Email returns the identity of the logged-in user, for display only.
func (m *Manager) Email() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.session.Email
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Authenticated reports whether a token pair is held.
func (m *Manager) Authenticated() bool {
	return m.State() == StateAuthenticated
}

// IsExpired reports whether the held access token is past its expiry.
// Unknown expiry counts as expired, so callers fall through to the
// server, which is the real authority.
func (m *Manager) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.session.Expired(time.Now())
}
