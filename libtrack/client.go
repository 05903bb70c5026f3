package libtrack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/tidwall/gjson"
)

// Client dispatches authenticated calls to the LibTrack API. It
// attaches the bearer token held by the session Manager, recovers from
// an expired access token by running one coordinated refresh and
// retrying the request exactly once, and resolves terminal
// authentication failures by invalidating the session.
//
// Business responses, including non-2xx statuses like 404 or 409, are
// returned to the caller untouched: the client interprets only
// authentication semantics, never payload contents.
type Client struct {
	httpClient *http.Client
	baseURL    string
	sessions   *Manager
	logger     *slog.Logger
}

// NewClient creates a dispatcher bound to the given session manager.
// If httpClient is nil, http.DefaultClient is used. If logger is nil,
// logging is discarded. The API base URL is taken from the manager.
func NewClient(sessions *Manager, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1 << 30)}))
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    sessions.baseURL,
		sessions:   sessions,
		logger:     logger,
	}
}

// Do sends one logical request. A nil body sends no payload; otherwise
// body is marshalled to JSON once and replayed byte-identically when a
// retry is needed.
//
// The caller owns the returned response body and must close it.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}
	}

	resp, err := c.send(ctx, method, path, payload, c.sessions.Token())
	if err != nil {
		return nil, err
	}

	if !authExpired(resp) {
		return resp, nil
	}

	// The access token is no longer accepted: a 401, or an HTML login
	// page where JSON was expected. Run one coordinated refresh, then
	// replay the request with the token it produced.
	drain(resp)

	if !c.sessions.Refresh(ctx) {
		c.logger.Warn("token refresh failed, session invalidated", slog.String("path", path))
		c.sessions.Invalidate()

		return nil, fmt.Errorf("%w: token refresh failed", ErrAuthenticationRequired)
	}

	retry, err := c.send(ctx, method, path, payload, c.sessions.Token())
	if err != nil {
		return nil, err
	}

	if authExpired(retry) {
		// The freshly minted token was rejected too. Give up rather
		// than loop.
		drain(retry)
		c.logger.Warn("request unauthorized after refresh, session invalidated", slog.String("path", path))
		c.sessions.Invalidate()

		return nil, fmt.Errorf("%w: request unauthorized after refresh", ErrAuthenticationRequired)
	}

	return retry, nil
}

// Get issues an authenticated GET.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Put issues an authenticated PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

// Delete issues an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

// DoEnvelope sends a request and normalizes the response into the
// canonical {type, message, data} envelope. Bodies that do not carry a
// recognized type discriminator are rejected at the boundary instead
// of propagating shape ambiguity inward. Non-2xx business statuses are
// returned as *APIError with the server's message when one is present.
func (c *Client) DoEnvelope(ctx context.Context, method, path string, body any) (*Envelope, error) {
	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response from %s: %v", ErrNetwork, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    gjson.GetBytes(raw, "message").Str,
		}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding envelope from %s: %v", ErrAPIResponse, path, err)
	}

	switch env.Type {
	case TypeSuccess, TypeError, TypeInfo:
		return &env, nil
	default:
		return nil, fmt.Errorf("%w: unknown envelope type %q", ErrAPIResponse, env.Type)
	}
}

// Health probes GET /api/health, the conventional server-reachability
// check.
func (c *Client) Health(ctx context.Context) (*Envelope, error) {
	return c.DoEnvelope(ctx, http.MethodGet, "/api/health", nil)
}

// send issues a single HTTP request with the given token attached.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	return resp, nil
}

// authExpired reports whether a response means the access token is no
// longer valid. Some deployments redirect expired sessions to an HTML
// login page instead of returning 401, so an HTML content type where
// JSON was expected counts too.
func authExpired(resp *http.Response) bool {
	if resp.StatusCode == http.StatusUnauthorized {
		return true
	}

	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	return err == nil && mt == "text/html"
}

// drain discards and closes a response body so the underlying
// connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
