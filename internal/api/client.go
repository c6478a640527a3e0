// Package api provides the single HTTP gateway to the Learnforge backend.
// Every request funnels through one path that injects a fresh credential
// per call and classifies every failure into the client error taxonomy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
)

// maxResponseBytes caps how much of a response body is read (1MB).
const maxResponseBytes = 1 << 20

// CredentialSource supplies a fresh credential for each outbound request.
// Implementations must be safe for concurrent use.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// CredentialFunc adapts a function to CredentialSource.
type CredentialFunc func(ctx context.Context) (string, error)

// Credential implements CredentialSource.
func (f CredentialFunc) Credential(ctx context.Context) (string, error) {
	return f(ctx)
}

// Client is the HTTP gateway. Construct with NewClient, then bind a
// credential source and session-expired callback before issuing
// authenticated calls.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu               sync.RWMutex
	creds            CredentialSource
	onSessionExpired func()
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetCredentialSource binds the supplier consulted before every request.
func (c *Client) SetCredentialSource(src CredentialSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = src
}

// SetSessionExpiredCallback binds the hook invoked when a call ultimately
// fails because the session or credential is no longer valid. It fires at
// most once per failing call.
func (c *Client) SetSessionExpiredCallback(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSessionExpired = fn
}

// Get issues a GET request and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.request(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST request with an optional JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.request(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT request with an optional JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.request(ctx, http.MethodPut, path, body, out)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.request(ctx, http.MethodDelete, path, nil, out)
}

// request performs the call with at most one transparent retry on an
// expired credential. The session-expired callback fires exactly once
// when the call ultimately fails as expired; a successful retry fires
// nothing.
func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	err := c.attempt(ctx, method, path, body, out)
	if err == nil {
		return nil
	}

	if apperrors.GetKind(err) == apperrors.KindAuthExpired && c.credentialSource() != nil {
		slog.Debug("retrying with fresh credential", "method", method, "path", path)
		retryErr := c.attempt(ctx, method, path, body, out)
		if retryErr == nil {
			return nil
		}
		err = retryErr
	}

	if apperrors.GetKind(err) == apperrors.KindAuthExpired {
		c.notifySessionExpired()
	}
	return err
}

// attempt performs a single HTTP exchange and classifies the outcome.
func (c *Client) attempt(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.KindClient, "failed to encode request", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return apperrors.Wrap(apperrors.KindClient, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if src := c.credentialSource(); src != nil {
		credential, err := src.Credential(ctx)
		if err != nil {
			return apperrors.Wrap(apperrors.KindAuthExpired, "no valid credential", err)
		}
		if credential != "" {
			req.Header.Set("Authorization", "Bearer "+credential)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindNetwork, "network error - check your connection", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperrors.Wrap(apperrors.KindNetwork, "failed to read response", err)
	}

	// Some backends assert expiry in the body while returning a non-401
	// status; honor the assertion regardless of the status line.
	if bodyAssertsExpiry(data) {
		return apperrors.New(apperrors.KindAuthExpired, "session expired").WithStatus(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.New(apperrors.KindAuthExpired, "session expired").WithStatus(resp.StatusCode)
	case resp.StatusCode == http.StatusForbidden:
		return apperrors.New(apperrors.KindClient, errorMessage(data, "access denied")).WithStatus(resp.StatusCode)
	case resp.StatusCode >= 500:
		return apperrors.New(apperrors.KindServer, errorMessage(data, "server error")).WithStatus(resp.StatusCode)
	case resp.StatusCode >= 400:
		return apperrors.New(apperrors.KindClient, errorMessage(data, "request rejected")).WithStatus(resp.StatusCode)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return apperrors.Wrap(apperrors.KindClient, "unexpected response format", err).WithStatus(resp.StatusCode)
		}
		return nil
	default:
		return apperrors.New(apperrors.KindClient, "unexpected response").WithStatus(resp.StatusCode)
	}
}

func (c *Client) credentialSource() CredentialSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

func (c *Client) notifySessionExpired() {
	c.mu.RLock()
	fn := c.onSessionExpired
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// errorBody is the error shape the backend uses for failed requests.
type errorBody struct {
	Error          string `json:"error"`
	Detail         string `json:"detail"`
	Message        string `json:"message"`
	SessionExpired bool   `json:"session_expired"`
}

// expiryMarkers are substrings backends use to assert credential or
// session invalidity, sometimes on statuses other than 401.
var expiryMarkers = []string{
	"session expired",
	"session has expired",
	"invalid session",
	"token expired",
	"invalid token",
	"not authenticated",
}

func bodyAssertsExpiry(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	var probe errorBody
	if err := json.Unmarshal(data, &probe); err == nil && probe.SessionExpired {
		return true
	}
	lower := strings.ToLower(string(data))
	for _, marker := range expiryMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// errorMessage extracts a human-readable message from an error body,
// falling back when the body is empty or unparseable.
func errorMessage(data []byte, fallback string) string {
	var probe errorBody
	if err := json.Unmarshal(data, &probe); err == nil {
		for _, m := range []string{probe.Error, probe.Detail, probe.Message} {
			if m != "" {
				return m
			}
		}
	}
	return fallback
}
