// Package auth owns the bearer token shared between the REST client and
// the streaming session. The token is acquired lazily via the login
// endpoint, or supplied statically by configuration.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360/collarkit/errors"
)

const loginPath = "/user/login"

// Config holds constructor configuration for the credential manager.
type Config struct {
	BaseURL  string
	Token    string // pre-issued static token; disables login
	Email    string
	Password string

	HTTPClient *http.Client // optional; default 30s timeout
	Logger     *slog.Logger // optional
}

// Manager holds the current bearer token. At most one login request is in
// flight at a time: the token mutex is held across the attempt, so
// overlapping callers wait for the single acquisition instead of issuing
// duplicate login calls.
type Manager struct {
	baseURL    string
	email      string
	password   string
	static     bool
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// NewManager creates a credential manager from configuration.
func NewManager(cfg Config) *Manager {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		baseURL:    cfg.BaseURL,
		email:      cfg.Email,
		password:   cfg.Password,
		static:     cfg.Token != "",
		httpClient: httpClient,
		logger:     logger,
		token:      cfg.Token,
	}
}

// Static reports whether the manager was configured with a pre-issued
// token. Static tokens cannot be refreshed.
func (m *Manager) Static() bool {
	return m.static
}

// Token returns the current bearer token, performing a login call first
// if none is held.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" {
		return m.token, nil
	}

	if m.email == "" || m.password == "" {
		return "", errors.WrapFatal(errors.ErrAuthentication,
			"Manager", "Token", "no credential source configured")
	}

	token, err := m.login(ctx)
	if err != nil {
		return "", err
	}

	m.token = token
	m.logger.Debug("acquired access token via login")
	return token, nil
}

// Invalidate clears the held token so the next Token call
// re-authenticates. For a static token this is a no-op: there is nothing
// to refresh, and callers will keep failing with the same token until
// reconfigured. That is a legitimate deployment mode, not a defect.
func (m *Manager) Invalidate() {
	if m.static {
		return
	}
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
	m.logger.Debug("access token invalidated")
}

// login performs the login POST. Callers hold m.mu.
func (m *Manager) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(loginRequest{Login: m.email, Password: m.password})
	if err != nil {
		return "", errors.WrapFatal(err, "Manager", "login", "encode login request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return "", errors.WrapFatal(err, "Manager", "login", "build login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", errors.WrapTransient(err, "Manager", "login", "post login request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", errors.WrapFatal(
			errors.NewStatusError(resp.StatusCode, string(snippet)),
			"Manager", "login", "login rejected")
	}

	var decoded loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", errors.WrapInvalid(err, "Manager", "login", "decode login response")
	}
	if decoded.AccessToken == "" {
		return "", errors.WrapFatal(errors.ErrTokenMissing,
			"Manager", "login", "extract access token")
	}

	return decoded.AccessToken, nil
}
