// Package nexus is the authenticated REST client for the repository
// manager. Every Ensure operation is read-then-write: the live resource is
// fetched first and a mutating call is issued only when it differs from the
// desired state.
package nexus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nexusallow/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Client talks to the manager's REST API with basic auth.
type Client struct {
	apiRoot  string
	username string
	password string
	client   *http.Client
	logger   *slog.Logger
}

// Config carries the connection parameters for a Client.
type Config struct {
	Host       string
	Port       int
	PathPrefix string // context path when the manager sits behind a proxy
	Username   string
	Password   string
	Timeout    time.Duration
	Logger     *slog.Logger
	HTTPClient *http.Client // optional; tests inject an httptest client
}

// New creates a Client for the manager at cfg.Host:cfg.Port.
func New(cfg Config) *Client {
	if cfg.Username == "" {
		cfg.Username = "admin"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = SharedHTTPClient(cfg.Timeout)
	}
	prefix := strings.TrimSuffix(cfg.PathPrefix, "/")
	return &Client{
		apiRoot:  fmt.Sprintf("http://%s:%d%s/service/rest", cfg.Host, cfg.Port, prefix),
		username: cfg.Username,
		password: cfg.Password,
		client:   httpClient,
		logger:   cfg.Logger,
	}
}

// do issues one authenticated request. Transport failures surface as
// RemoteUnavailableError; status handling is left to the caller.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiRoot+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.RemoteUnavailableError{Op: method + " " + path, Err: err}
	}
	return resp, nil
}

// doJSON marshals payload and issues the request with a JSON body.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", path, err)
	}
	return c.do(ctx, method, path, "application/json", body)
}

// getJSON fetches path and decodes the response body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.apiError("GET "+path, path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeBody decodes a JSON response body into out.
func decodeBody(resp *http.Response, out any) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError maps a non-success response onto the error taxonomy. The body is
// drained so the connection can be reused.
func (c *Client) apiError(op, resource string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthenticationError{StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return &domain.RemoteUnavailableError{
			Op:  op,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	default:
		return &domain.ValidationError{
			Resource:   resource,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
}

// Ping probes the unauthenticated status endpoint. Used by the bootstrap
// wait loop to detect a co-starting manager coming up.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiRoot+"/v1/status", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.RemoteUnavailableError{Op: "ping", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &domain.RemoteUnavailableError{
			Op:  "ping",
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	}
	return nil
}

// TestAuth verifies the configured credentials by listing the admin user.
func (c *Client) TestAuth(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/v1/security/users?userId=admin", "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.apiError("test auth", "users", resp)
	}
	c.logger.Info("authentication test passed", "user", c.username)
	return nil
}

// ChangeAdminPassword rotates the admin credential using the password the
// client currently holds. A 401/403 means the initial-password flow has
// already completed (the credential we hold is no longer valid for it), so
// it surfaces as ErrAlreadyChanged rather than a hard failure.
func (c *Client) ChangeAdminPassword(ctx context.Context, newPassword string) error {
	resp, err := c.do(ctx, http.MethodPut, "/v1/security/users/"+c.username+"/change-password",
		"text/plain", []byte(newPassword))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent:
		c.password = newPassword
		c.logger.Info("admin password changed", "user", c.username)
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("change password for %s: %w", c.username, domain.ErrAlreadyChanged)
	default:
		return c.apiError("change password", "users/"+c.username, resp)
	}
}
