// Package remote implements the stateless HTTP client for the quality
// management API. It normalizes transport failures into transient errors and
// business rejections into terminal ones, so the sync queue manager can
// decide retry policy without inspecting HTTP details.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"fieldsync/internal/domain"
)

var _ domain.RemoteClient = (*Client)(nil)

// collectionPaths maps entity kinds to their REST collection segments.
var collectionPaths = map[domain.EntityKind]string{
	domain.KindAudit:    "audits",
	domain.KindNCR:      "ncrs",
	domain.KindRisk:     "risks",
	domain.KindAction:   "actions",
	domain.KindDocument: "documents",
}

// Client performs authenticated JSON calls against the remote API.
type Client struct {
	baseURL string
	httpc   *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a Client for the given base URL. timeout bounds each
// request; 0 uses a 15s default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

// SetToken installs the bearer token used on authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the currently installed bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges credentials for a bearer token and installs it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"email": email, "password": password}, nil)
	if err != nil {
		return "", err
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if resp.Token == "" {
		return "", domain.ErrValidation("login response carried no token")
	}

	c.SetToken(resp.Token)
	return resp.Token, nil
}

// Health probes GET /health (unauthenticated). A nil error means reachable.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	return err
}

// ListAudits fetches all audits visible to the authenticated user.
func (c *Client) ListAudits(ctx context.Context) ([]json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/audits", nil, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode audits response: %w", err)
	}
	return resp.Data, nil
}

// OneClickAudit creates an audit from a template in a single call.
func (c *Client) OneClickAudit(ctx context.Context, auditType, department string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/audits/one-click",
		map[string]string{"type": auditType, "department": department}, nil)
}

// Analytics fetches the server-side analytics summary.
func (c *Client) Analytics(ctx context.Context) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/analytics", nil, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode analytics response: %w", err)
	}
	return resp.Data, nil
}

// Deliver sends one queued mutation to the remote authority. The mutation id
// travels as the Idempotency-Key header so the server can dedupe re-delivery
// after an ambiguous failure. The returned payload is the authoritative
// entity state for create/update, nil for delete.
func (c *Client) Deliver(ctx context.Context, m *domain.QueuedMutation) (json.RawMessage, error) {
	collection, ok := collectionPaths[m.Kind]
	if !ok {
		return nil, domain.ErrValidation("no remote collection for kind %q", m.Kind)
	}

	headers := map[string]string{"Idempotency-Key": m.ID}

	switch m.Operation {
	case domain.OpCreate:
		return c.do(ctx, http.MethodPost, "/api/"+collection, json.RawMessage(m.Payload), headers)
	case domain.OpUpdate:
		return c.do(ctx, http.MethodPut, "/api/"+collection+"/"+m.TargetID, json.RawMessage(m.Payload), headers)
	case domain.OpDelete:
		_, err := c.do(ctx, http.MethodDelete, "/api/"+collection+"/"+m.TargetID, nil, headers)
		return nil, err
	default:
		return nil, domain.ErrValidation("unknown operation %q", m.Operation)
	}
}

// do performs one HTTP round trip and applies the failure convention:
// network errors and 5xx are transient, non-2xx otherwise is a terminal
// rejection carrying the server's {error} string.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, headers map[string]string) (json.RawMessage, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, domain.ErrTransient(err, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, domain.ErrTransient(err, "read response body: %v", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 500:
		return nil, domain.ErrTransient(nil, "%s %s: server error %d", method, path, resp.StatusCode)
	default:
		return nil, &domain.RemoteRejectionError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}
}

// errorMessage extracts the {error} string from a non-2xx response body.
func errorMessage(body []byte) string {
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != "" {
		return resp.Error
	}
	if len(body) > 0 {
		return string(body)
	}
	return "request rejected"
}
