package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lherron/fieldsync/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Client talks to a fieldsyncd server over HTTP
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithToken sets the bearer token sent with every request
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient returns a client for the server at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	Message string `json:"message"`
}

// ApplyMilestoneUpdate posts req to /v1/milestones/apply
func (c *Client) ApplyMilestoneUpdate(ctx context.Context, req Request) (*Result, error) {
	var res Result
	if err := c.do(ctx, http.MethodPost, "/v1/milestones/apply", req, &res); err != nil {
		var ae *domain.AuthError
		var te *domain.TransientError
		if errors.As(err, &ae) || errors.As(err, &te) {
			return nil, err
		}
		var se *statusError
		if errors.As(err, &se) && (se.status == http.StatusConflict || se.status == http.StatusNotFound) {
			return nil, &domain.ConflictError{TargetID: req.TargetID, MilestoneName: req.MilestoneName, Reason: se.message}
		}
		return nil, err
	}
	return &res, nil
}

// Component fetches the authoritative state of a component
func (c *Client) Component(ctx context.Context, id string) (*domain.Component, error) {
	var comp domain.Component
	body := map[string]string{"id": id}
	if err := c.do(ctx, http.MethodPost, "/v1/components/get", body, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

// Health checks that the server is reachable and accepts our credentials
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

// statusError carries a non-2xx status that is neither auth nor transient
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.status, e.message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransientError{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &domain.TransientError{Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		return nil
	}

	msg := errorMessage(data)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthError{Status: resp.StatusCode, Message: msg}
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusNotFound:
		return &statusError{status: resp.StatusCode, message: msg}
	default:
		return &domain.TransientError{Status: resp.StatusCode, Err: errors.New(msg)}
	}
}

func errorMessage(data []byte) string {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.Message != "" {
		return eb.Message
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "no response body"
	}
	return msg
}
