package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is the default base URL of an Elasticsearch node.
const DefaultBaseURL = "http://localhost:9200"

// Client is an Elasticsearch REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	username   string
	password   string
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithBaseURL sets the node URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBasicAuth sets credentials sent with every request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// New creates a new Elasticsearch client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the node URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases idle keep-alive connections held by the HTTP client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// request describes one HTTP call.
type request struct {
	method      string
	path        string
	query       url.Values
	contentType string
	body        []byte
	opaqueID    string
}

// do performs a request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, r request, result any) error {
	start := time.Now()

	u, err := url.Parse(c.baseURL + r.path)
	if err != nil {
		return fmt.Errorf("parsing URL: %w", err)
	}
	u.RawQuery = r.query.Encode()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		contentType := r.contentType
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}
	opaqueID := r.opaqueID
	if opaqueID == "" {
		opaqueID = uuid.NewString()
	}
	req.Header.Set("X-Opaque-Id", opaqueID)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Debug("HTTP request failed",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.String("opaque_id", opaqueID),
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := c.parseError(resp)
		slog.Debug("HTTP request returned error",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.String("opaque_id", opaqueID),
			slog.Int("status", resp.StatusCode),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return apiErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	slog.Debug("HTTP request completed",
		slog.String("method", r.method),
		slog.String("path", r.path),
		slog.String("opaque_id", opaqueID),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return nil
}

// parseError extracts an APIError from an error response. The engine
// reports either a structured cause or a bare string.
func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && len(errResp.Error) > 0 {
		var cause ErrorCause
		if json.Unmarshal(errResp.Error, &cause) == nil && cause.Reason != "" {
			apiErr.Type = cause.Type
			apiErr.Reason = cause.Reason
			return apiErr
		}
		var msg string
		if json.Unmarshal(errResp.Error, &msg) == nil && msg != "" {
			apiErr.Reason = msg
			return apiErr
		}
	}
	apiErr.Reason = strings.TrimSpace(string(body))
	return apiErr
}

func indexPath(index, endpoint string) string {
	if index == "" {
		return "/" + endpoint
	}
	return "/" + url.PathEscape(index) + "/" + endpoint
}
