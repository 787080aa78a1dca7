// Package registry is the JSON client for the epilepsy registry REST API.
// Patients, layers, variables and queries are carried as opaque JSON.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/registry-console/interceptor"
	"github.com/upb/registry-console/services"
	"go.uber.org/zap"
)

// RequestIDHeader carries the correlation id to the registry API
const RequestIDHeader = "X-Request-ID"

const maxResponseBytes = 16 << 20

// Response is a registry API response as received
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client calls the registry API through an authenticating http.Client
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a registry client. httpClient is expected to use the interceptor transport.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid registry base url %q", baseURL)
	}
	return &Client{baseURL: u, httpClient: httpClient, logger: logger}, nil
}

// Forward sends a request to the registry API and returns the response
// whatever its status. Only transport failures and an expired session are errors.
func (c *Client) Forward(ctx context.Context, method, path string, query url.Values, body io.Reader, header http.Header) (*Response, error) {
	target := *c.baseURL
	target.Path = c.baseURL.Path + "/" + strings.TrimPrefix(path, "/")
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, services.WrapInternal("create registry request", err)
	}
	for _, name := range []string{"Accept", "Content-Type"} {
		if v := header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set(RequestIDHeader, requestID(ctx))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, interceptor.ErrSessionExpired) {
			return nil, services.ErrSessionExpired
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("registry request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return nil, services.WrapExternal("registry API unavailable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, services.WrapExternal("read registry response", err)
	}

	c.logger.Debug("registry request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

// ListLayers returns the research layers
func (c *Client) ListLayers(ctx context.Context) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/layers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListVariables returns the clinical variables, optionally restricted to one layer
func (c *Client) ListVariables(ctx context.Context, layerID string) ([]json.RawMessage, error) {
	path := "/variables"
	if layerID != "" {
		path = "/layers/" + layerID + "/variables"
	}
	var out []json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunQuery submits a dynamic query and returns the raw result
func (c *Client) RunQuery(ctx context.Context, query json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(query) {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "query must be valid JSON", nil)
	}
	var out json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/queries", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var body io.Reader
	header := http.Header{}
	if payload != nil {
		body = bytes.NewReader(payload)
		header.Set("Content-Type", "application/json")
	}

	resp, err := c.Forward(ctx, method, path, nil, body, header)
	if err != nil {
		return err
	}
	if err := StatusError(resp); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return services.WrapExternal("parse registry response", err)
	}
	return nil
}

// StatusError maps a non-2xx registry response to a domain error
func StatusError(resp *Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errType services.ErrorType
	switch {
	case resp.StatusCode == http.StatusNotFound:
		errType = services.ErrorTypeNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		errType = services.ErrorTypeUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		errType = services.ErrorTypeForbidden
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		errType = services.ErrorTypeValidation
	default:
		errType = services.ErrorTypeExternal
	}

	return services.NewDomainError(errType, "registry API error", nil).
		WithDetail("status", resp.StatusCode).
		WithDetail("body", truncate(string(resp.Body), 512))
}

func requestID(ctx context.Context) string {
	if id := chimw.GetReqID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
