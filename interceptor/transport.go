// Package interceptor provides the authenticating transport placed in front of
// every outgoing registry call. It attaches the operator's bearer token and,
// when the registry answers 401, refreshes the token once for all concurrent
// callers and retries each of them exactly once.
package interceptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSessionExpired is returned when a 401 could not be recovered by a token refresh.
// The credential store has already been cleared when it is returned.
var ErrSessionExpired = errors.New("session expired, please log in again")

// CredentialStore is the subset of the session store the transport needs
type CredentialStore interface {
	Token() string
	Refresh(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// Recorder receives refresh and retry events. Implementations must be safe for concurrent use.
type Recorder interface {
	RefreshStarted()
	RefreshFinished(success bool, elapsed time.Duration)
	RequestRetried()
}

type nopRecorder struct{}

func (nopRecorder) RefreshStarted()                     {}
func (nopRecorder) RefreshFinished(bool, time.Duration) {}
func (nopRecorder) RequestRetried()                     {}

// Transport is an http.RoundTripper that authenticates requests against a CredentialStore
type Transport struct {
	base           http.RoundTripper
	store          CredentialStore
	logger         *zap.Logger
	recorder       Recorder
	refreshTimeout time.Duration

	mu       sync.Mutex
	inflight *refreshCycle
}

// Option configures a Transport
type Option func(*Transport)

// WithBase sets the round tripper requests are dispatched through (default http.DefaultTransport)
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) { t.base = rt }
}

// WithRefreshTimeout bounds each refresh cycle. Zero leaves it unbounded.
func WithRefreshTimeout(d time.Duration) Option {
	return func(t *Transport) { t.refreshTimeout = d }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(t *Transport) { t.recorder = r }
}

// New creates a Transport backed by store
func New(store CredentialStore, logger *zap.Logger, opts ...Option) *Transport {
	t := &Transport{
		base:     http.DefaultTransport,
		store:    store,
		logger:   logger,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Client returns an http.Client using the transport
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	token := t.store.Token()
	resp, err := t.base.RoundTrip(authorize(req, token, body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)

	t.logger.Debug("request unauthorized, recovering session",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path))

	fresh, err := t.recoverToken(req.Context(), token)
	if err != nil {
		return nil, err
	}

	t.recorder.RequestRetried()
	return t.base.RoundTrip(authorize(req, fresh, body))
}

// recoverToken returns a token to retry with. It joins the in-flight refresh
// when there is one and starts a new one otherwise. A request that was sent
// with a token other than the stored one is retried with the stored token.
func (t *Transport) recoverToken(ctx context.Context, sent string) (string, error) {
	t.mu.Lock()
	cycle := t.inflight
	if cycle == nil {
		if current := t.store.Token(); current != "" && current != sent {
			t.mu.Unlock()
			return current, nil
		}
		cycle = newRefreshCycle()
		t.inflight = cycle
		go t.refresh(ctx, cycle)
	}
	t.mu.Unlock()

	return cycle.wait(ctx)
}

// authorize clones req with the bearer header set. The original request is not modified.
func authorize(req *http.Request, token string, body func() (io.ReadCloser, error)) *http.Request {
	out := req.Clone(req.Context())
	if body != nil {
		// replayableBody already proved the body can be produced
		out.Body, _ = body()
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return out
}

// replayableBody returns a function producing a fresh copy of the request body,
// or nil when the request has none. Bodies without GetBody are read into memory.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		rewound, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		rewound.Close()
		req.Body.Close()
		return req.GetBody, nil
	}

	buf, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
