package interceptor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeStore is a CredentialStore whose refresh can be held open by the test
type fakeStore struct {
	mu      sync.Mutex
	token   string
	next    string
	failErr error
	release chan struct{}

	refreshCalls atomic.Int32
	clearCalls   atomic.Int32
}

func (s *fakeStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *fakeStore) Refresh(ctx context.Context) (string, error) {
	s.refreshCalls.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.failErr != nil {
		return "", s.failErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = s.next
	return s.next, nil
}

func (s *fakeStore) Clear(context.Context) error {
	s.clearCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func respond(req *http.Request, status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     make(http.Header),
		Request:    req,
	}
}

// acceptOnly answers 200 for the given bearer token and 401 otherwise, counting calls per header
func acceptOnly(token string, seen *sync.Map) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		auth := r.Header.Get("Authorization")
		n, _ := seen.LoadOrStore(auth, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		if auth == "Bearer "+token {
			return respond(r, http.StatusOK), nil
		}
		return respond(r, http.StatusUnauthorized), nil
	})
}

func count(seen *sync.Map, header string) int32 {
	n, ok := seen.Load(header)
	if !ok {
		return 0
	}
	return n.(*atomic.Int32).Load()
}

func newRequest(t *testing.T, ctx context.Context, body string) *http.Request {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://registry.local/api/patients", r)
	require.NoError(t, err)
	return req
}

func TestRoundTrip_AttachesBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(&fakeStore{token: "abc"}, zaptest.NewLogger(t))
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/patients", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")

	resp, err := tr.Client(5 * time.Second).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer abc", got)
	assert.Empty(t, req.Header.Get("Authorization"), "caller's request must not be modified")
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
}

func TestRoundTrip_NoTokenNoHeader(t *testing.T) {
	var present bool
	base := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		_, present = r.Header["Authorization"]
		return respond(r, http.StatusOK), nil
	})

	tr := New(&fakeStore{}, zaptest.NewLogger(t), WithBase(base))
	resp, err := tr.RoundTrip(newRequest(t, context.Background(), ""))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, present)
}

func TestRoundTrip_NonUnauthorizedPassesThrough(t *testing.T) {
	t.Run("server error response", func(t *testing.T) {
		store := &fakeStore{token: "abc"}
		base := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return respond(r, http.StatusInternalServerError), nil
		})

		resp, err := New(store, zaptest.NewLogger(t), WithBase(base)).RoundTrip(newRequest(t, context.Background(), ""))
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Zero(t, store.refreshCalls.Load())
	})

	t.Run("forbidden is not refreshed", func(t *testing.T) {
		store := &fakeStore{token: "abc"}
		base := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return respond(r, http.StatusForbidden), nil
		})

		resp, err := New(store, zaptest.NewLogger(t), WithBase(base)).RoundTrip(newRequest(t, context.Background(), ""))
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Zero(t, store.refreshCalls.Load())
	})

	t.Run("transport error", func(t *testing.T) {
		store := &fakeStore{token: "abc"}
		dialErr := errors.New("connection refused")
		base := roundTripperFunc(func(*http.Request) (*http.Response, error) {
			return nil, dialErr
		})

		_, err := New(store, zaptest.NewLogger(t), WithBase(base)).RoundTrip(newRequest(t, context.Background(), ""))
		assert.ErrorIs(t, err, dialErr)
		assert.Zero(t, store.refreshCalls.Load())
	})
}

func TestRoundTrip_RefreshesAndRetriesOnce(t *testing.T) {
	store := &fakeStore{token: "old", next: "new"}
	var seen sync.Map
	tr := New(store, zaptest.NewLogger(t), WithBase(acceptOnly("new", &seen)))

	resp, err := tr.RoundTrip(newRequest(t, context.Background(), ""))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), store.refreshCalls.Load())
	assert.Equal(t, int32(1), count(&seen, "Bearer old"))
	assert.Equal(t, int32(1), count(&seen, "Bearer new"))
}

func TestRoundTrip_RetryIsNotRepeated(t *testing.T) {
	store := &fakeStore{token: "old", next: "new"}
	var seen sync.Map
	tr := New(store, zaptest.NewLogger(t), WithBase(acceptOnly("never", &seen)))

	resp, err := tr.RoundTrip(newRequest(t, context.Background(), ""))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), store.refreshCalls.Load())
	assert.Equal(t, int32(1), count(&seen, "Bearer new"))
}

func TestRoundTrip_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const n = 10

	store := &fakeStore{token: "old", next: "new", release: make(chan struct{})}
	var seen sync.Map
	tr := New(store, zaptest.NewLogger(t), WithBase(acceptOnly("new", &seen)))

	statuses := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := tr.RoundTrip(newRequest(t, context.Background(), ""))
			errs[i] = err
			if resp != nil {
				statuses[i] = resp.StatusCode
			}
		}(i)
	}

	require.Eventually(t, func() bool {
		return count(&seen, "Bearer old") == n
	}, 5*time.Second, 5*time.Millisecond)
	close(store.release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
	}
	assert.Equal(t, int32(1), store.refreshCalls.Load())
	assert.Equal(t, int32(n), count(&seen, "Bearer new"))
	assert.Zero(t, store.clearCalls.Load())
}

func TestRoundTrip_RefreshFailureExpiresSession(t *testing.T) {
	store := &fakeStore{token: "old", failErr: errors.New("invalid_grant")}
	var seen sync.Map
	tr := New(store, zaptest.NewLogger(t), WithBase(acceptOnly("new", &seen)))

	resp, err := tr.RoundTrip(newRequest(t, context.Background(), ""))

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, "session expired, please log in again", err.Error())
	assert.Equal(t, int32(1), store.clearCalls.Load())
	assert.Empty(t, store.Token())
	assert.Equal(t, int32(1), count(&seen, "Bearer old"), "no retry after a failed refresh")
}

func TestRoundTrip_ConcurrentRefreshFailure(t *testing.T) {
	const n = 5

	store := &fakeStore{token: "old", failErr: errors.New("invalid_grant"), release: make(chan struct{})}
	var seen sync.Map
	tr := New(store, zaptest.NewLogger(t), WithBase(acceptOnly("new", &seen)))

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = tr.RoundTrip(newRequest(t, context.Background(), ""))
		}(i)
	}

	require.Eventually(t, func() bool {
		return count(&seen, "Bearer old") == n
	}, 5*time.Second, 5*time.Millisecond)
	close(store.release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrSessionExpired)
	}
	assert.Equal(t, int32(1), store.refreshCalls.Load())
	assert.Equal(t, int32(1), store.clearCalls.Load())
}

func TestRoundTrip_SettledCycleIsReplaced(t *testing.T) {
	store := &fakeStore{token: "t1", next: "t2"}
	accepted := "t2"
	var mu sync.Mutex
	base := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if r.Header.Get("Authorization") == "Bearer "+accepted {
			return respond(r, http.StatusOK), nil
		}
		return respond(r, http.StatusUnauthorized), nil
	})
	tr := New(store, zaptest.NewLogger(t), WithBase(base))

	resp, err := tr.RoundTrip(newRequest(t, context.Background(), ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mu.Lock()
	accepted = "t3"
	mu.Unlock()
	store.mu.Lock()
	store.next = "t3"
	store.mu.Unlock()

	resp, err = tr.RoundTrip(newRequest(t, context.Background(), ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), store.refreshCalls.Load())
}

func TestRoundTrip_StaleTokenRetriesWithoutRefresh(t *testing.T) {
	store := &fakeStore{token: "old"}
	var seen sync.Map
	base := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		// the token rotates while the first attempt is in flight
		store.mu.Lock()
		store.token = "new"
		store.mu.Unlock()
		return acceptOnly("new", &seen).RoundTrip(r)
	})
	tr := New(store, zaptest.NewLogger(t), WithBase(base))

	resp, err := tr.RoundTrip(newRequest(t, context.Background(), ""))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, store.refreshCalls.Load())
	assert.Equal(t, int32(1), count(&seen, "Bearer new"))
}

func TestRoundTrip_BodyResentOnRetry(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := &fakeStore{token: "old", next: "new"}
	client := New(store, zaptest.NewLogger(t)).Client(5 * time.Second)

	t.Run("request with GetBody", func(t *testing.T) {
		bodies = nil
		resp, err := client.Post(srv.URL+"/queries", "application/json", strings.NewReader(`{"layer":"eeg"}`))
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, []string{`{"layer":"eeg"}`, `{"layer":"eeg"}`}, bodies)
	})

	t.Run("request without GetBody", func(t *testing.T) {
		bodies = nil
		store.mu.Lock()
		store.token = "old"
		store.mu.Unlock()

		req, err := http.NewRequest(http.MethodPost, srv.URL+"/queries", nil)
		require.NoError(t, err)
		req.Body = io.NopCloser(strings.NewReader(`{"layer":"mri"}`))

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, []string{`{"layer":"mri"}`, `{"layer":"mri"}`}, bodies)
	})
}

type trackedBody struct {
	io.Reader
	closed *atomic.Int32
}

func (b trackedBody) Close() error {
	b.closed.Add(1)
	return nil
}

func TestRoundTrip_ClosesEveryBodyCopy(t *testing.T) {
	var opened, closed atomic.Int32
	open := func() (io.ReadCloser, error) {
		opened.Add(1)
		return trackedBody{Reader: strings.NewReader(`{"layer":"eeg"}`), closed: &closed}, nil
	}

	base := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		_, _ = io.ReadAll(r.Body)
		r.Body.Close()
		if r.Header.Get("Authorization") != "Bearer new" {
			return respond(r, http.StatusUnauthorized), nil
		}
		return respond(r, http.StatusOK), nil
	})
	tr := New(&fakeStore{token: "old", next: "new"}, zaptest.NewLogger(t), WithBase(base))

	req, err := http.NewRequest(http.MethodPost, "http://registry.local/api/queries", nil)
	require.NoError(t, err)
	req.Body, _ = open()
	req.GetBody = open

	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(4), opened.Load())
	assert.Equal(t, opened.Load(), closed.Load())
}

func TestRoundTrip_WaiterCancellation(t *testing.T) {
	store := &fakeStore{token: "old", next: "new", release: make(chan struct{})}
	var seen sync.Map
	tr := New(store, zaptest.NewLogger(t), WithBase(acceptOnly("new", &seen)))

	firstDone := make(chan *http.Response, 1)
	go func() {
		resp, _ := tr.RoundTrip(newRequest(t, context.Background(), ""))
		firstDone <- resp
	}()
	require.Eventually(t, func() bool {
		return store.refreshCalls.Load() == 1
	}, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.RoundTrip(newRequest(t, ctx, ""))
	assert.ErrorIs(t, err, context.Canceled)

	close(store.release)
	resp := <-firstDone
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), store.refreshCalls.Load())
}

func TestRoundTrip_RefreshDetachedFromStarter(t *testing.T) {
	store := &fakeStore{token: "old", next: "new", release: make(chan struct{})}
	var seen sync.Map
	tr := New(store, zaptest.NewLogger(t), WithBase(acceptOnly("new", &seen)))

	ctx, cancel := context.WithCancel(context.Background())
	starterErr := make(chan error, 1)
	go func() {
		_, err := tr.RoundTrip(newRequest(t, ctx, ""))
		starterErr <- err
	}()
	require.Eventually(t, func() bool {
		return store.refreshCalls.Load() == 1
	}, 5*time.Second, 5*time.Millisecond)

	waiterDone := make(chan *http.Response, 1)
	go func() {
		resp, _ := tr.RoundTrip(newRequest(t, context.Background(), ""))
		waiterDone <- resp
	}()
	require.Eventually(t, func() bool {
		return count(&seen, "Bearer old") == 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-starterErr, context.Canceled)

	close(store.release)
	resp := <-waiterDone
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), store.refreshCalls.Load())
}

func TestRoundTrip_RefreshTimeout(t *testing.T) {
	store := &fakeStore{token: "old", next: "new", release: make(chan struct{})}
	defer close(store.release)
	var seen sync.Map
	tr := New(store, zaptest.NewLogger(t), WithBase(acceptOnly("new", &seen)), WithRefreshTimeout(20*time.Millisecond))

	_, err := tr.RoundTrip(newRequest(t, context.Background(), ""))
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), store.clearCalls.Load())
}

type countingRecorder struct {
	started, succeeded, failed, retried atomic.Int32
}

func (r *countingRecorder) RefreshStarted() { r.started.Add(1) }
func (r *countingRecorder) RefreshFinished(ok bool, _ time.Duration) {
	if ok {
		r.succeeded.Add(1)
	} else {
		r.failed.Add(1)
	}
}
func (r *countingRecorder) RequestRetried() { r.retried.Add(1) }

func TestRoundTrip_RecordsEvents(t *testing.T) {
	rec := &countingRecorder{}
	store := &fakeStore{token: "old", next: "new"}
	var seen sync.Map
	tr := New(store, zaptest.NewLogger(t), WithBase(acceptOnly("new", &seen)), WithRecorder(rec))

	_, err := tr.RoundTrip(newRequest(t, context.Background(), `{"q":1}`))
	require.NoError(t, err)

	assert.Equal(t, int32(1), rec.started.Load())
	assert.Equal(t, int32(1), rec.succeeded.Load())
	assert.Zero(t, rec.failed.Load())
	assert.Equal(t, int32(1), rec.retried.Load())
}
