package interceptor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// refreshCycle is one settled-once refresh. token and err are written before done is closed.
type refreshCycle struct {
	done  chan struct{}
	token string
	err   error
}

func newRefreshCycle() *refreshCycle {
	return &refreshCycle{done: make(chan struct{})}
}

func (c *refreshCycle) wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return c.token, c.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// refresh runs a cycle to completion. It is detached from the cancellation of
// the request that started it so other waiters are not failed by it.
func (t *Transport) refresh(parent context.Context, cycle *refreshCycle) {
	ctx := context.WithoutCancel(parent)
	if t.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.refreshTimeout)
		defer cancel()
	}

	t.recorder.RefreshStarted()
	start := time.Now()

	token, err := t.callRefresh(ctx)
	if err != nil {
		t.logger.Warn("token refresh failed, clearing session", zap.Error(err))
		// ctx may already be past the refresh timeout
		if clearErr := t.store.Clear(context.WithoutCancel(parent)); clearErr != nil {
			t.logger.Error("failed to clear session after refresh failure", zap.Error(clearErr))
		}
		token, err = "", ErrSessionExpired
	} else {
		t.logger.Info("token refreshed")
	}
	t.recorder.RefreshFinished(err == nil, time.Since(start))

	t.mu.Lock()
	cycle.token, cycle.err = token, err
	t.inflight = nil
	t.mu.Unlock()
	close(cycle.done)
}

func (t *Transport) callRefresh(ctx context.Context) (token string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()

	token, err = t.store.Refresh(ctx)
	if err == nil && token == "" {
		err = fmt.Errorf("refresh returned an empty token")
	}
	return token, err
}
