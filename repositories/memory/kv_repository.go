package memory

import (
	"context"
	"sync"

	"github.com/upb/registry-console/repositories"
)

var _ repositories.KeyValueRepository = (*KeyValueRepository)(nil)

// KeyValueRepository keeps entries in process memory. Entries do not survive a restart.
type KeyValueRepository struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
	closed  bool
}

// NewKeyValueRepository creates an empty in-memory repository
func NewKeyValueRepository() *KeyValueRepository {
	return &KeyValueRepository{entries: make(map[string]map[string]string)}
}

// Get returns the value stored under key for the profile
func (r *KeyValueRepository) Get(_ context.Context, profile, key string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return "", false, repositories.ErrStoreClosed
	}
	v, ok := r.entries[profile][key]
	return v, ok, nil
}

// SetMany writes all entries under the profile
func (r *KeyValueRepository) SetMany(_ context.Context, profile string, entries map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return repositories.ErrStoreClosed
	}
	p, ok := r.entries[profile]
	if !ok {
		p = make(map[string]string, len(entries))
		r.entries[profile] = p
	}
	for k, v := range entries {
		p[k] = v
	}
	return nil
}

// DeleteMany removes the keys from the profile
func (r *KeyValueRepository) DeleteMany(_ context.Context, profile string, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return repositories.ErrStoreClosed
	}
	p := r.entries[profile]
	for _, k := range keys {
		delete(p, k)
	}
	if len(p) == 0 {
		delete(r.entries, profile)
	}
	return nil
}

// HealthCheck reports whether the repository is still open
func (r *KeyValueRepository) HealthCheck(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return repositories.ErrStoreClosed
	}
	return nil
}

// Close marks the repository closed; later calls fail with ErrStoreClosed
func (r *KeyValueRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.entries = nil
	return nil
}
