package repositories

import (
	"context"
	"errors"
)

// ErrStoreClosed is returned when operations are attempted on a closed repository.
var ErrStoreClosed = errors.New("key-value store is closed")

// KeyValueRepository persists string entries grouped by profile.
// A profile plays the role a browser profile plays for local storage:
// every entry of the credential store lives under exactly one profile.
// Implementations must be safe for concurrent use.
type KeyValueRepository interface {
	// Get returns the value stored under key. The boolean is false when the
	// entry does not exist; that is not an error.
	Get(ctx context.Context, profile, key string) (string, bool, error)

	// SetMany writes all entries atomically. Existing entries are overwritten.
	SetMany(ctx context.Context, profile string, entries map[string]string) error

	// DeleteMany removes the given keys atomically. Missing keys are ignored.
	DeleteMany(ctx context.Context, profile string, keys ...string) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases any resources held by the repository.
	Close() error
}

// TransactionManager manages database transactions
type TransactionManager interface {
	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}
