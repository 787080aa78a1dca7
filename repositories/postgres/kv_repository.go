package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"github.com/upb/registry-console/repositories"
	"go.uber.org/zap"
)

// KeyValueRepository implements the repositories.KeyValueRepository interface
type KeyValueRepository struct {
	db     *DB
	tx     repositories.TransactionManager
	logger *zap.Logger
}

// NewKeyValueRepository creates a new key-value repository
func NewKeyValueRepository(db *DB, logger *zap.Logger) *KeyValueRepository {
	return &KeyValueRepository{
		db:     db,
		tx:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

// Get retrieves an entry by profile and key
func (r *KeyValueRepository) Get(ctx context.Context, profile, key string) (string, bool, error) {
	query := `
		SELECT value
		FROM session_entries
		WHERE profile = $1 AND key = $2
	`

	var value string
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, profile, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get session entry: %w", err)
	}
	return value, true, nil
}

// SetMany upserts all entries inside one transaction
func (r *KeyValueRepository) SetMany(ctx context.Context, profile string, entries map[string]string) error {
	query := `
		INSERT INTO session_entries (profile, key, value, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (profile, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	err := r.tx.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(ctx, r.db)
		for _, k := range keys {
			if _, err := executor.ExecContext(ctx, query, profile, k, entries[k]); err != nil {
				return fmt.Errorf("failed to set session entry %q: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("session entries written", zap.String("profile", profile), zap.Strings("keys", keys))
	return nil
}

// DeleteMany removes the given keys from the profile
func (r *KeyValueRepository) DeleteMany(ctx context.Context, profile string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query := `DELETE FROM session_entries WHERE profile = $1 AND key = ANY($2)`

	if _, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, profile, pq.Array(keys)); err != nil {
		return fmt.Errorf("failed to delete session entries: %w", err)
	}

	r.logger.Debug("session entries deleted", zap.String("profile", profile), zap.Strings("keys", keys))
	return nil
}

// HealthCheck checks the database connection
func (r *KeyValueRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// Close closes the database connection pool
func (r *KeyValueRepository) Close() error {
	return r.db.Close()
}
