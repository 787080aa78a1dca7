package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/upb/registry-console/repositories"
)

// Compile-time interface satisfaction check.
var _ repositories.KeyValueRepository = (*KeyValueRepo)(nil)

// KeyValueRepo is the SQLite implementation of repositories.KeyValueRepository.
type KeyValueRepo struct {
	db *DB
}

// NewKeyValueRepo creates a new KeyValueRepo. Migrations must already be applied.
func NewKeyValueRepo(db *DB) *KeyValueRepo {
	return &KeyValueRepo{db: db}
}

// Get retrieves the value for key in profile. Returns ("", false, nil) when absent.
func (r *KeyValueRepo) Get(ctx context.Context, profile, key string) (string, bool, error) {
	const query = `SELECT value FROM session_entries WHERE profile = ? AND key = ?`
	var value string
	err := r.db.Reader.QueryRowContext(ctx, query, profile, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get entry %q: %w", key, err)
	}
	return value, true, nil
}

// SetMany upserts all entries in a single transaction.
func (r *KeyValueRepo) SetMany(ctx context.Context, profile string, entries map[string]string) error {
	const query = `INSERT OR REPLACE INTO session_entries (profile, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)`

	return r.inTx(ctx, func(tx *sql.Tx) error {
		for k, v := range entries {
			if _, err := tx.ExecContext(ctx, query, profile, k, v); err != nil {
				return fmt.Errorf("set entry %q: %w", k, err)
			}
		}
		return nil
	})
}

// DeleteMany removes the keys from profile in a single statement.
func (r *KeyValueRepo) DeleteMany(ctx context.Context, profile string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	query := `DELETE FROM session_entries WHERE profile = ? AND key IN (` + placeholders + `)`

	args := make([]any, 0, len(keys)+1)
	args = append(args, profile)
	for _, k := range keys {
		args = append(args, k)
	}
	if _, err := r.db.Writer.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	return nil
}

// HealthCheck pings the reader connection
func (r *KeyValueRepo) HealthCheck(ctx context.Context) error {
	if err := r.db.Reader.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (r *KeyValueRepo) Close() error {
	return r.db.Close()
}

func (r *KeyValueRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
