package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"
)

// KV is a key/value namespace inside kv_store, identified by (scope, owner).
// The user scope uses the profile name as owner so several PLM accounts can
// share one database.
type KV struct {
	db    *sql.DB
	scope string
	owner string
	now   func() time.Time
}

// NewKV returns the namespace for scope and owner.
func NewKV(db *sql.DB, scope, owner string) *KV {
	return &KV{db: db, scope: scope, owner: owner, now: time.Now}
}

// Get returns the value for key and whether it exists.
func (kv *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := kv.db.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE scope = ? AND owner = ? AND key = ?`,
		kv.scope, kv.owner, key,
	).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s[%s]: %w", kv.scope, key, err)
	}
	return value, true, nil
}

// Set upserts key.
func (kv *KV) Set(ctx context.Context, key, value string) error {
	_, err := kv.db.ExecContext(ctx, `
		INSERT INTO kv_store (scope, owner, key, value, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, owner, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, kv.scope, kv.owner, key, value, kv.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set %s[%s]: %w", kv.scope, key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (kv *KV) Delete(ctx context.Context, key string) error {
	_, err := kv.db.ExecContext(ctx,
		`DELETE FROM kv_store WHERE scope = ? AND owner = ? AND key = ?`,
		kv.scope, kv.owner, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s[%s]: %w", kv.scope, key, err)
	}
	return nil
}

// Count returns the number of keys in the namespace.
func (kv *KV) Count(ctx context.Context) (int, error) {
	var n int
	err := kv.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv_store WHERE scope = ? AND owner = ?`,
		kv.scope, kv.owner,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s keys: %w", kv.scope, err)
	}
	return n, nil
}
