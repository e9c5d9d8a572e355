package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VisitorKV is the durable suppression backend: one row per (visitor, key)
// in postgres. It implements suppress.KV for a single visitor, so dismissal
// flags and visit counters survive across page loads and devices behind the
// same visitor id.
type VisitorKV struct {
	pool    *pgxpool.Pool
	visitor string
	timeout time.Duration
}

func (s *Store) VisitorKV(visitorID string) *VisitorKV {
	return &VisitorKV{pool: s.pool, visitor: visitorID, timeout: 2 * time.Second}
}

func (kv *VisitorKV) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), kv.timeout)
}

func (kv *VisitorKV) Get(key string) (string, bool, error) {
	ctx, cancel := kv.ctx()
	defer cancel()
	var val string
	err := kv.pool.QueryRow(ctx,
		`SELECT value FROM visitor_kv WHERE visitor_id = $1 AND key = $2`,
		kv.visitor, key).Scan(&val)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("visitor kv get: %w", err)
	}
	return val, true, nil
}

func (kv *VisitorKV) Set(key, value string) error {
	ctx, cancel := kv.ctx()
	defer cancel()
	_, err := kv.pool.Exec(ctx, `
		INSERT INTO visitor_kv (visitor_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (visitor_id, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = now()
	`, kv.visitor, key, value)
	if err != nil {
		return fmt.Errorf("visitor kv set: %w", err)
	}
	return nil
}

func (kv *VisitorKV) Delete(key string) error {
	ctx, cancel := kv.ctx()
	defer cancel()
	_, err := kv.pool.Exec(ctx,
		`DELETE FROM visitor_kv WHERE visitor_id = $1 AND key = $2`,
		kv.visitor, key)
	if err != nil {
		return fmt.Errorf("visitor kv delete: %w", err)
	}
	return nil
}

func (kv *VisitorKV) Keys(prefix string) ([]string, error) {
	ctx, cancel := kv.ctx()
	defer cancel()
	rows, err := kv.pool.Query(ctx, `
		SELECT key FROM visitor_kv
		WHERE visitor_id = $1 AND key LIKE $2 || '%'
		ORDER BY key
	`, kv.visitor, prefix)
	if err != nil {
		return nil, fmt.Errorf("visitor kv keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("visitor kv scan: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
