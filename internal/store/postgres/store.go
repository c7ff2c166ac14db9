// Package postgres provides the shared room store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scythe504/dejavu-backend/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_kv (
    room_code  TEXT        NOT NULL,
    key        TEXT        NOT NULL,
    value      BYTEA       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (room_code, key)
);
CREATE INDEX IF NOT EXISTS room_kv_key ON room_kv (key);
`

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to databaseURL and makes sure the schema exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Get(ctx context.Context, room, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM room_kv WHERE room_code = $1 AND key = $2`, room, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", room, key, err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, room, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO room_kv (room_code, key, value, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (room_code, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		room, key, value,
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", room, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, room, key string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM room_kv WHERE room_code = $1 AND key = $2`, room, key,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", room, key, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, key string) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx, `SELECT room_code, value FROM room_kv WHERE key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", key, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var room string
		var value []byte
		if err := rows.Scan(&room, &value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", key, err)
		}
		out[room] = value
	}
	return out, rows.Err()
}
