// Package store is the durable key-value primitive rooms persist through.
// Values are scoped by room code; a room owns every key under its code.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("store: key not found")

// Well-known keys.
const (
	KeyState = "state"
	KeyAlarm = "alarm"
)

type Store interface {
	// Get returns ErrNotFound when the room has no value under key.
	Get(ctx context.Context, room, key string) ([]byte, error)
	Put(ctx context.Context, room, key string, value []byte) error
	Delete(ctx context.Context, room, key string) error
	// Scan returns the value stored under key for every room that has one.
	Scan(ctx context.Context, key string) (map[string][]byte, error)
	Close() error
}
