package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("storage key not found")
)

// Store is a durable key-value store. Each key is an independent slot:
// the cart blob and the shipping profile never share a key, so a corrupt
// write to one cannot damage the other.
type Store interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
