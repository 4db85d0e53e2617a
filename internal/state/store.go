// Package state defines the durable key-value store backing thresholds and
// notification history.
package state

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrClosed        = errors.New("store is closed")
)

// Mutation is a single write inside an atomic batch.
type Mutation struct {
	Key    string
	Value  []byte
	Delete bool
}

// Put returns a mutation that stores value under key.
func Put(key string, value []byte) Mutation {
	return Mutation{Key: key, Value: value}
}

// PutString returns a mutation that stores s under key.
func PutString(key, s string) Mutation {
	return Put(key, []byte(s))
}

// Remove returns a mutation that deletes key.
func Remove(key string) Mutation {
	return Mutation{Key: key, Delete: true}
}

// Store is a small key-value store. Apply must be all-or-nothing: when it
// returns an error none of the mutations are visible.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Apply(ctx context.Context, mutations ...Mutation) error
	Close() error
}

// GetString reads key as a string. A missing key yields "" and false.
func GetString(ctx context.Context, s Store, key string) (string, bool, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}
