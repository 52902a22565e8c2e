// Package kv is the persisted key-value area shared by job runs and the
// processes that observe or control them.
package kv

import (
	"context"
	"errors"
)

// ErrNoChange is returned by an UpdateFunc to leave the key untouched.
var ErrNoChange = errors.New("no change")

// UpdateFunc computes the new value of a key from its current value.
// Returning nil deletes the key. Returning ErrNoChange writes nothing.
type UpdateFunc func(cur []byte, exists bool) ([]byte, error)

// Store is a key-value store. Update is atomic across processes sharing the
// same backend, which is what makes the job lock a real mutex.
type Store interface {
	// Get returns apperrors.ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns the keys starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// apply runs fn and maps its result onto a write, a delete or nothing.
func apply(cur []byte, exists bool, fn UpdateFunc) (next []byte, write, remove bool, err error) {
	next, err = fn(cur, exists)
	if errors.Is(err, ErrNoChange) {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, err
	}
	if next == nil {
		return nil, false, exists, nil
	}
	return next, true, false, nil
}
