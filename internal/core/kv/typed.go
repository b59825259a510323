package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// TypedKV provides JSON-encoded access to a Store for a specific type T,
// confined to a key namespace.
type TypedKV[T any] struct {
	store  Store
	prefix string
}

// Scoped returns a TypedKV[T] that prefixes all keys with "namespace/".
func Scoped[T any](store Store, namespace string) *TypedKV[T] {
	return &TypedKV[T]{
		store:  store,
		prefix: namespace + "/",
	}
}

// Get loads and decodes the value stored under key. ok is false when the key
// is absent. A value that does not decode is reported as ErrCorrupt.
func (t *TypedKV[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var v T

	data, ok, err := t.store.Load(ctx, t.prefix+key)
	if err != nil || !ok {
		return v, ok, err
	}

	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("decode %q: %w: %v", t.prefix+key, ErrCorrupt, err)
	}

	return v, true, nil
}

// Set encodes and stores value under key.
func (t *TypedKV[T]) Set(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", t.prefix+key, err)
	}
	return t.store.Save(ctx, t.prefix+key, data)
}

// Delete removes key. Deleting an absent key succeeds.
func (t *TypedKV[T]) Delete(ctx context.Context, key string) error {
	return t.store.Delete(ctx, t.prefix+key)
}

// List decodes every value in the namespace. Keys whose records are corrupt or
// fail to decode are returned separately (without the namespace prefix) so the
// caller can prune them; they never abort the scan.
func (t *TypedKV[T]) List(ctx context.Context) (map[string]T, []string, error) {
	entries, err := t.store.ListPrefix(ctx, t.prefix)
	if err != nil {
		return nil, nil, err
	}

	values := make(map[string]T, len(entries))
	var corrupt []string

	for _, e := range entries {
		key := strings.TrimPrefix(e.Key, t.prefix)
		if e.Corrupt {
			corrupt = append(corrupt, key)
			continue
		}

		var v T
		if err := json.Unmarshal(e.Value, &v); err != nil {
			corrupt = append(corrupt, key)
			continue
		}
		values[key] = v
	}

	return values, corrupt, nil
}
