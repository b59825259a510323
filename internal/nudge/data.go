package nudge

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hay-kot/nudge/internal/core/kv"
)

var (
	ErrReservedKey = errors.New("key is reserved for scheduler records")
	ErrBadPattern  = errors.New("invalid key pattern")
)

func checkKey(key string) error {
	if key == "" {
		return kv.ErrEmptyKey
	}
	if IsReserved(key) {
		return fmt.Errorf("%q: %w", key, ErrReservedKey)
	}
	return nil
}

// SaveData durably stores value under key, replacing any previous value.
func (a *App) SaveData(ctx context.Context, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return a.data.Save(ctx, key, []byte(value))
}

// ImportData stores every key of values atomically. Nothing is written when
// any key is invalid or the write fails.
func (a *App) ImportData(ctx context.Context, values map[string]string) error {
	batch := make(map[string][]byte, len(values))
	for k, v := range values {
		if err := checkKey(k); err != nil {
			return err
		}
		batch[k] = []byte(v)
	}
	return a.data.SaveAll(ctx, batch)
}

// LoadData returns the value stored under key, or "" when the key is absent.
func (a *App) LoadData(ctx context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}

	v, ok, err := a.data.Load(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return string(v), nil
}

// DeleteData removes key. Deleting an absent key succeeds.
func (a *App) DeleteData(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return a.data.Delete(ctx, key)
}

// ListData returns the application keys matching the doublestar pattern,
// sorted. An empty pattern matches every key. Scheduler records are never
// listed.
func (a *App) ListData(ctx context.Context, pattern string) ([]string, error) {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%q: %w", pattern, ErrBadPattern)
	}

	keys, err := a.data.ListKeys(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if IsReserved(k) {
			continue
		}
		if pattern != "" {
			ok, err := doublestar.Match(pattern, k)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", pattern, ErrBadPattern)
			}
			if !ok {
				continue
			}
		}
		out = append(out, k)
	}

	slices.Sort(out)
	return out, nil
}
