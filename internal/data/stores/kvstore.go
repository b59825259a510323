package stores

import (
	"context"
	"fmt"
	"hash/crc32"
	"slices"
	"time"

	"github.com/hay-kot/nudge/internal/core/kv"
	"github.com/hay-kot/nudge/internal/data/db"
)

const (
	busyRetries   = 5
	busyFirstWait = 10 * time.Millisecond
)

// KVStore implements kv.Store on SQLite.
//
// Each write is a single upsert statement: under WAL with synchronous=FULL it
// is committed durably or not at all, so readers see the previous value or
// the new one. SQLite serialises writers, which orders concurrent saves to the
// same key (last commit wins) without blocking readers.
type KVStore struct {
	db *db.DB
}

var _ kv.Store = (*KVStore)(nil)

// NewKVStore creates a new SQLite-backed KV store.
func NewKVStore(db *db.DB) *KVStore {
	return &KVStore{db: db}
}

// Save writes value under key, replacing any previous value.
func (s *KVStore) Save(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return kv.ErrEmptyKey
	}
	if value == nil {
		value = []byte{}
	}

	now := time.Now().UnixNano()
	params := db.KVSetParams{
		Key:       key,
		Value:     value,
		Checksum:  checksum(value),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.retryBusy(ctx, func() error {
		return s.db.Queries().KVSet(ctx, params)
	})
	if err != nil {
		return fmt.Errorf("kv save %q: %w", key, classify(err))
	}

	return nil
}

// SaveAll writes every entry of values in one transaction: either all keys
// are committed or none are.
func (s *KVStore) SaveAll(ctx context.Context, values map[string][]byte) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "" {
			return kv.ErrEmptyKey
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	now := time.Now().UnixNano()
	err := s.retryBusy(ctx, func() error {
		return s.db.WithTx(ctx, func(q *db.Queries) error {
			for _, k := range keys {
				value := values[k]
				if value == nil {
					value = []byte{}
				}
				err := q.KVSet(ctx, db.KVSetParams{
					Key:       k,
					Value:     value,
					Checksum:  checksum(value),
					CreatedAt: now,
					UpdatedAt: now,
				})
				if err != nil {
					return fmt.Errorf("save %q: %w", k, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("kv save all: %w", classify(err))
	}

	return nil
}

// Load returns the committed value for key. ok is false if the key is absent.
func (s *KVStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	row, err := s.db.Queries().KVGet(ctx, key)
	if IsNotFoundError(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv load %q: %w", key, classify(err))
	}

	if checksum(row.Value) != row.Checksum {
		return nil, false, fmt.Errorf("kv load %q: %w: checksum mismatch", key, kv.ErrCorrupt)
	}

	if row.Value == nil {
		row.Value = []byte{}
	}
	return row.Value, true, nil
}

// Delete removes key. Removing an absent key succeeds.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	err := s.retryBusy(ctx, func() error {
		return s.db.Queries().KVDelete(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("kv delete %q: %w", key, classify(err))
	}
	return nil
}

// ListPrefix returns a snapshot of all entries whose key starts with prefix,
// ordered by key. Entries failing the integrity check are flagged Corrupt.
func (s *KVStore) ListPrefix(ctx context.Context, prefix string) ([]kv.Entry, error) {
	rows, err := s.db.Queries().KVListPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("kv list prefix %q: %w", prefix, classify(err))
	}

	entries := make([]kv.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, kv.Entry{
			Key:       row.Key,
			Value:     row.Value,
			Corrupt:   checksum(row.Value) != row.Checksum,
			CreatedAt: time.Unix(0, row.CreatedAt),
			UpdatedAt: time.Unix(0, row.UpdatedAt),
		})
	}

	return entries, nil
}

// ListKeys returns every key in sorted order.
func (s *KVStore) ListKeys(ctx context.Context) ([]string, error) {
	keys, err := s.db.Queries().KVListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv list keys: %w", classify(err))
	}
	return keys, nil
}

// retryBusy retries fn with exponential backoff while SQLite reports the
// database as busy beyond its own busy timeout.
func (s *KVStore) retryBusy(ctx context.Context, fn func() error) error {
	wait := busyFirstWait
	var err error
	for i := 0; i < busyRetries; i++ {
		if err = fn(); err == nil || !IsBusyError(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}

// classify maps a driver error onto the kv error taxonomy.
func classify(err error) error {
	if IsCorruptionError(err) {
		return fmt.Errorf("%w: %w", kv.ErrCorrupt, err)
	}
	return fmt.Errorf("%w: %w", kv.ErrIO, err)
}

func checksum(value []byte) int64 {
	return int64(crc32.ChecksumIEEE(value))
}
