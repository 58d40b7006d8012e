package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
)

// Every cross-process key carries a TTL; keys written without an explicit
// one get this default, per the coordination schema.
const defaultKeyTTL = 24 * time.Hour

// Serializable transactions conflict under contention; retried writes stay
// linearizable because the whole closure re-executes.
const maxTxnRetries = 16

// CoordStore implements the coordination gateway on Badger. Individual
// operations are atomic; multi-step protocols run as registered scripts
// inside a single transaction.
type CoordStore struct {
	db     *badgerdb.DB
	logger arbor.ILogger

	scriptsMu sync.RWMutex
	scripts   map[string]interfaces.Script

	broker *broker
}

// NewCoordStore creates the coordination gateway over an open connection.
func NewCoordStore(conn *BadgerDB, logger arbor.ILogger) *CoordStore {
	return &CoordStore{
		db:      conn.Raw(),
		logger:  logger,
		scripts: make(map[string]interfaces.Script),
		broker:  newBroker(),
	}
}

func (s *CoordStore) update(fn func(txn *badgerdb.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = s.db.Update(fn)
		if err != badgerdb.ErrConflict {
			return err
		}
	}
	return fmt.Errorf("transaction conflict persisted after %d retries: %w", maxTxnRetries, err)
}

// readValue fetches the raw value and its remaining TTL inside a txn.
// remaining is zero when the entry has no expiry.
func readValue(txn *badgerdb.Txn, key string) (value []byte, remaining time.Duration, found bool, err error) {
	item, err := txn.Get([]byte(key))
	if err == badgerdb.ErrKeyNotFound {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	value, err = item.ValueCopy(nil)
	if err != nil {
		return nil, 0, false, err
	}
	if exp := item.ExpiresAt(); exp > 0 {
		remaining = time.Until(time.Unix(int64(exp), 0))
		if remaining <= 0 {
			// Expired but not yet vacuumed.
			return nil, 0, false, nil
		}
	}
	return value, remaining, true, nil
}

// writeValue persists a value. A zero ttl keeps the key's current expiry,
// falling back to the default when the key is new.
func writeValue(txn *badgerdb.Txn, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		_, remaining, found, err := readValue(txn, key)
		if err != nil {
			return err
		}
		ttl = defaultKeyTTL
		if found && remaining > 0 {
			ttl = remaining
		}
	}
	return txn.SetEntry(badgerdb.NewEntry([]byte(key), value).WithTTL(ttl))
}

// Get retrieves a string value.
func (s *CoordStore) Get(ctx context.Context, key string) (string, error) {
	var out string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		value, _, found, err := readValue(txn, key)
		if err != nil {
			return err
		}
		if !found {
			return interfaces.ErrKeyNotFound
		}
		out = string(value)
		return nil
	})
	return out, err
}

// Set stores a string value with an optional TTL (zero keeps/defaults).
func (s *CoordStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.update(func(txn *badgerdb.Txn) error {
		return writeValue(txn, key, []byte(value), ttl)
	})
}

// Del removes keys. Missing keys are not an error.
func (s *CoordStore) Del(ctx context.Context, keys ...string) error {
	return s.update(func(txn *badgerdb.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil && err != badgerdb.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

// Expire refreshes a key's TTL. Missing keys are ignored.
func (s *CoordStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.update(func(txn *badgerdb.Txn) error {
		value, _, found, err := readValue(txn, key)
		if err != nil || !found {
			return err
		}
		return txn.SetEntry(badgerdb.NewEntry([]byte(key), value).WithTTL(ttl))
	})
}

// TTL reports the remaining lifetime of a key; ErrKeyNotFound when absent.
func (s *CoordStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var out time.Duration
	err := s.db.View(func(txn *badgerdb.Txn) error {
		_, remaining, found, err := readValue(txn, key)
		if err != nil {
			return err
		}
		if !found {
			return interfaces.ErrKeyNotFound
		}
		out = remaining
		return nil
	})
	return out, err
}

// Pipeline returns a write batcher with no cross-entry atomicity.
func (s *CoordStore) Pipeline() interfaces.Pipeline {
	return &pipeline{store: s}
}

type pipelineOp func(ctx context.Context, store *CoordStore) error

type pipeline struct {
	store *CoordStore
	ops   []pipelineOp
}

func (p *pipeline) Set(key, value string, ttl time.Duration) {
	p.ops = append(p.ops, func(ctx context.Context, store *CoordStore) error {
		return store.Set(ctx, key, value, ttl)
	})
}

func (p *pipeline) SetAdd(key string, members ...string) {
	p.ops = append(p.ops, func(ctx context.Context, store *CoordStore) error {
		_, err := store.SetAdd(ctx, key, members...)
		return err
	})
}

func (p *pipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func(ctx context.Context, store *CoordStore) error {
		return store.Expire(ctx, key, ttl)
	})
}

func (p *pipeline) Del(key string) {
	p.ops = append(p.ops, func(ctx context.Context, store *CoordStore) error {
		return store.Del(ctx, key)
	})
}

func (p *pipeline) Exec(ctx context.Context) error {
	for _, op := range p.ops {
		if err := op(ctx, p.store); err != nil {
			return err
		}
	}
	p.ops = nil
	return nil
}

// encode/decode helpers shared by sets, zsets and lists.

func decodeJSON[T any](value []byte, found bool) (T, error) {
	var out T
	if !found || len(value) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(value, &out); err != nil {
		return out, fmt.Errorf("decode stored value: %w", err)
	}
	return out, nil
}

func encodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}
