package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
)

// scriptTx adapts a live badger transaction to the ScriptTx contract so a
// registered script's reads and writes commit as one unit.
type scriptTx struct {
	txn *badgerdb.Txn
}

func (t *scriptTx) Get(key string) (string, bool, error) {
	value, _, found, err := readValue(t.txn, key)
	return string(value), found, err
}

func (t *scriptTx) Set(key, value string, ttl time.Duration) error {
	return writeValue(t.txn, key, []byte(value), ttl)
}

func (t *scriptTx) Del(key string) error {
	if err := t.txn.Delete([]byte(key)); err != nil && err != badgerdb.ErrKeyNotFound {
		return err
	}
	return nil
}

func (t *scriptTx) SetMembers(key string) (map[string]struct{}, error) {
	return readSet(t.txn, key)
}

func (t *scriptTx) PutSetMembers(key string, members map[string]struct{}, ttl time.Duration) error {
	if err := writeSet(t.txn, key, members); err != nil {
		return err
	}
	if ttl > 0 {
		value, _, found, err := readValue(t.txn, key)
		if err != nil || !found {
			return err
		}
		return t.txn.SetEntry(badgerdb.NewEntry([]byte(key), value).WithTTL(ttl))
	}
	return nil
}

func (t *scriptTx) ZGet(key string) (map[string]int64, error) {
	return readZSet(t.txn, key)
}

func (t *scriptTx) ZPut(key string, entries map[string]int64, ttl time.Duration) error {
	if err := writeZSet(t.txn, key, entries); err != nil {
		return err
	}
	if ttl > 0 && len(entries) > 0 {
		value, _, found, err := readValue(t.txn, key)
		if err != nil || !found {
			return err
		}
		return t.txn.SetEntry(badgerdb.NewEntry([]byte(key), value).WithTTL(ttl))
	}
	return nil
}

func (t *scriptTx) ListGet(key string) ([]string, error) {
	return readList(t.txn, key)
}

func (t *scriptTx) ListPut(key string, values []string, ttl time.Duration) error {
	if err := writeList(t.txn, key, values); err != nil {
		return err
	}
	if ttl > 0 && len(values) > 0 {
		value, _, found, err := readValue(t.txn, key)
		if err != nil || !found {
			return err
		}
		return t.txn.SetEntry(badgerdb.NewEntry([]byte(key), value).WithTTL(ttl))
	}
	return nil
}

// RegisterScript installs a named atomic script. Registration happens during
// wiring, before any RunScript call.
func (s *CoordStore) RegisterScript(name string, script interfaces.Script) {
	s.scriptsMu.Lock()
	defer s.scriptsMu.Unlock()
	s.scripts[name] = script
}

// RunScript executes a registered script inside one transaction. The store's
// clock is sampled once so every step of the script sees the same "now".
func (s *CoordStore) RunScript(ctx context.Context, name string, keys, args []string) ([]string, error) {
	s.scriptsMu.RLock()
	script, ok := s.scripts[name]
	s.scriptsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrScriptNotFound, name)
	}

	nowMs := time.Now().UnixMilli()
	var result []string
	err := s.update(func(txn *badgerdb.Txn) error {
		var scriptErr error
		result, scriptErr = script(&scriptTx{txn: txn}, nowMs, keys, args)
		return scriptErr
	})
	return result, err
}
