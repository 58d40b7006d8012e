package badger

import (
	"context"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// Lists are stored as JSON string slices; pushes append at the tail, pops
// take from the head.

func readList(txn *badgerdb.Txn, key string) ([]string, error) {
	value, _, found, err := readValue(txn, key)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]string](value, found)
}

func writeList(txn *badgerdb.Txn, key string, values []string) error {
	if len(values) == 0 {
		if err := txn.Delete([]byte(key)); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		return nil
	}
	data, err := encodeJSON(values)
	if err != nil {
		return err
	}
	return writeValue(txn, key, data, 0)
}

// ListPush appends values at the tail.
func (s *CoordStore) ListPush(ctx context.Context, key string, values ...string) error {
	return s.update(func(txn *badgerdb.Txn) error {
		list, err := readList(txn, key)
		if err != nil {
			return err
		}
		return writeList(txn, key, append(list, values...))
	})
}

// ListPop removes up to n values from the head.
func (s *CoordStore) ListPop(ctx context.Context, key string, n int) ([]string, error) {
	var popped []string
	err := s.update(func(txn *badgerdb.Txn) error {
		popped = nil
		list, err := readList(txn, key)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return nil
		}
		if n > len(list) {
			n = len(list)
		}
		popped = append(popped, list[:n]...)
		return writeList(txn, key, list[n:])
	})
	return popped, err
}

// ListRem removes every occurrence of value, returning the count removed.
func (s *CoordStore) ListRem(ctx context.Context, key, value string) (int, error) {
	removed := 0
	err := s.update(func(txn *badgerdb.Txn) error {
		removed = 0
		list, err := readList(txn, key)
		if err != nil {
			return err
		}
		kept := list[:0]
		for _, v := range list {
			if v == value {
				removed++
				continue
			}
			kept = append(kept, v)
		}
		if removed == 0 {
			return nil
		}
		return writeList(txn, key, kept)
	})
	return removed, err
}

// ListLen returns the list length.
func (s *CoordStore) ListLen(ctx context.Context, key string) (int, error) {
	var n int
	err := s.db.View(func(txn *badgerdb.Txn) error {
		list, err := readList(txn, key)
		if err != nil {
			return err
		}
		n = len(list)
		return nil
	})
	return n, err
}

// ListRange returns the inclusive slice [start, stop] with redis-style
// negative indices counting from the tail.
func (s *CoordStore) ListRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		list, err := readList(txn, key)
		if err != nil {
			return err
		}
		n := len(list)
		if n == 0 {
			return nil
		}
		if start < 0 {
			start += n
		}
		if stop < 0 {
			stop += n
		}
		if start < 0 {
			start = 0
		}
		if stop >= n {
			stop = n - 1
		}
		if start > stop {
			return nil
		}
		out = append(out, list[start:stop+1]...)
		return nil
	})
	return out, err
}
