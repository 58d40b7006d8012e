package badger

import (
	"context"
	"sort"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// Sets are stored as sorted JSON string arrays under their logical key.

func readSet(txn *badgerdb.Txn, key string) (map[string]struct{}, error) {
	value, _, found, err := readValue(txn, key)
	if err != nil {
		return nil, err
	}
	members, err := decodeJSON[[]string](value, found)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return set, nil
}

func writeSet(txn *badgerdb.Txn, key string, set map[string]struct{}) error {
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Strings(members)
	data, err := encodeJSON(members)
	if err != nil {
		return err
	}
	return writeValue(txn, key, data, 0)
}

// SetAdd adds members, returning how many were new.
func (s *CoordStore) SetAdd(ctx context.Context, key string, members ...string) (int, error) {
	added := 0
	err := s.update(func(txn *badgerdb.Txn) error {
		added = 0
		set, err := readSet(txn, key)
		if err != nil {
			return err
		}
		for _, m := range members {
			if _, ok := set[m]; !ok {
				set[m] = struct{}{}
				added++
			}
		}
		if added == 0 {
			return nil
		}
		return writeSet(txn, key, set)
	})
	return added, err
}

// SetRem removes members, returning how many were present.
func (s *CoordStore) SetRem(ctx context.Context, key string, members ...string) (int, error) {
	removed := 0
	err := s.update(func(txn *badgerdb.Txn) error {
		removed = 0
		set, err := readSet(txn, key)
		if err != nil {
			return err
		}
		for _, m := range members {
			if _, ok := set[m]; ok {
				delete(set, m)
				removed++
			}
		}
		if removed == 0 {
			return nil
		}
		return writeSet(txn, key, set)
	})
	return removed, err
}

// SetContains tests membership.
func (s *CoordStore) SetContains(ctx context.Context, key, member string) (bool, error) {
	var ok bool
	err := s.db.View(func(txn *badgerdb.Txn) error {
		set, err := readSet(txn, key)
		if err != nil {
			return err
		}
		_, ok = set[member]
		return nil
	})
	return ok, err
}

// SetCard returns the set's cardinality.
func (s *CoordStore) SetCard(ctx context.Context, key string) (int, error) {
	var n int
	err := s.db.View(func(txn *badgerdb.Txn) error {
		set, err := readSet(txn, key)
		if err != nil {
			return err
		}
		n = len(set)
		return nil
	})
	return n, err
}

// SetMembers returns all members in sorted order.
func (s *CoordStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		set, err := readSet(txn, key)
		if err != nil {
			return err
		}
		members = make([]string, 0, len(set))
		for m := range set {
			members = append(members, m)
		}
		sort.Strings(members)
		return nil
	})
	return members, err
}
