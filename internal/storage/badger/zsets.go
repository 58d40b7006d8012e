package badger

import (
	"context"
	"sort"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
)

// Sorted sets are stored as member->score JSON maps. Range and scan results
// order by (score, member) so iteration is deterministic.

func readZSet(txn *badgerdb.Txn, key string) (map[string]int64, error) {
	value, _, found, err := readValue(txn, key)
	if err != nil {
		return nil, err
	}
	z, err := decodeJSON[map[string]int64](value, found)
	if err != nil {
		return nil, err
	}
	if z == nil {
		z = make(map[string]int64)
	}
	return z, nil
}

func writeZSet(txn *badgerdb.Txn, key string, z map[string]int64) error {
	if len(z) == 0 {
		if err := txn.Delete([]byte(key)); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		return nil
	}
	data, err := encodeJSON(z)
	if err != nil {
		return err
	}
	return writeValue(txn, key, data, 0)
}

func sortedEntries(z map[string]int64) []interfaces.ZEntry {
	entries := make([]interfaces.ZEntry, 0, len(z))
	for member, score := range z {
		entries = append(entries, interfaces.ZEntry{Member: member, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score < entries[j].Score
		}
		return entries[i].Member < entries[j].Member
	})
	return entries
}

// ZAdd inserts or updates a member, returning 1 when the member was new.
func (s *CoordStore) ZAdd(ctx context.Context, key string, score int64, member string) (int, error) {
	added := 0
	err := s.update(func(txn *badgerdb.Txn) error {
		z, err := readZSet(txn, key)
		if err != nil {
			return err
		}
		if _, ok := z[member]; ok {
			added = 0
		} else {
			added = 1
		}
		z[member] = score
		return writeZSet(txn, key, z)
	})
	return added, err
}

// ZRangeByScore returns members with min <= score <= max, score order.
func (s *CoordStore) ZRangeByScore(ctx context.Context, key string, min, max int64) ([]string, error) {
	var members []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		z, err := readZSet(txn, key)
		if err != nil {
			return err
		}
		for _, e := range sortedEntries(z) {
			if e.Score >= min && e.Score <= max {
				members = append(members, e.Member)
			}
		}
		return nil
	})
	return members, err
}

// ZRemRangeByScore deletes members in the score range, returning the count.
func (s *CoordStore) ZRemRangeByScore(ctx context.Context, key string, min, max int64) (int, error) {
	removed := 0
	err := s.update(func(txn *badgerdb.Txn) error {
		removed = 0
		z, err := readZSet(txn, key)
		if err != nil {
			return err
		}
		for member, score := range z {
			if score >= min && score <= max {
				delete(z, member)
				removed++
			}
		}
		if removed == 0 {
			return nil
		}
		return writeZSet(txn, key, z)
	})
	return removed, err
}

// ZScan pages through the set in (score, member) order. The cursor is the
// offset of the next page; zero means the scan completed.
func (s *CoordStore) ZScan(ctx context.Context, key string, cursor uint64, count int) (uint64, []interfaces.ZEntry, error) {
	if count <= 0 {
		count = 20
	}
	var page []interfaces.ZEntry
	var next uint64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		z, err := readZSet(txn, key)
		if err != nil {
			return err
		}
		entries := sortedEntries(z)
		if cursor >= uint64(len(entries)) {
			next = 0
			return nil
		}
		end := cursor + uint64(count)
		if end >= uint64(len(entries)) {
			end = uint64(len(entries))
			next = 0
		} else {
			next = end
		}
		page = entries[cursor:end]
		return nil
	})
	return next, page, err
}

// ZRem removes a member, returning 1 when it was present. The single-winner
// guarantee of queue promotion rests on this being atomic.
func (s *CoordStore) ZRem(ctx context.Context, key, member string) (int, error) {
	removed := 0
	err := s.update(func(txn *badgerdb.Txn) error {
		removed = 0
		z, err := readZSet(txn, key)
		if err != nil {
			return err
		}
		if _, ok := z[member]; !ok {
			return nil
		}
		delete(z, member)
		removed = 1
		return writeZSet(txn, key, z)
	})
	return removed, err
}

// ZCard returns the sorted set's cardinality.
func (s *CoordStore) ZCard(ctx context.Context, key string) (int, error) {
	var n int
	err := s.db.View(func(txn *badgerdb.Txn) error {
		z, err := readZSet(txn, key)
		if err != nil {
			return err
		}
		n = len(z)
		return nil
	})
	return n, err
}
