package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key is not present in the coordination store.
var ErrKeyNotFound = errors.New("key not found")

// ErrScriptNotFound is returned by RunScript for an unregistered script name.
var ErrScriptNotFound = errors.New("script not found")

// ZEntry is one member of a sorted set together with its score.
type ZEntry struct {
	Member string
	Score  int64
}

// ScriptTx is the view of the store a script sees. Every read and write in
// one script invocation commits atomically; the semaphore and promotion
// protocols depend on that linearizability and must not be rebuilt from
// client-side read-modify-write loops.
type ScriptTx interface {
	Get(key string) (string, bool, error)
	Set(key, value string, ttl time.Duration) error
	Del(key string) error
	SetMembers(key string) (map[string]struct{}, error)
	PutSetMembers(key string, members map[string]struct{}, ttl time.Duration) error
	ZGet(key string) (map[string]int64, error)
	ZPut(key string, entries map[string]int64, ttl time.Duration) error
	ListGet(key string) ([]string, error)
	ListPut(key string, values []string, ttl time.Duration) error
}

// Script is a named multi-step operation executed atomically server-side.
// nowMs is the store's clock at invocation so replays stay deterministic.
type Script func(tx ScriptTx, nowMs int64, keys []string, args []string) ([]string, error)

// Pipeline batches unrelated writes. Exec applies them in order without any
// atomicity guarantee across entries.
type Pipeline interface {
	Set(key, value string, ttl time.Duration)
	SetAdd(key string, members ...string)
	Expire(key string, ttl time.Duration)
	Del(key string)
	Exec(ctx context.Context) error
}

// CoordStore is the gateway every piece of cross-process state lives behind:
// strings, sets, sorted sets, lists, TTLs, atomic scripts and pub/sub.
type CoordStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	SetAdd(ctx context.Context, key string, members ...string) (int, error)
	SetRem(ctx context.Context, key string, members ...string) (int, error)
	SetContains(ctx context.Context, key, member string) (bool, error)
	SetCard(ctx context.Context, key string) (int, error)
	SetMembers(ctx context.Context, key string) ([]string, error)

	ZAdd(ctx context.Context, key string, score int64, member string) (added int, err error)
	ZRangeByScore(ctx context.Context, key string, min, max int64) ([]string, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max int64) (int, error)
	ZScan(ctx context.Context, key string, cursor uint64, count int) (uint64, []ZEntry, error)
	ZRem(ctx context.Context, key, member string) (int, error)
	ZCard(ctx context.Context, key string) (int, error)

	ListPush(ctx context.Context, key string, values ...string) error
	ListPop(ctx context.Context, key string, n int) ([]string, error)
	ListRem(ctx context.Context, key, value string) (int, error)
	ListLen(ctx context.Context, key string) (int, error)
	ListRange(ctx context.Context, key string, start, stop int) ([]string, error)

	RegisterScript(name string, script Script)
	RunScript(ctx context.Context, name string, keys, args []string) ([]string, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	Pipeline() Pipeline

	Publish(ctx context.Context, channel, msg string) error
	Subscribe(channel string) (<-chan string, func())
}
