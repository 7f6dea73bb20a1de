// ABOUTME: Key-value store contract for the single-table data model
// ABOUTME: Defines Item, the Store interface, and the sentinel errors

package kv

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrNotFound is returned when a requested item does not exist.
var ErrNotFound = errors.New("item not found")

// ErrConditionFailed is returned when a conditional write's precondition
// does not hold (put-if-absent on an existing key, update or increment on
// a missing key).
var ErrConditionFailed = errors.New("condition failed")

// OwnerIndex is the secondary index over the "owner" attribute of list
// details records. It is the only index the table carries.
const OwnerIndex = "OwnerListIdIndex"

// Item is a single record addressed by partition key and sort key. All
// records belonging to one list share a partition key and are
// distinguished by sort-key prefix, so one range query fetches a list's
// tasks.
type Item struct {
	PK    string
	SK    string
	Attrs map[string]any
}

// String returns the named attribute as a string, or "" if absent or of
// another type.
func (it Item) String(name string) string {
	s, _ := it.Attrs[name].(string)
	return s
}

// Int returns the named attribute as an int64, or 0 if absent.
// Attributes round-trip through JSON, so numbers may surface as
// json.Number or float64 depending on how the item was built.
func (it Item) Int(name string) int64 {
	switch v := it.Attrs[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := strconv.ParseInt(v.String(), 10, 64)
		return n
	default:
		return 0
	}
}

// Store is the ordered key-value store every other component is built
// on. Implementations must make Increment linearizable per key: it is
// the sole concurrency primitive the data model depends on.
type Store interface {
	// Get returns the item at (pk, sk), or ErrNotFound.
	Get(ctx context.Context, pk, sk string) (*Item, error)

	// Put writes the item unconditionally (upsert).
	Put(ctx context.Context, item Item) error

	// PutIfAbsent writes the item only if the key does not exist,
	// otherwise returns ErrConditionFailed.
	PutIfAbsent(ctx context.Context, item Item) error

	// Update sets the given attributes on an existing item, leaving the
	// rest untouched, or returns ErrConditionFailed when the key does
	// not exist. The existence guard keeps updates from resurrecting
	// deleted records, and the field-level merge keeps a concurrent
	// counter increment on the same item from being clobbered.
	Update(ctx context.Context, pk, sk string, attrs map[string]any) error

	// Delete removes the item. Deleting a missing key is not an error.
	Delete(ctx context.Context, pk, sk string) error

	// Query returns all items in the partition whose sort key starts
	// with skPrefix, ordered by sort key. An empty prefix returns the
	// whole partition.
	Query(ctx context.Context, pk, skPrefix string) ([]Item, error)

	// QueryIndex returns all items whose indexed attribute equals value.
	QueryIndex(ctx context.Context, index, attr, value string) ([]Item, error)

	// Increment atomically adds delta to a numeric attribute of an
	// existing item and returns the attribute's previous value. A
	// missing attribute counts as 0. A missing item is
	// ErrConditionFailed: counters are never created implicitly.
	Increment(ctx context.Context, pk, sk, attr string, delta int64) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}
