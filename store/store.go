// Package store defines the partitioned entity store linkAuth persists
// users into.
//
// Records are addressed by a two-part key (partition, row) and carry a
// JSON document plus a version used as an ETag: Replace and conditional
// Delete succeed only when the caller's version matches. Queries filter by
// partition, an optional row range and equality on top-level string
// properties. No joins.
//
// Adapters live in sub-packages: redisstore (go-redis) and pgstore (pgx).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("store: record not found")
	ErrConflict           = errors.New("store: record already exists")
	ErrPreconditionFailed = errors.New("store: version mismatch")
	ErrUnavailable        = errors.New("store: backend unavailable")
	ErrInvalidKey         = errors.New("store: partition and row are required")
)

// Record is one stored entity.
type Record struct {
	Partition string
	Row       string
	Data      json.RawMessage
	// Version increments on every write. Zero means "not yet stored".
	Version   int64
	UpdatedAt time.Time
}

// Filter selects records of one partition.
type Filter struct {
	Partition string
	// RowFrom is inclusive, RowTo exclusive. Empty bounds are open.
	RowFrom string
	RowTo   string
	// Equals matches top-level string properties of Data.
	Equals map[string]string
	// Limit caps the result size; zero means no cap.
	Limit int
}

// Store is implemented by every persistence adapter.
type Store interface {
	Get(ctx context.Context, partition, row string) (Record, error)
	Query(ctx context.Context, f Filter) ([]Record, error)
	// Insert fails with ErrConflict if the key exists.
	Insert(ctx context.Context, rec Record) (Record, error)
	// Replace fails with ErrPreconditionFailed unless rec.Version matches
	// the stored version.
	Replace(ctx context.Context, rec Record) (Record, error)
	Upsert(ctx context.Context, rec Record) (Record, error)
	// Delete removes the record. A non-zero version makes it conditional.
	// Deleting a missing record is not an error.
	Delete(ctx context.Context, partition, row string, version int64) error
}

// CheckKey validates a record key.
func CheckKey(partition, row string) error {
	if partition == "" || row == "" {
		return ErrInvalidKey
	}
	return nil
}

// MatchEquals reports whether data has every property in equals with the
// same string value. Adapters without server-side JSON filtering use it.
func MatchEquals(data json.RawMessage, equals map[string]string) bool {
	if len(equals) == 0 {
		return true
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	for k, want := range equals {
		raw, ok := doc[k]
		if !ok {
			return false
		}
		var got string
		if err := json.Unmarshal(raw, &got); err != nil || got != want {
			return false
		}
	}
	return true
}

// InRange reports whether row lies in [from, to) with open empty bounds.
func InRange(row, from, to string) bool {
	if from != "" && row < from {
		return false
	}
	if to != "" && row >= to {
		return false
	}
	return true
}
