// Package store defines the uniform storage contract shared by the
// authoritative, local and snapshot stores, plus the concrete backends:
// SQLite for the durable working copy, Pebble for file/key-value storage,
// and an in-memory store for tests and ephemeral baselines.
//
// All backends implement set-semantics filtering: an unconstrained
// dimension matches everything, and "no match" is an empty result, never
// an error.
package store

import (
	"context"

	"github.com/opsi-org/cachesync/internal/object"
)

// Filter selects records by attribute value sets. A missing or empty
// entry leaves that attribute unconstrained; a record matches when every
// constrained attribute's string form is in the supplied set.
type Filter map[string][]string

// Matches reports whether rec satisfies the filter.
func (f Filter) Matches(rec object.Record) bool {
	for attr, allowed := range f {
		if len(allowed) == 0 {
			continue
		}
		v := object.AttrString(rec, attr)
		ok := false
		for _, a := range allowed {
			if v == a {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Store is the uniform contract every backend implements. One explicit
// method per operation; no dynamic dispatch.
//
// UpdateObjects has upsert semantics: records absent from the store are
// inserted. CreateObjects overwrites an existing record with the same
// ident (a bootstrap rewrites stores wholesale and must be idempotent).
type Store interface {
	// GetObjects returns all records of the given type matching the
	// filter, ordered by ident. An empty result is not an error.
	GetObjects(ctx context.Context, typeName string, f Filter) ([]object.Record, error)

	CreateObjects(ctx context.Context, typeName string, recs []object.Record) error
	UpdateObjects(ctx context.Context, typeName string, recs []object.Record) error
	DeleteObjects(ctx context.Context, typeName string, recs []object.Record) error

	// CreateSchema prepares an empty store; DropSchema discards all
	// content. Both are idempotent.
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error

	Close() error
}
