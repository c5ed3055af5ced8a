package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/opsi-org/cachesync/internal/object"
)

// PebbleStore is a file-backed Store over a Pebble key-value database.
// Keys are "type/ident", values the canonical JSON attribute payload.
// Suited to the snapshot store: written once per bootstrap, then read-only.
type PebbleStore struct {
	db *pebble.DB
}

// Pebble write options. The stores are rebuilt from the authoritative
// store on the next bootstrap, so synchronous WAL writes buy nothing here.
var pebbleWrites = &pebble.WriteOptions{Sync: false}

// OpenPebble creates or opens a Pebble database at the given directory.
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// CreateSchema is a no-op: Pebble needs no prepared schema.
func (s *PebbleStore) CreateSchema(ctx context.Context) error {
	return nil
}

// DropSchema removes every record via a single range deletion.
func (s *PebbleStore) DropSchema(ctx context.Context) error {
	if err := s.db.DeleteRange([]byte{0}, []byte{0xff}, pebbleWrites); err != nil {
		return fmt.Errorf("drop pebble schema: %w", err)
	}
	return nil
}

// GetObjects iterates the type's key prefix and applies the filter
// in-process. Keys iterate in byte order, so results are ident-ordered.
func (s *PebbleStore) GetObjects(ctx context.Context, typeName string, f Filter) ([]object.Record, error) {
	prefix := []byte(typeName + "/")
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: append(bytes.Clone(prefix), 0xff),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s objects: %w", typeName, err)
	}
	defer it.Close()

	var recs []object.Record
	for it.First(); it.Valid(); it.Next() {
		rec, err := unmarshalRecord(typeName, string(it.Value()))
		if err != nil {
			return nil, fmt.Errorf("get %s objects: %w", typeName, err)
		}
		if f.Matches(rec) {
			recs = append(recs, rec)
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("get %s objects: %w", typeName, err)
	}
	return recs, nil
}

// CreateObjects inserts records, replacing existing idents.
func (s *PebbleStore) CreateObjects(ctx context.Context, typeName string, recs []object.Record) error {
	return s.write(typeName, recs)
}

// UpdateObjects upserts records.
func (s *PebbleStore) UpdateObjects(ctx context.Context, typeName string, recs []object.Record) error {
	return s.write(typeName, recs)
}

func (s *PebbleStore) write(typeName string, recs []object.Record) error {
	if len(recs) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, rec := range recs {
		payload, err := marshalRecord(rec)
		if err != nil {
			return fmt.Errorf("write %s objects: %w", typeName, err)
		}
		if err := batch.Set(recordKey(typeName, rec), []byte(payload), nil); err != nil {
			return fmt.Errorf("write %s object %s: %w", typeName, rec.Ident(), err)
		}
	}
	if err := batch.Commit(pebbleWrites); err != nil {
		return fmt.Errorf("write %s objects: commit: %w", typeName, err)
	}
	return nil
}

// DeleteObjects removes records by ident; absent records are ignored.
func (s *PebbleStore) DeleteObjects(ctx context.Context, typeName string, recs []object.Record) error {
	if len(recs) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, rec := range recs {
		if err := batch.Delete(recordKey(typeName, rec), nil); err != nil {
			return fmt.Errorf("delete %s object %s: %w", typeName, rec.Ident(), err)
		}
	}
	if err := batch.Commit(pebbleWrites); err != nil {
		return fmt.Errorf("delete %s objects: commit: %w", typeName, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func recordKey(typeName string, rec object.Record) []byte {
	return []byte(typeName + "/" + rec.Ident())
}
