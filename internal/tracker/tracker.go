// Package tracker wraps a store so that every create/update/delete issued
// against it is recorded in an append-only mutation log and announced to
// registered listeners. Read operations pass through untracked.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsi-org/cachesync/internal/object"
	"github.com/opsi-org/cachesync/internal/store"
)

// TrackingError reports a mutation-log append failure for a mutation the
// wrapped store has already applied. Callers seeing one must treat the
// store as modified but the change as untracked: it will not be part of
// the next reconciliation pass unless reissued.
type TrackingError struct {
	EntityType string
	Ident      string
	Command    Command
	Err        error
}

func (e *TrackingError) Error() string {
	return fmt.Sprintf("track %s of %s %s (store call already applied): %v",
		e.Command, e.EntityType, e.Ident, e.Err)
}

func (e *TrackingError) Unwrap() error {
	return e.Err
}

// AsTrackingError extracts a TrackingError from a wrapped error chain.
func AsTrackingError(err error) (*TrackingError, bool) {
	var te *TrackingError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Listener observes mutations on a tracking store. Implementations must
// return immediately: callbacks run synchronously on the mutating call's
// goroutine, and a blocking listener stalls the intercepted call.
type Listener interface {
	ObjectInserted(s store.Store, rec object.Record)
	ObjectUpdated(s store.Store, rec object.Record)
	ObjectsDeleted(s store.Store, recs []object.Record)
	StoreModified(s store.Store)
}

// TrackingStore wraps a store and records every mutation. It implements
// store.Store, so callers use it exactly like the wrapped store.
//
// Listeners are owned by the instance and invoked in registration order.
// A listener that panics is logged and skipped; it never affects the
// wrapped store's result or the remaining listeners.
type TrackingStore struct {
	inner     store.Store
	log       *Log
	listeners []Listener
	logger    *slog.Logger
}

// New wraps inner, recording mutations into mlog.
func New(inner store.Store, mlog *Log, logger *slog.Logger) *TrackingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrackingStore{inner: inner, log: mlog, logger: logger}
}

// Log returns the mutation log the store appends to.
func (t *TrackingStore) Log() *Log {
	return t.log
}

// AddListener registers a listener. Registering the same listener twice
// is a no-op.
func (t *TrackingStore) AddListener(l Listener) {
	for _, existing := range t.listeners {
		if existing == l {
			return
		}
	}
	t.listeners = append(t.listeners, l)
}

// RemoveListener unregisters a listener.
func (t *TrackingStore) RemoveListener(l Listener) {
	for i, existing := range t.listeners {
		if existing == l {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

// GetObjects is a pure passthrough and never produces mutation records.
func (t *TrackingStore) GetObjects(ctx context.Context, typeName string, f store.Filter) ([]object.Record, error) {
	return t.inner.GetObjects(ctx, typeName, f)
}

// CreateObjects forwards to the wrapped store, then records one insert
// mutation per entity and notifies listeners.
func (t *TrackingStore) CreateObjects(ctx context.Context, typeName string, recs []object.Record) error {
	if err := t.inner.CreateObjects(ctx, typeName, recs); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := t.record(typeName, CommandInsert, rec); err != nil {
			return err
		}
		t.notify(func(l Listener) { l.ObjectInserted(t, rec) })
	}
	if len(recs) > 0 {
		t.notify(func(l Listener) { l.StoreModified(t) })
	}
	return nil
}

// UpdateObjects forwards to the wrapped store, then records one update
// mutation per entity and notifies listeners.
func (t *TrackingStore) UpdateObjects(ctx context.Context, typeName string, recs []object.Record) error {
	if err := t.inner.UpdateObjects(ctx, typeName, recs); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := t.record(typeName, CommandUpdate, rec); err != nil {
			return err
		}
		t.notify(func(l Listener) { l.ObjectUpdated(t, rec) })
	}
	if len(recs) > 0 {
		t.notify(func(l Listener) { l.StoreModified(t) })
	}
	return nil
}

// DeleteObjects forwards to the wrapped store, then records one delete
// mutation per entity and notifies listeners with the full batch.
func (t *TrackingStore) DeleteObjects(ctx context.Context, typeName string, recs []object.Record) error {
	if err := t.inner.DeleteObjects(ctx, typeName, recs); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := t.record(typeName, CommandDelete, rec); err != nil {
			return err
		}
	}
	if len(recs) > 0 {
		t.notify(func(l Listener) { l.ObjectsDeleted(t, recs) })
		t.notify(func(l Listener) { l.StoreModified(t) })
	}
	return nil
}

// CreateSchema passes through untracked.
func (t *TrackingStore) CreateSchema(ctx context.Context) error {
	return t.inner.CreateSchema(ctx)
}

// DropSchema passes through untracked.
func (t *TrackingStore) DropSchema(ctx context.Context) error {
	return t.inner.DropSchema(ctx)
}

// Close closes the wrapped store.
func (t *TrackingStore) Close() error {
	return t.inner.Close()
}

// record appends one mutation record. It runs after the wrapped store
// call succeeded, so a failure here surfaces as a *TrackingError rather
// than a plain error: the store state changed even though the call
// errored.
func (t *TrackingStore) record(typeName string, cmd Command, rec object.Record) error {
	payload := rec.Clone()
	if err := t.log.Append(MutationRecord{
		EntityType: typeName,
		Ident:      rec.Ident(),
		Command:    cmd,
		ObservedAt: time.Now().UTC(),
		Payload:    &payload,
	}); err != nil {
		return &TrackingError{
			EntityType: typeName,
			Ident:      rec.Ident(),
			Command:    cmd,
			Err:        err,
		}
	}
	return nil
}

// notify invokes fn for every listener in registration order, isolating
// panics so one broken listener cannot starve the rest.
func (t *TrackingStore) notify(fn func(Listener)) {
	for _, l := range t.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("store listener failed", "panic", r)
				}
			}()
			fn(l)
		}()
	}
}
