package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsi-org/cachesync/internal/object"
)

// backends lists every Store implementation under one conformance suite.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := OpenSQLite(filepath.Join(dir, "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	pebble, err := OpenPebble(filepath.Join(dir, "pebble"))
	require.NoError(t, err)
	t.Cleanup(func() { pebble.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"pebble": pebble,
		"memory": NewMemory(),
	}
}

func endpoint(id string, extra map[string]any) object.Record {
	attrs := map[string]any{"id": id}
	for k, v := range extra {
		attrs[k] = v
	}
	return object.New("Endpoint", attrs)
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			recs := []object.Record{
				endpoint("e1", map[string]any{"key": "k1"}),
				endpoint("e2", map[string]any{"key": "k2"}),
			}
			require.NoError(t, s.CreateObjects(ctx, "Endpoint", recs))

			got, err := s.GetObjects(ctx, "Endpoint", nil)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "e1", object.AttrString(got[0], "id"), "results are ident-ordered")
			assert.True(t, object.Equal(recs[0], got[0]), "record survives round trip")
		})
	}
}

func TestStore_FilterSetSemantics(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateObjects(ctx, "Assignment", []object.Record{
				object.New("Assignment", map[string]any{"productId": "p1", "endpointId": "e1"}),
				object.New("Assignment", map[string]any{"productId": "p2", "endpointId": "e1"}),
				object.New("Assignment", map[string]any{"productId": "p1", "endpointId": "e2"}),
			}))

			got, err := s.GetObjects(ctx, "Assignment", Filter{"endpointId": {"e1"}})
			require.NoError(t, err)
			assert.Len(t, got, 2, "constrained dimension restricts")

			got, err = s.GetObjects(ctx, "Assignment", Filter{
				"endpointId": {"e1"},
				"productId":  {"p2", "p3"},
			})
			require.NoError(t, err)
			require.Len(t, got, 1, "constrained dimensions are conjunctive")
			assert.Equal(t, "p2;e1", got[0].Ident())

			got, err = s.GetObjects(ctx, "Assignment", Filter{"endpointId": {}})
			require.NoError(t, err)
			assert.Len(t, got, 3, "empty set leaves the dimension unconstrained")

			got, err = s.GetObjects(ctx, "Assignment", Filter{"endpointId": {"absent"}})
			require.NoError(t, err)
			assert.Empty(t, got, "no match is an empty result, not an error")
		})
	}
}

func TestStore_UpdateUpserts(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpdateObjects(ctx, "Endpoint", []object.Record{
				endpoint("e1", map[string]any{"key": "old"}),
			}))
			require.NoError(t, s.UpdateObjects(ctx, "Endpoint", []object.Record{
				endpoint("e1", map[string]any{"key": "new"}),
				endpoint("e2", nil),
			}))

			got, err := s.GetObjects(ctx, "Endpoint", nil)
			require.NoError(t, err)
			require.Len(t, got, 2, "update inserts missing records")
			assert.Equal(t, "new", object.AttrString(got[0], "key"), "update replaces wholesale")
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e1 := endpoint("e1", nil)
			require.NoError(t, s.CreateObjects(ctx, "Endpoint", []object.Record{e1}))
			require.NoError(t, s.DeleteObjects(ctx, "Endpoint", []object.Record{e1}))

			got, err := s.GetObjects(ctx, "Endpoint", nil)
			require.NoError(t, err)
			assert.Empty(t, got)

			// Deleting an absent record is silently ignored.
			assert.NoError(t, s.DeleteObjects(ctx, "Endpoint", []object.Record{e1}))
		})
	}
}

func TestStore_DropAndRecreateSchema(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateObjects(ctx, "Endpoint", []object.Record{endpoint("e1", nil)}))

			require.NoError(t, s.DropSchema(ctx))
			require.NoError(t, s.CreateSchema(ctx))

			got, err := s.GetObjects(ctx, "Endpoint", nil)
			require.NoError(t, err)
			assert.Empty(t, got, "drop+create yields an empty store")

			require.NoError(t, s.CreateObjects(ctx, "Endpoint", []object.Record{endpoint("e2", nil)}))
			got, err = s.GetObjects(ctx, "Endpoint", nil)
			require.NoError(t, err)
			assert.Len(t, got, 1, "store is usable after recreate")
		})
	}
}

func TestStore_TypesAreIsolated(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateObjects(ctx, "Endpoint", []object.Record{endpoint("x", nil)}))
			require.NoError(t, s.CreateObjects(ctx, "Depot", []object.Record{
				object.New("Depot", map[string]any{"id": "x"}),
			}))

			got, err := s.GetObjects(ctx, "Depot", nil)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "Depot", got[0].Type)
		})
	}
}

func TestFilter_Matches(t *testing.T) {
	rec := object.New("Endpoint", map[string]any{"id": "e1", "depotId": "d1"})

	assert.True(t, Filter(nil).Matches(rec), "nil filter matches all")
	assert.True(t, Filter{"id": {"e1"}}.Matches(rec))
	assert.True(t, Filter{"id": {"e0", "e1"}}.Matches(rec))
	assert.False(t, Filter{"id": {"e2"}}.Matches(rec))
	assert.False(t, Filter{"id": {"e1"}, "depotId": {"d2"}}.Matches(rec))
	assert.False(t, Filter{"absent": {"v"}}.Matches(rec), "constrained absent attr does not match")
}
