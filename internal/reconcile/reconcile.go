// Package reconcile implements the snapshot-based three-way merge that
// replays a session's mutation log against the authoritative store.
//
// The engine folds the log to one record per (type, ident), fetches the
// affected authoritative and baseline-snapshot records in one bulk call
// per type, resolves each mutation through the type's merge policy, and
// commits one bulk delete plus one bulk upsert per type — round trips
// stay independent of mutation count.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/opsi-org/cachesync/internal/object"
	"github.com/opsi-org/cachesync/internal/policy"
	"github.com/opsi-org/cachesync/internal/store"
	"github.com/opsi-org/cachesync/internal/tracker"
)

// Engine reconciles a mutation log into the authoritative store.
type Engine struct {
	policies  *policy.Set
	overrides map[string]MergeFunc
	logger    *slog.Logger
}

// New creates an engine with the given policy set. A nil logger falls
// back to slog.Default().
func New(policies *policy.Set, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		policies:  policies,
		overrides: make(map[string]MergeFunc),
		logger:    logger,
	}
}

// RegisterMerge installs a custom merge function for one entity type,
// replacing the one derived from the type's policy.
func (e *Engine) RegisterMerge(typeName string, fn MergeFunc) {
	e.overrides[typeName] = fn
}

// Reconcile drains the mutation log into the authoritative store.
//
// Entity types are processed in sorted order, so a mid-pass failure
// leaves a predictable prefix committed. A failed bulk call surfaces as a
// *BatchError, halts later types, and leaves the log intact; the log is
// cleared only after every type committed.
func (e *Engine) Reconcile(ctx context.Context, mlog *tracker.Log, authoritative, snapshot store.Store) (*Report, error) {
	folded, typeNames := fold(mlog.Records())
	report := &Report{}

	for _, typeName := range typeNames {
		if err := e.reconcileType(ctx, typeName, folded[typeName], authoritative, snapshot, report); err != nil {
			return report, err
		}
		report.TypesProcessed = append(report.TypesProcessed, typeName)
	}

	if err := mlog.Clear(); err != nil {
		return report, fmt.Errorf("clear mutation log: %w", err)
	}
	return report, nil
}

func (e *Engine) reconcileType(
	ctx context.Context,
	typeName string,
	records []tracker.MutationRecord,
	authoritative, snapshot store.Store,
	report *Report,
) error {
	filter := identFilter(typeName, records)

	masterRecs, err := authoritative.GetObjects(ctx, typeName, filter)
	if err != nil {
		return &BatchError{EntityType: typeName, Op: OpFetch, Err: err}
	}
	snapRecs, err := snapshot.GetObjects(ctx, typeName, filter)
	if err != nil {
		return &BatchError{EntityType: typeName, Op: OpFetch, Err: err}
	}
	masterByIdent := byIdent(masterRecs)
	snapByIdent := byIdent(snapRecs)

	pol := e.policies.For(typeName)
	merge, ok := e.overrides[typeName]
	if !ok {
		merge = mergeForPolicy(pol)
	}

	var deletes, upserts []object.Record
	for _, mrec := range records {
		if mrec.Payload == nil {
			e.logger.Warn("mutation record without payload", "type", typeName, "ident", mrec.Ident)
			report.Skipped++
			continue
		}
		local := *mrec.Payload
		master, upstream := masterByIdent[mrec.Ident]

		switch mrec.Command {
		case tracker.CommandDelete:
			if !upstream {
				// Already gone upstream: not a conflict.
				e.logger.Debug("delete already applied upstream", "type", typeName, "ident", mrec.Ident)
				report.Skipped++
				continue
			}
			snap, baselined := snapByIdent[mrec.Ident]
			if !baselined || !object.Equal(master, snap, pol.VolatileAttrs...) {
				report.addConflict(typeName, mrec.Ident, "",
					"record changed upstream since baseline; deletion suppressed")
				continue
			}
			deletes = append(deletes, master)

		case tracker.CommandInsert, tracker.CommandUpdate:
			candidate := buildCandidate(pol, local)
			if !upstream {
				// Net-new upstream: no merge needed.
				upserts = append(upserts, candidate)
				continue
			}
			snap, baselined := snapByIdent[mrec.Ident]
			if !baselined {
				// Known upstream but missing from the baseline: the
				// record appeared on both sides independently. Keep
				// upstream attributes the candidate does not touch.
				upserts = append(upserts, Overlay(master, candidate))
				continue
			}
			merged, conflicts := merge(snap, candidate, master)
			report.Conflicts = append(report.Conflicts, conflicts...)
			if merged == nil {
				report.Skipped++
				continue
			}
			upserts = append(upserts, *merged)

		default:
			e.logger.Warn("unknown mutation command", "command", mrec.Command, "type", typeName)
			report.Skipped++
		}
	}

	// Deletes before upserts, one bulk call each.
	if len(deletes) > 0 {
		if err := authoritative.DeleteObjects(ctx, typeName, deletes); err != nil {
			return &BatchError{EntityType: typeName, Op: OpDelete, Err: err}
		}
		report.Deleted += len(deletes)
	}
	if len(upserts) > 0 {
		if err := authoritative.UpdateObjects(ctx, typeName, upserts); err != nil {
			return &BatchError{EntityType: typeName, Op: OpUpsert, Err: err}
		}
		report.Upserted += len(upserts)
	}

	e.logger.Info("reconciled entity type",
		"type", typeName,
		"deletes", len(deletes),
		"upserts", len(upserts))
	return nil
}

// fold reduces the log to its last record per (type, ident) — last write
// wins within the session. Per-ident ordering follows first observation,
// keeping replay deterministic; a delete is terminal by construction
// (the wrapped store has already removed the record, so no later local
// mutation for the ident can follow).
func fold(records []tracker.MutationRecord) (map[string][]tracker.MutationRecord, []string) {
	type key struct {
		typeName string
		ident    string
	}
	index := make(map[key]int)
	perType := make(map[string][]tracker.MutationRecord)

	for _, rec := range records {
		k := key{rec.EntityType, rec.Ident}
		if i, seen := index[k]; seen {
			perType[rec.EntityType][i] = rec
			continue
		}
		perType[rec.EntityType] = append(perType[rec.EntityType], rec)
		index[k] = len(perType[rec.EntityType]) - 1
	}

	typeNames := make([]string, 0, len(perType))
	for name := range perType {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)
	return perType, typeNames
}

// identFilter builds the affected-ident filter for one type: the union of
// every folded record's ident attribute values. The filter may overmatch
// on composite idents (cross product); matching is exact per ident below.
func identFilter(typeName string, records []tracker.MutationRecord) store.Filter {
	t, ok := object.Lookup(typeName)
	if !ok {
		return nil
	}
	sets := make(map[string]map[string]bool, len(t.IdentAttrs))
	for _, rec := range records {
		if rec.Payload == nil {
			continue
		}
		for _, attr := range t.IdentAttrs {
			v := object.AttrString(*rec.Payload, attr)
			if sets[attr] == nil {
				sets[attr] = make(map[string]bool)
			}
			sets[attr][v] = true
		}
	}
	f := make(store.Filter, len(sets))
	for attr, vals := range sets {
		list := make([]string, 0, len(vals))
		for v := range vals {
			list = append(list, v)
		}
		sort.Strings(list)
		f[attr] = list
	}
	return f
}

func byIdent(recs []object.Record) map[string]object.Record {
	m := make(map[string]object.Record, len(recs))
	for _, rec := range recs {
		m[rec.Ident()] = rec
	}
	return m
}
