package reconcile

import (
	"github.com/opsi-org/cachesync/internal/object"
	"github.com/opsi-org/cachesync/internal/policy"
)

// MergeFunc resolves a concurrent change for one record: snapshot is the
// baseline, candidate the local update, authoritative the current
// upstream record. It returns the record to commit upstream, or nil to
// drop the update, plus any conflicts it resolved along the way.
//
// The engine calls a merge function only when both an authoritative and a
// snapshot record exist for the candidate's ident; otherwise the
// candidate is committed as-is.
type MergeFunc func(snapshot, candidate, authoritative object.Record) (*object.Record, []Conflict)

// mergeForPolicy maps a type policy to its merge function.
func mergeForPolicy(p policy.TypePolicy) MergeFunc {
	switch p.Strategy {
	case policy.StrategyClientWins:
		return mergeClientWins
	case policy.StrategyValueList:
		return mergeValueList(p)
	case policy.StrategyAssignment:
		return mergeAssignment
	default:
		return mergeThreeWay(p)
	}
}

// buildCandidate derives the update candidate from the local payload.
// Types with configured candidate attributes are reduced to ident plus
// those attributes; everything else is carried wholesale.
func buildCandidate(p policy.TypePolicy, local object.Record) object.Record {
	if len(p.CandidateAttrs) == 0 {
		return local.Clone()
	}
	cand := local.CloneIdentOnly()
	for _, attr := range p.CandidateAttrs {
		if v, ok := local.Attrs[attr]; ok {
			cand.Attrs[attr] = v
		}
	}
	return cand
}

// mergeThreeWay is the default policy. An upstream record identical to
// the baseline means no concurrent change: the candidate is safe to
// commit unmodified. Otherwise the authoritative values win, except
// attributes configured local-only, and each dropped candidate attribute
// is reported as a conflict.
func mergeThreeWay(p policy.TypePolicy) MergeFunc {
	localOnly := make(map[string]bool, len(p.LocalOnlyAttrs))
	for _, a := range p.LocalOnlyAttrs {
		localOnly[a] = true
	}
	return func(snapshot, candidate, authoritative object.Record) (*object.Record, []Conflict) {
		if object.Equal(authoritative, snapshot, p.VolatileAttrs...) {
			out := candidate.Clone()
			return &out, nil
		}

		var conflicts []Conflict
		merged := authoritative.Clone()
		for attr, v := range candidate.Attrs {
			if localOnly[attr] {
				merged.Attrs[attr] = v
				continue
			}
			if object.Equal(
				object.Record{Type: candidate.Type, Attrs: map[string]any{attr: v}},
				object.Record{Type: candidate.Type, Attrs: map[string]any{attr: authoritative.Attrs[attr]}},
			) {
				continue
			}
			conflicts = append(conflicts, Conflict{
				EntityType: candidate.Type,
				Ident:      candidate.Ident(),
				Attr:       attr,
				Reason:     "record changed upstream since baseline; kept upstream value",
			})
		}
		return &merged, conflicts
	}
}

// mergeClientWins accepts the candidate unconditionally. Used for audit
// data, where the endpoint is the source of truth.
func mergeClientWins(snapshot, candidate, authoritative object.Record) (*object.Record, []Conflict) {
	out := candidate.Clone()
	return &out, nil
}

// mergeValueList implements the all-or-nothing value rule: the
// candidate's value list is committed only when the baseline and upstream
// value sets are equal. Any divergence on either side drops the entire
// update — value lists are never partially merged.
func mergeValueList(p policy.TypePolicy) MergeFunc {
	attr := p.ValueListAttr
	if attr == "" {
		attr = "values"
	}
	return func(snapshot, candidate, authoritative object.Record) (*object.Record, []Conflict) {
		snapValues := object.AttrStrings(snapshot, attr)
		authValues := object.AttrStrings(authoritative, attr)
		if !object.SetEqual(snapValues, authValues) {
			return nil, []Conflict{{
				EntityType: candidate.Type,
				Ident:      candidate.Ident(),
				Attr:       attr,
				Reason:     "value list changed upstream since baseline; local values dropped",
			}}
		}
		out := candidate.Clone()
		return &out, nil
	}
}

// mergeAssignment handles installation-assignment state: local status,
// progress and result always carry through; the requested action carries
// through only if nobody changed the desired action upstream since the
// baseline. Stores replace records wholesale, so the result is the
// upstream record overlaid with the candidate's attributes.
func mergeAssignment(snapshot, candidate, authoritative object.Record) (*object.Record, []Conflict) {
	merged := Overlay(authoritative, candidate)
	if object.AttrString(snapshot, "requestedAction") == object.AttrString(authoritative, "requestedAction") {
		return &merged, nil
	}
	merged.Attrs["requestedAction"] = authoritative.Attrs["requestedAction"]
	return &merged, []Conflict{{
		EntityType: candidate.Type,
		Ident:      candidate.Ident(),
		Attr:       "requestedAction",
		Reason:     "requested action changed upstream since baseline; local request dropped",
	}}
}

// Overlay returns base with every attribute of over applied on top.
func Overlay(base, over object.Record) object.Record {
	out := base.Clone()
	for attr, v := range over.Clone().Attrs {
		out.Attrs[attr] = v
	}
	return out
}
