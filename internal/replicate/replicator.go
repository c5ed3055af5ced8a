// Package replicate implements the bootstrap of a disconnected endpoint:
// bulk replication of a filtered subset of the authoritative store into
// the local store, the verbatim baseline copy into the snapshot store,
// license reservation for pending work, and the offline credential and
// service-metadata files.
package replicate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opsi-org/cachesync/internal/object"
	"github.com/opsi-org/cachesync/internal/store"
)

// Selectors constrain which records a replication pass copies. An empty
// id set leaves that dimension unconstrained.
type Selectors struct {
	ServerIDs   []string
	DepotIDs    []string
	EndpointIDs []string
	GroupIDs    []string
	ProductIDs  []string

	IncludeAudit       bool
	IncludeLicenseData bool
}

// Everything selects all records of all types: the verbatim copy used to
// establish the snapshot baseline.
func Everything() Selectors {
	return Selectors{IncludeAudit: true, IncludeLicenseData: true}
}

// filterFor translates the selectors into a store filter for one entity
// type, using the type's selector-dimension attributes. The second return
// is false when the type is excluded wholesale (audit/license types not
// asked for).
func (s Selectors) filterFor(t object.Type) (store.Filter, bool) {
	if t.Audit && !s.IncludeAudit {
		return nil, false
	}
	if t.LicenseData && !s.IncludeLicenseData {
		return nil, false
	}
	dims := map[string][]string{
		object.DimServer:   s.ServerIDs,
		object.DimDepot:    s.DepotIDs,
		object.DimEndpoint: s.EndpointIDs,
		object.DimGroup:    s.GroupIDs,
		object.DimProduct:  s.ProductIDs,
	}
	f := store.Filter{}
	for dim, ids := range dims {
		if len(ids) == 0 {
			continue
		}
		attr, constrained := t.SelectorAttrs[dim]
		if !constrained {
			continue
		}
		f[attr] = ids
	}
	return f, true
}

// Replicate copies every catalog record matching the selectors from
// source into destination, one bulk fetch and one bulk create per entity
// type, in catalog order (referenced types first).
func Replicate(ctx context.Context, source, destination store.Store, sel Selectors, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, t := range object.Catalog {
		f, included := sel.filterFor(t)
		if !included {
			continue
		}
		recs, err := source.GetObjects(ctx, t.Name, f)
		if err != nil {
			return fmt.Errorf("replicate %s: fetch: %w", t.Name, err)
		}
		if len(recs) == 0 {
			continue
		}
		if err := destination.CreateObjects(ctx, t.Name, recs); err != nil {
			return fmt.Errorf("replicate %s: write: %w", t.Name, err)
		}
		logger.Debug("replicated entity type", "type", t.Name, "count", len(recs))
	}
	return nil
}
