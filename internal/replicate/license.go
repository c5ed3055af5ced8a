package replicate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/opsi-org/cachesync/internal/object"
	"github.com/opsi-org/cachesync/internal/store"
)

// ErrNoLicensePool indicates no licensing pool covers the product. A
// routine outcome during bootstrap: the affected assignment is skipped.
var ErrNoLicensePool = errors.New("no license pool for product")

// ErrNoLicense indicates the covering pool has no license to grant.
var ErrNoLicense = errors.New("no license available in pool")

// LicenseAllocator reserves a license grant for pending work on an
// endpoint, reusing an existing grant when one is already held.
type LicenseAllocator interface {
	AcquireGrant(ctx context.Context, endpointID, productID string) (object.Record, error)
}

// StoreAllocator implements get-or-create grant semantics directly over
// the authoritative store.
type StoreAllocator struct {
	Store store.Store
}

// AcquireGrant finds the pool covering productID, returns the endpoint's
// existing grant from that pool if one exists, and otherwise grants the
// first license of the pool, persisting the new grant upstream.
func (a *StoreAllocator) AcquireGrant(ctx context.Context, endpointID, productID string) (object.Record, error) {
	pool, err := poolForProduct(ctx, a.Store, productID)
	if err != nil {
		return object.Record{}, err
	}
	poolID := object.AttrString(pool, "id")

	existing, err := a.Store.GetObjects(ctx, "LicenseGrant", store.Filter{
		"poolId":     {poolID},
		"endpointId": {endpointID},
	})
	if err != nil {
		return object.Record{}, fmt.Errorf("acquire grant: %w", err)
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	licenses, err := a.Store.GetObjects(ctx, "License", store.Filter{"poolId": {poolID}})
	if err != nil {
		return object.Record{}, fmt.Errorf("acquire grant: %w", err)
	}
	if len(licenses) == 0 {
		return object.Record{}, fmt.Errorf("acquire grant for %q: %w", productID, ErrNoLicense)
	}

	grant := object.New("LicenseGrant", map[string]any{
		"licenseId":  object.AttrString(licenses[0], "id"),
		"poolId":     poolID,
		"endpointId": endpointID,
		"grantId":    uuid.NewString(),
		"licenseKey": object.AttrString(licenses[0], "key"),
	})
	if err := a.Store.CreateObjects(ctx, "LicenseGrant", []object.Record{grant}); err != nil {
		return object.Record{}, fmt.Errorf("acquire grant: persist: %w", err)
	}
	return grant, nil
}

// poolForProduct scans license pools for one whose productIds list
// contains productID. List attributes cannot be matched by a store
// filter, so the membership check happens here.
func poolForProduct(ctx context.Context, s store.Store, productID string) (object.Record, error) {
	pools, err := s.GetObjects(ctx, "LicensePool", nil)
	if err != nil {
		return object.Record{}, fmt.Errorf("find license pool: %w", err)
	}
	for _, pool := range pools {
		for _, pid := range object.AttrStrings(pool, "productIds") {
			if pid == productID {
				return pool, nil
			}
		}
	}
	return object.Record{}, fmt.Errorf("find license pool for %q: %w", productID, ErrNoLicensePool)
}
