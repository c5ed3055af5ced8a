package replicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/opsi-org/cachesync/internal/deferred"
	"github.com/opsi-org/cachesync/internal/object"
	"github.com/opsi-org/cachesync/internal/store"
)

// ConfigError reports a missing required bootstrap parameter. Raised
// before any I/O.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("bootstrap configuration: %s undefined", e.Field)
}

// IsConfigError reports whether err is a bootstrap configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ServiceInfo is the authoritative service's licensing/version metadata,
// persisted locally so capability queries can be answered offline.
type ServiceInfo struct {
	Version   string
	Customer  string
	Expires   string
	Signature string
	Modules   map[string]bool
}

// InfoSource exposes service metadata. Typically implemented by the
// transport wrapping the authoritative store; optional.
type InfoSource interface {
	ServiceInfo(ctx context.Context) (ServiceInfo, error)
}

// Bootstrap performs the one-shot replication establishing a disconnected
// session: local store populated from the authoritative store, snapshot
// store as the merge baseline, licenses reserved for pending work, and
// credential/metadata files for offline use.
type Bootstrap struct {
	Master   store.Store
	Local    store.Store
	Snapshot store.Store

	EndpointID string
	DepotID    string

	// Selectors for the master-to-local copy. Zero value selects by
	// EndpointID and DepotID only.
	Selectors Selectors

	// Username of the endpoint's operational account whose credential
	// is decrypted and persisted.
	Username string

	// CredentialFile and MetadataFile are the local key-value files
	// written during bootstrap. Either may be empty to skip it.
	CredentialFile string
	MetadataFile   string

	// Allocator reserves license grants. Defaults to get-or-create
	// semantics over Master.
	Allocator LicenseAllocator

	// Info supplies service metadata for MetadataFile; optional.
	Info InfoSource

	Logger *slog.Logger
}

// Run executes the bootstrap. Any unrecoverable store or I/O error aborts
// the pass; partial local/snapshot state after an aborted bootstrap must
// not be used — retry to completion before any client operation.
func (b *Bootstrap) Run(ctx context.Context) error {
	if err := b.validate(); err != nil {
		return err
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := b.cacheServiceInfo(ctx); err != nil {
		return err
	}

	// Rebuild the local store from the authoritative subset.
	sel := b.Selectors
	if len(sel.EndpointIDs) == 0 {
		sel.EndpointIDs = []string{b.EndpointID}
	}
	if len(sel.DepotIDs) == 0 {
		sel.DepotIDs = []string{b.DepotID}
	}
	if err := resetStore(ctx, b.Local); err != nil {
		return fmt.Errorf("reset local store: %w", err)
	}
	if err := Replicate(ctx, b.Master, b.Local, sel, logger); err != nil {
		return fmt.Errorf("replicate authoritative to local: %w", err)
	}

	// Verbatim copy into the snapshot store. Snapshot == local is the
	// correctness precondition for the three-way merge baseline.
	if err := resetStore(ctx, b.Snapshot); err != nil {
		return fmt.Errorf("reset snapshot store: %w", err)
	}
	if err := Replicate(ctx, b.Local, b.Snapshot, Everything(), logger); err != nil {
		return fmt.Errorf("replicate local to snapshot: %w", err)
	}

	if err := b.reserveLicenses(ctx, logger); err != nil {
		return err
	}

	if err := b.cacheCredential(ctx, logger); err != nil {
		return err
	}

	logger.Info("bootstrap complete", "endpoint", b.EndpointID, "depot", b.DepotID)
	return nil
}

// RunAsync executes the pass on its own goroutine and returns a
// completion box the caller can block on with Await, select on via
// Done, or attach a callback to. The pass itself is not cancellable;
// it runs to completion or failure once started.
func (b *Bootstrap) RunAsync(ctx context.Context) *deferred.Deferred[struct{}] {
	box := deferred.New[struct{}]()
	go func() {
		if err := b.Run(ctx); err != nil {
			box.Fail(err)
			return
		}
		box.Complete(struct{}{})
	}()
	return box
}

func (b *Bootstrap) validate() error {
	switch {
	case b.Master == nil:
		return &ConfigError{Field: "authoritative store"}
	case b.Local == nil:
		return &ConfigError{Field: "local store"}
	case b.Snapshot == nil:
		return &ConfigError{Field: "snapshot store"}
	case b.EndpointID == "":
		return &ConfigError{Field: "endpoint id"}
	case b.DepotID == "":
		return &ConfigError{Field: "depot id"}
	}
	return nil
}

// reserveLicenses acquires a grant for every locally replicated
// assignment with a pending action, when a pool covers its product.
// Acquisition failures are logged and skip that assignment only.
func (b *Bootstrap) reserveLicenses(ctx context.Context, logger *slog.Logger) error {
	allocator := b.Allocator
	if allocator == nil {
		allocator = &StoreAllocator{Store: b.Master}
	}

	assignments, err := b.Local.GetObjects(ctx, "Assignment", store.Filter{"endpointId": {b.EndpointID}})
	if err != nil {
		return fmt.Errorf("list local assignments: %w", err)
	}
	for _, assignment := range assignments {
		action := object.AttrString(assignment, "requestedAction")
		if action == "" || action == "none" {
			continue
		}
		productID := object.AttrString(assignment, "productId")

		grant, err := allocator.AcquireGrant(ctx, b.EndpointID, productID)
		if errors.Is(err, ErrNoLicensePool) {
			logger.Debug("no license pool for product", "product", productID)
			continue
		}
		if err != nil {
			logger.Error("failed to acquire license", "product", productID, "error", err)
			continue
		}

		if err := b.copyGrantRecords(ctx, grant); err != nil {
			return err
		}
		logger.Info("license reserved", "product", productID, "pool", object.AttrString(grant, "poolId"))
	}
	return nil
}

// copyGrantRecords copies the grant plus its license and pool records
// into the local store, so license state is available offline.
func (b *Bootstrap) copyGrantRecords(ctx context.Context, grant object.Record) error {
	poolID := object.AttrString(grant, "poolId")
	licenseID := object.AttrString(grant, "licenseId")

	pools, err := b.Master.GetObjects(ctx, "LicensePool", store.Filter{"id": {poolID}})
	if err != nil {
		return fmt.Errorf("copy license pool %s: %w", poolID, err)
	}
	if err := b.Local.CreateObjects(ctx, "LicensePool", pools); err != nil {
		return fmt.Errorf("copy license pool %s: %w", poolID, err)
	}

	licenses, err := b.Master.GetObjects(ctx, "License", store.Filter{"id": {licenseID}, "poolId": {poolID}})
	if err != nil {
		return fmt.Errorf("copy license %s: %w", licenseID, err)
	}
	if err := b.Local.CreateObjects(ctx, "License", licenses); err != nil {
		return fmt.Errorf("copy license %s: %w", licenseID, err)
	}

	if err := b.Local.CreateObjects(ctx, "LicenseGrant", []object.Record{grant}); err != nil {
		return fmt.Errorf("copy license grant: %w", err)
	}
	return nil
}

// cacheCredential decrypts the endpoint's operational credential and
// writes it to the credential file for offline reuse.
func (b *Bootstrap) cacheCredential(ctx context.Context, logger *slog.Logger) error {
	if b.CredentialFile == "" || b.Username == "" {
		return nil
	}

	creds, err := b.Master.GetObjects(ctx, "Credential", store.Filter{
		"username":   {b.Username},
		"endpointId": {b.EndpointID},
	})
	if err != nil {
		return fmt.Errorf("fetch credential for %s: %w", b.Username, err)
	}
	if len(creds) == 0 {
		return fmt.Errorf("fetch credential for %s: no record", b.Username)
	}

	endpoints, err := b.Local.GetObjects(ctx, "Endpoint", store.Filter{"id": {b.EndpointID}})
	if err != nil {
		return fmt.Errorf("fetch endpoint %s: %w", b.EndpointID, err)
	}
	if len(endpoints) == 0 {
		return fmt.Errorf("fetch endpoint %s: not replicated", b.EndpointID)
	}

	secret, err := DecryptCredential(
		object.AttrString(endpoints[0], "key"),
		object.AttrString(creds[0], "secret"),
	)
	if err != nil {
		return err
	}

	logger.Info("writing credential file", "path", b.CredentialFile, "username", b.Username)
	return WriteKeyValueFile(b.CredentialFile, [][2]string{
		{"username", b.Username},
		{"password", secret},
	})
}

// cacheServiceInfo persists the authoritative service's metadata before
// replication starts, so a later offline capability check works even if
// the service went away mid-session.
func (b *Bootstrap) cacheServiceInfo(ctx context.Context) error {
	if b.MetadataFile == "" || b.Info == nil {
		return nil
	}
	info, err := b.Info.ServiceInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetch service info: %w", err)
	}
	return WriteKeyValueFile(b.MetadataFile, MetadataPairs(info))
}

// MetadataPairs renders service metadata as ordered key-value pairs:
// module entitlements first (sorted), then identity fields.
func MetadataPairs(info ServiceInfo) [][2]string {
	modules := make([]string, 0, len(info.Modules))
	for name := range info.Modules {
		modules = append(modules, name)
	}
	sort.Strings(modules)

	pairs := make([][2]string, 0, len(modules)+4)
	for _, name := range modules {
		state := "no"
		if info.Modules[name] {
			state = "yes"
		}
		pairs = append(pairs, [2]string{name, state})
	}
	pairs = append(pairs,
		[2]string{"customer", info.Customer},
		[2]string{"expires", info.Expires},
		[2]string{"signature", info.Signature},
		[2]string{"version", info.Version},
	)
	return pairs
}

func resetStore(ctx context.Context, s store.Store) error {
	if err := s.DropSchema(ctx); err != nil {
		return err
	}
	return s.CreateSchema(ctx)
}
