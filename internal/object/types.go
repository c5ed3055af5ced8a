package object

// Selector dimensions understood by the replicator. Each entity type maps
// the dimensions that constrain it to one of its attributes.
const (
	DimServer   = "server"
	DimDepot    = "depot"
	DimEndpoint = "endpoint"
	DimGroup    = "group"
	DimProduct  = "product"
)

// Type describes one entity type: its ordered ident attributes and how the
// replicator's selector dimensions map onto its attributes.
type Type struct {
	Name string

	// IdentAttrs are the attributes whose values form the composite key,
	// in ident order. Immutable for the lifetime of a record.
	IdentAttrs []string

	// SelectorAttrs maps a selector dimension to the attribute holding
	// the relevant id. Types missing a dimension are unconstrained by it.
	SelectorAttrs map[string]string

	// Audit marks audit-trail types, copied only when a bootstrap asks
	// for audit data.
	Audit bool

	// LicenseData marks licensing types, copied only when a bootstrap
	// asks for license data (pending-action grants are copied regardless,
	// see the bootstrap's license pass).
	LicenseData bool
}

// Catalog is the full set of replicated entity types, in replication order
// (referenced types before referencing ones).
var Catalog = []Type{
	{
		Name:          "Server",
		IdentAttrs:    []string{"id"},
		SelectorAttrs: map[string]string{DimServer: "id"},
	},
	{
		Name:          "Depot",
		IdentAttrs:    []string{"id"},
		SelectorAttrs: map[string]string{DimDepot: "id"},
	},
	{
		Name:          "Endpoint",
		IdentAttrs:    []string{"id"},
		SelectorAttrs: map[string]string{DimEndpoint: "id"},
	},
	{
		Name:          "Group",
		IdentAttrs:    []string{"id"},
		SelectorAttrs: map[string]string{DimGroup: "id"},
	},
	{
		Name:          "Product",
		IdentAttrs:    []string{"id"},
		SelectorAttrs: map[string]string{DimProduct: "id"},
	},
	{
		Name:       "Credential",
		IdentAttrs: []string{"username", "endpointId"},
		SelectorAttrs: map[string]string{
			DimEndpoint: "endpointId",
		},
	},
	{
		Name:       "Assignment",
		IdentAttrs: []string{"productId", "endpointId"},
		SelectorAttrs: map[string]string{
			DimEndpoint: "endpointId",
			DimProduct:  "productId",
		},
	},
	{
		Name:       "ConfigState",
		IdentAttrs: []string{"settingId", "endpointId"},
		SelectorAttrs: map[string]string{
			DimEndpoint: "endpointId",
		},
	},
	{
		Name:       "ProductSetting",
		IdentAttrs: []string{"productId", "settingId", "endpointId"},
		SelectorAttrs: map[string]string{
			DimEndpoint: "endpointId",
			DimProduct:  "productId",
		},
	},
	{
		Name:       "AuditRecord",
		IdentAttrs: []string{"id", "endpointId"},
		SelectorAttrs: map[string]string{
			DimEndpoint: "endpointId",
		},
		Audit: true,
	},
	{
		Name:        "LicensePool",
		IdentAttrs:  []string{"id"},
		LicenseData: true,
	},
	{
		Name:        "License",
		IdentAttrs:  []string{"id", "poolId"},
		LicenseData: true,
	},
	{
		Name:       "LicenseGrant",
		IdentAttrs: []string{"licenseId", "poolId", "endpointId"},
		SelectorAttrs: map[string]string{
			DimEndpoint: "endpointId",
		},
		LicenseData: true,
	},
}

var catalogByName = func() map[string]Type {
	m := make(map[string]Type, len(Catalog))
	for _, t := range Catalog {
		m[t.Name] = t
	}
	return m
}()

// Lookup returns the type descriptor for name.
func Lookup(name string) (Type, bool) {
	t, ok := catalogByName[name]
	return t, ok
}
