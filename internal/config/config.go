// Package config loads the endpoint's YAML configuration: store backends,
// identity, replication selectors and local file paths.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opsi-org/cachesync/internal/replicate"
	"github.com/opsi-org/cachesync/internal/store"
)

// StoreConfig selects a backend driver and its location.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" | "pebble" | "memory"
	Path   string `yaml:"path"`
}

// SelectorsConfig mirrors replicate.Selectors in YAML form.
type SelectorsConfig struct {
	ServerIDs          []string `yaml:"server_ids"`
	DepotIDs           []string `yaml:"depot_ids"`
	EndpointIDs        []string `yaml:"endpoint_ids"`
	GroupIDs           []string `yaml:"group_ids"`
	ProductIDs         []string `yaml:"product_ids"`
	IncludeAudit       bool     `yaml:"include_audit"`
	IncludeLicenseData bool     `yaml:"include_license_data"`
}

// Config is the endpoint's full configuration.
type Config struct {
	EndpointID string `yaml:"endpoint_id"`
	DepotID    string `yaml:"depot_id"`
	Username   string `yaml:"username"`

	Master   StoreConfig `yaml:"master"`
	Local    StoreConfig `yaml:"local"`
	Snapshot StoreConfig `yaml:"snapshot"`

	Selectors SelectorsConfig `yaml:"selectors"`

	PolicyFile     string `yaml:"policy_file"`
	CredentialFile string `yaml:"credential_file"`
	MetadataFile   string `yaml:"metadata_file"`
	JournalFile    string `yaml:"journal_file"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields before any store is opened.
func (c *Config) Validate() error {
	if c.EndpointID == "" {
		return fmt.Errorf("config: endpoint_id is required")
	}
	if c.DepotID == "" {
		return fmt.Errorf("config: depot_id is required")
	}
	for name, sc := range map[string]StoreConfig{
		"master":   c.Master,
		"local":    c.Local,
		"snapshot": c.Snapshot,
	} {
		switch sc.Driver {
		case "memory":
		case "sqlite", "pebble":
			if sc.Path == "" {
				return fmt.Errorf("config: %s store: path is required for driver %q", name, sc.Driver)
			}
		case "":
			return fmt.Errorf("config: %s store: driver is required", name)
		default:
			return fmt.Errorf("config: %s store: unknown driver %q", name, sc.Driver)
		}
	}
	return nil
}

// ReplicationSelectors converts the YAML selector block.
func (c *Config) ReplicationSelectors() replicate.Selectors {
	return replicate.Selectors{
		ServerIDs:          c.Selectors.ServerIDs,
		DepotIDs:           c.Selectors.DepotIDs,
		EndpointIDs:        c.Selectors.EndpointIDs,
		GroupIDs:           c.Selectors.GroupIDs,
		ProductIDs:         c.Selectors.ProductIDs,
		IncludeAudit:       c.Selectors.IncludeAudit,
		IncludeLicenseData: c.Selectors.IncludeLicenseData,
	}
}

// OpenStore opens the configured backend.
func OpenStore(sc StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		return store.OpenSQLite(sc.Path)
	case "pebble":
		return store.OpenPebble(sc.Path)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("open store: unknown driver %q", sc.Driver)
	}
}
