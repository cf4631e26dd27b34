package record

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for a Storage instance. The same table can be
// shared by any number of record kinds.
type Config struct {
	// Table is the DynamoDB table holding all records.
	// Default: "lattice_records"
	Table string `yaml:"table"`

	// KindIndex is the GSI used for per-kind indexed reads
	// (hash key: "kind", range key: "id").
	// Default: "kind-id-index"
	KindIndex string `yaml:"kind_index"`

	// Namespace isolates tenants sharing one table. Keys derived for
	// different namespaces never collide. Empty means no isolation.
	Namespace string `yaml:"namespace"`

	// Transactional routes every write through a store transaction and
	// makes single-record reads strongly consistent. Fixed at storage
	// construction time, not per call.
	Transactional bool `yaml:"transactional"`
}

// DefaultConfig returns sensible defaults for a single-tenant deployment.
func DefaultConfig() Config {
	return Config{
		Table:     "lattice_records",
		KindIndex: "kind-id-index",
	}
}

// LoadConfig reads a YAML config document.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("lattice: parse config: %w", err)
	}
	cfg.validate()
	return cfg, nil
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "lattice_records"
	}
	if c.KindIndex == "" {
		c.KindIndex = "kind-id-index"
	}
}
