package pathoram

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the on-disk configuration for the ORAM server binary:
// where to listen, how many shards to provision storage for, and where
// the persisted bucket tree (internal/store.BoltTree) lives on disk.
// Distinct from ClientConfig since the server never sees plaintext
// addresses, payloads, or cipher keys -- only shard indices and
// ciphertext blobs.
type ServerConfig struct {
	// ListenAddr is host:port the server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// DBPath is the bbolt database file backing the persisted bucket tree.
	DBPath string `yaml:"db_path"`

	// NumShards is 2^b, the number of independent bucket trees to
	// provision.
	NumShards int `yaml:"num_shards"`

	// TreeHeight is L for every shard (shards are assumed uniform: when
	// the workload is uniform, N_i = N_total/2^b).
	TreeHeight int `yaml:"tree_height"`

	// BucketSize is Z.
	BucketSize int `yaml:"bucket_size"`

	// BlockSize is B, used only to size the placeholder dummy blobs
	// BoltTree seeds a brand-new database with before any client has
	// called PathORAM.Provision.
	BlockSize int `yaml:"block_size"`

	// MetricsAddr, if non-empty, exposes Prometheus metrics over HTTP at
	// this address's /metrics path.
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoadServerConfig reads and parses a YAML server configuration file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pathoram: read server config: %w", err)
	}
	var sc ServerConfig
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("pathoram: parse server config: %w", err)
	}
	return &sc, nil
}

// Validate checks the server configuration for startup errors.
func (sc *ServerConfig) Validate() error {
	if sc.ListenAddr == "" {
		return &ConfigError{Detail: "listen_addr must not be empty"}
	}
	if sc.DBPath == "" {
		return &ConfigError{Detail: "db_path must not be empty"}
	}
	if sc.NumShards <= 0 {
		return &ConfigError{Detail: "num_shards must be positive"}
	}
	if sc.TreeHeight <= 0 {
		return &ConfigError{Detail: "tree_height must be positive"}
	}
	if sc.BucketSize <= 0 {
		sc.BucketSize = 4
	}
	return nil
}
