package pathoram

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the on-disk, human-edited client configuration. It is
// loaded from YAML -- the way a deployed sub-ORAM's parameters, server
// address, and key material are handed to the client binary -- and
// converted into the internal
// Config/ShardConfig pair the library actually runs on. Parsing the
// key_source *file format* beyond "a path to hex-encoded bytes" is an
// out-of-scope external collaborator; this struct only decodes the bytes
// it is handed.
type ClientConfig struct {
	// N is the provisioned block count across all shards.
	N int64 `yaml:"N"`

	// Z is the bucket size. Zero selects the default of 4.
	Z int `yaml:"Z"`

	// B is the payload bytes per block.
	B int `yaml:"B"`

	// LeakBits is b: leaked address bits. 0 means classical Path ORAM.
	LeakBits int `yaml:"b"`

	// ServerAddr is host:port of the ORAM server.
	ServerAddr string `yaml:"server_addr"`

	// KeySource is either an inline hex-encoded key or a path to a file
	// containing one hex-encoded key per line. It must yield either one
	// master key (from which per-shard keys are derived) or exactly one
	// key per shard. Reading/parsing that file's on-disk format is an
	// out-of-scope collaborator; ResolveKeys below is what the rest of
	// this package consumes.
	KeySource string `yaml:"key_source"`

	// StashCap is the hard upper bound on stash size before a fatal
	// StashOverflow. Zero selects the O(log N) default.
	StashCap int `yaml:"stash_cap"`

	// RNGSeed is parsed but not read by this package: leaf remapping and
	// IV generation always draw from crypto/rand.
	RNGSeed *int64 `yaml:"rng_seed,omitempty"`

	// CheckpointPath is where the client's position map and stash are
	// checkpointed on clean shutdown.
	CheckpointPath string `yaml:"checkpoint_path"`
}

// LoadClientConfig reads and parses a YAML client configuration file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pathoram: read client config: %w", err)
	}
	var cc ClientConfig
	if err := yaml.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("pathoram: parse client config: %w", err)
	}
	return &cc, nil
}

// Validate checks the client configuration for startup errors (invalid
// N, Z, B, or b), reported as a ConfigError.
func (cc *ClientConfig) Validate() error {
	if cc.N <= 0 {
		return &ConfigError{Detail: "N must be positive"}
	}
	if cc.B <= 0 {
		return &ConfigError{Detail: "B must be positive"}
	}
	if cc.Z < 0 {
		return &ConfigError{Detail: "Z must not be negative"}
	}
	if cc.LeakBits < 0 {
		return &ConfigError{Detail: "b must not be negative"}
	}
	if cc.ServerAddr == "" {
		return &ConfigError{Detail: "server_addr must not be empty"}
	}
	return nil
}

// ShardConfig derives the ShardConfig this client configuration implies: A
// is the smallest address width (at least 1 and at least b) with 2^A >= N,
// and b is LeakBits.
func (cc *ClientConfig) ShardConfig() ShardConfig {
	addrBits := 1
	for (int64(1) << addrBits) < cc.N {
		addrBits++
	}
	if addrBits < cc.LeakBits {
		addrBits = cc.LeakBits
	}
	return ShardConfig{AddrBits: addrBits, LeakBits: cc.LeakBits}
}

// PathORAMConfig derives the per-shard Config (N/2^b, Z, B, stash_cap)
// this client configuration implies.
func (cc *ClientConfig) PathORAMConfig() Config {
	shards := cc.ShardConfig().NumShards()
	perShard := cc.N / shards
	if perShard == 0 {
		perShard = 1
	}
	return Config{
		NumBlocks:  perShard,
		BlockSize:  cc.B,
		BucketSize: cc.Z,
		StashCap:   cc.StashCap,
	}
}

// ResolveKeys returns one cipher key per shard, decoding KeySource either
// as an inline hex string or as a newline-delimited hex key file. Exactly
// one key per shard is returned as is; a single key is treated as a master
// secret and expanded via DeriveShardKeys (hkdf), so it still yields
// per-shard-unlinkable ciphertexts. Any other key count is a ConfigError.
func (cc *ClientConfig) ResolveKeys(keyLen int) ([][]byte, error) {
	n := int(cc.ShardConfig().NumShards())

	raw, err := decodeKeySource(cc.KeySource)
	if err != nil {
		return nil, err
	}
	if len(raw) == n {
		return raw, nil
	}
	if len(raw) == 1 {
		return DeriveShardKeys(raw[0], n, keyLen)
	}
	return nil, &ConfigError{Detail: fmt.Sprintf("key_source: got %d keys, want 1 or %d", len(raw), n)}
}

func decodeKeySource(source string) ([][]byte, error) {
	if key, err := hex.DecodeString(source); err == nil && len(source) > 0 {
		return [][]byte{key}, nil
	}
	raw, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("pathoram: read key_source: %w", err)
	}
	return parseKeyFile(raw)
}

func parseKeyFile(raw []byte) ([][]byte, error) {
	var keys [][]byte
	line := make([]byte, 0, 64)
	flush := func() error {
		if len(line) == 0 {
			return nil
		}
		key, err := hex.DecodeString(string(line))
		if err != nil {
			return fmt.Errorf("pathoram: key_source: invalid hex: %w", err)
		}
		keys = append(keys, key)
		line = line[:0]
		return nil
	}
	for _, b := range raw {
		if b == '\n' || b == '\r' {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		line = append(line, b)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return keys, nil
}
