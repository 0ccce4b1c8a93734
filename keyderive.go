package pathoram

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveShardKeys expands a single master secret into numShards
// independent AES keys of length keyLen (16, 24, or 32), one per shard,
// using HKDF-SHA256. This lets a ClientConfig carry one key_source while
// still keeping ciphertexts from different shards unlinkable: the server
// cannot tell two shards' ciphertexts were encrypted under related keys
// without the master secret.
//
// The HKDF info string binds each derived key to its shard index, so
// permuting shards (or reusing a master secret across deployments with a
// different shard count) never produces colliding keys.
func DeriveShardKeys(master []byte, numShards int, keyLen int) ([][]byte, error) {
	if len(master) == 0 {
		return nil, &ConfigError{Detail: "key_source: master secret must not be empty"}
	}
	if numShards <= 0 {
		return nil, &ConfigError{Detail: "key_source: numShards must be positive"}
	}
	switch keyLen {
	case 16, 24, 32:
	default:
		return nil, &ConfigError{Detail: "key_source: keyLen must be 16, 24, or 32"}
	}

	keys := make([][]byte, numShards)
	for i := 0; i < numShards; i++ {
		info := make([]byte, 4+len("pathoram-shard"))
		copy(info, []byte("pathoram-shard"))
		binary.BigEndian.PutUint32(info[len("pathoram-shard"):], uint32(i))

		r := hkdf.New(sha256.New, master, nil, info)
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("pathoram: derive shard %d key: %w", i, err)
		}
		keys[i] = key
	}
	return keys, nil
}
