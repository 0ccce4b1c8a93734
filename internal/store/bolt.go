// Package store provides server-resident persisted storage for the
// encrypted bucket tree: a single flat KV store mapping (shard_id,
// node_id) -> ciphertext. Node ids are stable and assigned by the flat
// array layout of the tree. No other state is persisted server-side.
// BoltTree is that KV store, backed by go.etcd.io/bbolt.
package store

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	pathoram "github.com/etclab/adjoram"
)

var bucketsBucketName = []byte("buckets")

// BoltTree implements pathoram.BucketTree for a single shard, storing
// every node's ciphertext blob under key shardID||nodeID in one shared
// bbolt database. Opening the same DB path and shard id again (e.g. after
// a server restart) recovers exactly the ciphertext state left by the
// last WritePath -- the server persists nothing else.
type BoltTree struct {
	db         *bbolt.DB
	shardID    uint16
	height     int
	numLeaves  int64
	bucketSize int
}

// OpenBoltTree opens (creating if necessary) dbPath and returns a BoltTree
// for shardID with the given tree dimensions. If the shard's nodes are not
// yet present, every node is initialized to an all-dummy serialized
// bucket, the same empty state pathoram.NewMemoryTree starts from.
func OpenBoltTree(db *bbolt.DB, shardID uint16, height, bucketSize, blockSize int) (*BoltTree, error) {
	t := &BoltTree{
		db:         db,
		shardID:    shardID,
		height:     height,
		numLeaves:  int64(1) << height,
		bucketSize: bucketSize,
	}

	err := db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketsBucketName)
		if err != nil {
			return err
		}
		empty := emptyBucketBlob(bucketSize, blockSize)
		total := (int64(1) << (height + 1)) - 1
		for id := int64(1); id <= total; id++ {
			key := nodeKey(shardID, id)
			if b.Get(key) == nil {
				if err := b.Put(key, empty); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: init shard %d: %w", shardID, err)
	}
	return t, nil
}

func nodeKey(shardID uint16, nodeID int64) []byte {
	key := make([]byte, 10)
	binary.BigEndian.PutUint16(key[0:2], shardID)
	binary.BigEndian.PutUint64(key[2:10], uint64(nodeID))
	return key
}

// emptyBucketBlob serializes bucketSize dummy block records (addr=0,
// leaf=-1, zeroed payload), matching the plaintext layout block.go's
// serializeBucket produces for an all-dummy bucket. This is a plaintext
// placeholder, not a valid ciphertext -- the server never holds a cipher
// key, so it cannot produce one. It exists only so ReadPath never returns
// a missing-node error against a database nothing has written to yet.
// Every shard's client must call pathoram.PathORAM.Provision once before
// its first real Access, overwriting every node with real, independently
// encrypted ciphertext; until then, decrypting a node read from a
// freshly opened BoltTree will fail.
func emptyBucketBlob(bucketSize, blockSize int) []byte {
	recordLen := 12 + blockSize
	buf := make([]byte, bucketSize*recordLen)
	for i := 0; i < bucketSize; i++ {
		off := i * recordLen
		// addr = 0 (little-endian, matches block.go's putUint64LE)
		// leaf = 0xFFFFFFFF (-1 as int32, matches block.go's dummyBlock)
		for j := 8; j < 12; j++ {
			buf[off+j] = 0xFF
		}
	}
	return buf
}

// pathNodeIDs mirrors tree.go's pathNodeIDs: the Height+1 node ids on
// P(leaf), leaf-to-root, flat-array layout.
func (t *BoltTree) pathNodeIDs(leaf int64) []int64 {
	ids := make([]int64, t.height+1)
	id := (int64(1) << t.height) + leaf
	for d := t.height; d >= 0; d-- {
		ids[t.height-d] = id
		id /= 2
	}
	return ids
}

func (t *BoltTree) Height() int      { return t.height }
func (t *BoltTree) NumLeaves() int64 { return t.numLeaves }
func (t *BoltTree) BucketSize() int  { return t.bucketSize }

// ReadPath implements pathoram.BucketTree.
func (t *BoltTree) ReadPath(leaf int64) ([][]byte, error) {
	if leaf < 0 || leaf >= t.numLeaves {
		return nil, fmt.Errorf("store: leaf %d out of range [0,%d)", leaf, t.numLeaves)
	}
	ids := t.pathNodeIDs(leaf)
	out := make([][]byte, len(ids))
	err := t.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketsBucketName)
		for i, id := range ids {
			v := b.Get(nodeKey(t.shardID, id))
			if v == nil {
				return fmt.Errorf("store: missing node %d for shard %d", id, t.shardID)
			}
			cp := make([]byte, len(v))
			copy(cp, v)
			out[i] = cp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WritePath implements pathoram.BucketTree, replacing all Height+1 nodes
// on P(leaf) inside a single bbolt transaction so the server's view is
// "one request, one response" even though it touches many keys.
func (t *BoltTree) WritePath(leaf int64, blobs [][]byte) error {
	if leaf < 0 || leaf >= t.numLeaves {
		return fmt.Errorf("store: leaf %d out of range [0,%d)", leaf, t.numLeaves)
	}
	if len(blobs) != t.height+1 {
		return &pathoram.ProtocolError{Detail: fmt.Sprintf("write_path: got %d buckets, want %d", len(blobs), t.height+1)}
	}
	ids := t.pathNodeIDs(leaf)
	return t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketsBucketName)
		for i, id := range ids {
			if err := b.Put(nodeKey(t.shardID, id), blobs[i]); err != nil {
				return err
			}
		}
		return nil
	})
}
