package pathoram

import (
	"crypto/rand"
	"math/big"
	"time"
)

// PathORAM is a single Path ORAM sub-instance: one bucket tree, one
// position map, one stash, one cipher context. It is one cell of the
// adjustable-leakage shard set assembled in shard.go.
type PathORAM struct {
	cfg       Config
	height    int
	numLeaves int64

	tree   BucketTree
	posMap PositionMap
	cipher Cipher
	stash  *Stash

	// metrics and shardLabel are optional observability hooks; both are
	// nil/"" by default and every call site guards against a nil *Metrics,
	// so a PathORAM built via NewInMemory never touches Prometheus.
	metrics    *Metrics
	shardLabel string
}

// SetMetrics attaches a Metrics collector and a label (typically the
// shard index as a string) used on every counter/gauge/histogram this
// instance reports.
func (o *PathORAM) SetMetrics(m *Metrics, shardLabel string) {
	o.metrics = m
	o.shardLabel = shardLabel
}

// New creates a PathORAM sub-instance with explicit dependencies. Use this
// constructor when you need a persisted tree, a per-shard cipher key, or a
// position map restored from a checkpoint.
func New(cfg Config, tree BucketTree, posMap PositionMap, c Cipher) (*PathORAM, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	return &PathORAM{
		cfg:       cfg,
		height:    tree.Height(),
		numLeaves: tree.NumLeaves(),
		tree:      tree,
		posMap:    posMap,
		cipher:    c,
		stash:     NewStash(),
	}, nil
}

// NewInMemory creates a PathORAM sub-instance with an in-memory tree, a
// fresh position map, and no encryption. Convenient for tests and local,
// single-process use.
func NewInMemory(cfg Config) (*PathORAM, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	params := cfg.ComputeTreeParams()
	tree := NewMemoryTree(params.Height, cfg.BucketSize, cfg.BlockSize)
	return New(cfg, tree, NewInMemoryPositionMap(), NoOpCipher{})
}

// Capacity returns the number of addresses this shard can hold.
func (o *PathORAM) Capacity() int64 { return o.cfg.NumBlocks }

// Height returns L, the height of the bucket tree.
func (o *PathORAM) Height() int { return o.height }

// NumLeaves returns 2^L.
func (o *PathORAM) NumLeaves() int64 { return o.numLeaves }

// StashSize returns the current number of blocks in the stash.
func (o *PathORAM) StashSize() int { return o.stash.Len() }

// Size returns the number of addresses with an assigned position.
func (o *PathORAM) Size() int { return o.posMap.Size() }

// BlockSize returns the configured payload size B.
func (o *PathORAM) BlockSize() int { return o.cfg.BlockSize }

// randomLeaf draws a leaf label uniformly from [0, numLeaves) using a
// cryptographic RNG, independent of any observable (Invariant R1).
func (o *PathORAM) randomLeaf() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(o.numLeaves))
	if err != nil {
		panic("pathoram: crypto/rand failed: " + err.Error())
	}
	return n.Int64()
}

// Read performs an oblivious read of addr. If addr has never been written,
// it returns ErrUnknownAddress: a typed, recoverable absence. The server
// still observes a full read_path/write_path pair either way, so it cannot
// distinguish a miss from a hit.
func (o *PathORAM) Read(addr int64) ([]byte, error) {
	if addr <= EmptyAddr || addr > o.cfg.NumBlocks {
		return nil, ErrInvalidAddr
	}
	data, found, err := o.access(addr, nil)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUnknownAddress
	}
	return data, nil
}

// Write stores data at addr, returning the previous value (or a fresh
// zero-filled slice if addr had never been written).
func (o *PathORAM) Write(addr int64, data []byte) ([]byte, error) {
	if addr <= EmptyAddr || addr > o.cfg.NumBlocks {
		return nil, ErrInvalidAddr
	}
	if len(data) != o.cfg.BlockSize {
		return nil, ErrInvalidDataSize
	}
	old, _, err := o.access(addr, data)
	return old, err
}

// access runs the five-phase Path ORAM protocol. newData == nil means
// a read; otherwise it is a write. The second return reports whether addr
// held a live block before this access. On any TransportError/CryptoError
// the position-map update from phase (i) is rolled back before returning.
func (o *PathORAM) access(addr int64, newData []byte) ([]byte, bool, error) {
	// (i) Remap.
	oldLeaf, existed := o.posMap.Get(addr)
	if !existed {
		oldLeaf = o.randomLeaf()
	}
	newLeaf := o.randomLeaf()
	o.posMap.Set(addr, newLeaf)

	rollback := func() {
		if existed {
			o.posMap.Set(addr, oldLeaf)
		} else {
			o.posMap.Delete(addr)
		}
	}

	// (ii) Read path, decrypt, stash real blocks.
	if err := o.readPathIntoStash(oldLeaf); err != nil {
		rollback()
		return nil, false, err
	}

	// (iii) Serve. In ConstantTime mode, use the scan-everything stash
	// lookup so the client's own CPU timing doesn't reveal which stash
	// slot (if any) held addr.
	var result []byte
	var found bool
	var existing Block
	if o.cfg.ConstantTime {
		existing, found = o.stash.FindConstantTime(addr)
	} else {
		existing, found = o.stash.Find(addr)
	}
	if found {
		result = existing.Data
		if o.cfg.ConstantTime {
			o.stash.UpdateConstantTime(addr, newLeaf, newData)
		} else {
			o.stash.Update(addr, newLeaf, newData)
		}
	} else {
		result = make([]byte, o.cfg.BlockSize)
		if newData != nil {
			// First write: allocate the block and stage it for eviction.
			nb := Block{Addr: addr, Leaf: newLeaf, Data: make([]byte, o.cfg.BlockSize)}
			copy(nb.Data, newData)
			o.stash.Add(nb)
		}
	}

	// (iv)+(v) Evict and write path back.
	if err := o.evict(oldLeaf); err != nil {
		rollback()
		return nil, false, err
	}

	// A read that missed must not leave a position-map entry behind: the
	// address is still unwritten, and the next read has to miss too. The
	// eviction above already ran, so the server saw the same traffic it
	// would have for a hit.
	if newData == nil && !found {
		rollback()
	}

	op := "read"
	if newData != nil {
		op = "write"
	}
	o.metrics.ObserveAccess(o.shardLabel, op, o.stash.Len())

	return result, found, nil
}

// readPathIntoStash implements phase (ii): fetch the L+1 ciphertext blobs
// on P(leaf), decrypt each whole bucket, move every real block into the
// stash, and discard dummies. Transport/decryption failures surface as
// TransportError/CryptoError.
func (o *PathORAM) readPathIntoStash(leaf int64) error {
	start := time.Now()
	blobs, err := o.tree.ReadPath(leaf)
	o.metrics.ObserveReadPath(o.shardLabel, time.Since(start))
	if err != nil {
		return &TransportError{Op: "read_path", Err: err}
	}
	if len(blobs) != o.height+1 {
		return &ProtocolError{Detail: "read_path: wrong number of buckets"}
	}
	for _, blob := range blobs {
		plaintext, err := o.cipher.Decrypt(blob)
		if err != nil {
			return &CryptoError{Err: err}
		}
		bucket := deserializeBucket(plaintext, o.cfg.BucketSize, o.cfg.BlockSize)
		for _, b := range bucket {
			if b.IsDummy() {
				continue
			}
			o.stash.Add(b)
		}
	}
	return nil
}

// evict implements phases (iv) and (v): rebuild P(leaf) from the leaf
// upward (depth L down to 0), draining the stash once per depth via
// Stash.DrainForBucket, padding with dummies, encrypting with fresh IVs,
// and issuing a single write_path.
func (o *PathORAM) evict(leaf int64) error {
	switch o.cfg.EvictionStrategy {
	case EvictGreedyByDepth:
		return o.evictGreedyByDepth(leaf)
	case EvictTwoPath:
		if err := o.evictLeafFirst(leaf); err != nil {
			return err
		}
		second := o.randomLeaf()
		if err := o.readPathIntoStash(second); err != nil {
			return err
		}
		return o.evictLeafFirst(second)
	default:
		return o.evictLeafFirst(leaf)
	}
}

// evictLeafFirst is the canonical eviction order: depth L (leaf) down to
// depth 0 (root), one DrainForBucket call per depth.
func (o *PathORAM) evictLeafFirst(leaf int64) error {
	blobs := make([][]byte, o.height+1)
	for depth := o.height; depth >= 0; depth-- {
		idx := o.height - depth // 0 = leaf, height = root, matches ReadPath order
		drained := o.drainForDepth(leaf, depth)
		bucket := padded(drained, o.cfg.BucketSize, o.cfg.BlockSize)
		blob, err := o.encryptBucket(bucket)
		if err != nil {
			return err
		}
		blobs[idx] = blob
	}
	start := time.Now()
	err := o.tree.WritePath(leaf, blobs)
	o.metrics.ObserveWritePath(o.shardLabel, time.Since(start))
	if err != nil {
		return &TransportError{Op: "write_path", Err: err}
	}
	if o.stash.Len() > o.cfg.StashCap {
		return ErrStashOverflow
	}
	return nil
}

// evictGreedyByDepth fills P(leaf) from the leaf upward like
// evictLeafFirst, but takes each bucket's up-to-Z blocks in stash order
// rather than by ascending address, so the two differ only when a bucket
// has more than Z candidates; retained as a configurable alternative,
// never the default.
func (o *PathORAM) evictGreedyByDepth(leaf int64) error {
	buckets := make([][]Block, o.height+1)
	entries := o.stash.Entries()
	o.stash.Restore(nil)

	placed := make([]bool, len(entries))
	for depth := o.height; depth >= 0; depth-- {
		idx := o.height - depth
		for i, b := range entries {
			if placed[i] {
				continue
			}
			if len(buckets[idx]) >= o.cfg.BucketSize {
				continue
			}
			if sharePrefix(b.Leaf, leaf, depth, o.height) {
				buckets[idx] = append(buckets[idx], b)
				placed[i] = true
			}
		}
	}
	for i, b := range entries {
		if !placed[i] {
			o.stash.Add(b)
		}
	}

	out := make([][]byte, o.height+1)
	for i := range out {
		bucket := padded(buckets[i], o.cfg.BucketSize, o.cfg.BlockSize)
		blob, err := o.encryptBucket(bucket)
		if err != nil {
			return err
		}
		out[i] = blob
	}
	if err := o.tree.WritePath(leaf, out); err != nil {
		return &TransportError{Op: "write_path", Err: err}
	}
	if o.stash.Len() > o.cfg.StashCap {
		return ErrStashOverflow
	}
	return nil
}

// drainForDepth wraps Stash.DrainForBucket with this shard's height/Z.
func (o *PathORAM) drainForDepth(leaf int64, depth int) []Block {
	return o.stash.DrainForBucket(leaf, depth, o.height, o.cfg.BucketSize)
}

// encryptBucket serializes a whole bucket (Z concatenated block records)
// and encrypts it as one opaque blob under a fresh IV, so the server never
// observes per-slot addr/leaf fields, only a fixed-size ciphertext blob.
func (o *PathORAM) encryptBucket(bucket Bucket) ([]byte, error) {
	plaintext := serializeBucket(bucket)
	ct, err := o.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, &CryptoError{Err: err}
	}
	return ct, nil
}

// Provision writes a freshly, independently encrypted all-dummy bucket to
// every node of the tree. Call this once, right after constructing a
// PathORAM over a brand-new tree whose BucketTree implementation has no
// way to produce real ciphertext on its own (e.g. a freshly opened
// internal/store.BoltTree, which seeds unencrypted placeholder blobs it
// cannot encrypt itself, since the server never holds a cipher key).
// Skip it when reopening a tree that already holds real ciphertext state
// from a prior run -- re-provisioning would silently discard it.
//
// NewInMemory's MemoryTree does not need this: it is paired with
// NoOpCipher, under which "plaintext" and "ciphertext" coincide, so its
// own zero-value initialization already satisfies Invariant E1 trivially.
func (o *PathORAM) Provision() error {
	empty := padded(nil, o.cfg.BucketSize, o.cfg.BlockSize)
	for leaf := int64(0); leaf < o.numLeaves; leaf++ {
		blobs := make([][]byte, o.height+1)
		for i := range blobs {
			blob, err := o.encryptBucket(empty)
			if err != nil {
				return err
			}
			blobs[i] = blob
		}
		if err := o.tree.WritePath(leaf, blobs); err != nil {
			return &TransportError{Op: "write_path", Err: err}
		}
	}
	return nil
}
