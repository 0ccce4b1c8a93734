package pathoram

import "fmt"

// BucketTree is the server-resident complete binary tree of fixed-capacity
// buckets. Every node holds one bucket: a bucket serializes as Z
// concatenated block records, then is encrypted as a single opaque blob
// before transit and storage, so a BucketTree stores and returns raw
// ciphertext bytes per node, never a structured Block. Individual
// addr/leaf fields are only ever visible to whoever holds the cipher key;
// the server sees opaque blobs of a fixed size. BucketTree operates on
// whole root-to-leaf paths, matching a "one request, one response"
// transport contract: every access transfers exactly one read_path and
// one write_path.
type BucketTree interface {
	// ReadPath returns the L+1 ciphertext blobs on P(leaf), ordered
	// leaf-to-root (index 0 is the leaf bucket, index L is the root).
	ReadPath(leaf int64) ([][]byte, error)

	// WritePath replaces all L+1 bucket blobs on P(leaf) atomically from
	// the caller's viewpoint, ordered leaf-to-root like ReadPath.
	WritePath(leaf int64, blobs [][]byte) error

	// Height returns L: leaves sit at depth L, the root at depth 0.
	Height() int

	// NumLeaves returns 2^L.
	NumLeaves() int64

	// BucketSize returns Z, the number of slots per bucket.
	BucketSize() int
}

// pathNodeIDs returns the Height()+1 node ids on P(leaf), leaf-to-root,
// using a flat-array layout: node_id = 1 … 2^(L+1)-1 with
// parent(i) = i/2, left(i) = 2i, right(i) = 2i+1, root id 1. leaf is in
// [0, numLeaves).
func pathNodeIDs(leaf int64, height int) []int64 {
	ids := make([]int64, height+1)
	id := (int64(1) << height) + leaf
	for d := height; d >= 0; d-- {
		ids[height-d] = id
		id /= 2
	}
	return ids
}

// sharePrefix reports whether leaves a and b agree on their top d bits,
// i.e. whether the bucket at depth d on P(a) is also on P(b): the
// deepest-common-ancestor test.
func sharePrefix(a, b int64, d, height int) bool {
	shift := height - d
	return (a >> shift) == (b >> shift)
}

// MemoryTree is an in-memory BucketTree, used for local/offline operation
// and tests. It mirrors the flat-array layout so that swapping in a
// persisted implementation (internal/store.BoltTree)
// changes nothing about path addressing.
type MemoryTree struct {
	height     int
	numLeaves  int64
	bucketSize int
	blockSize  int
	nodes      map[int64][]byte
}

// NewMemoryTree creates a MemoryTree with every node initialized to an
// all-dummy, serialized (but not yet encrypted) bucket blob. That initial
// blob is the plaintext wire form; callers that want encrypted-at-rest semantics
// should write through a Cipher before persisting elsewhere.
func NewMemoryTree(height int, bucketSize, blockSize int) *MemoryTree {
	numLeaves := int64(1) << height
	t := &MemoryTree{
		height:     height,
		numLeaves:  numLeaves,
		bucketSize: bucketSize,
		blockSize:  blockSize,
		nodes:      make(map[int64][]byte),
	}
	empty := serializeBucket(padded(nil, bucketSize, blockSize))
	total := (int64(1) << (height + 1)) - 1
	for id := int64(1); id <= total; id++ {
		blob := make([]byte, len(empty))
		copy(blob, empty)
		t.nodes[id] = blob
	}
	return t
}

func (t *MemoryTree) Height() int      { return t.height }
func (t *MemoryTree) NumLeaves() int64 { return t.numLeaves }
func (t *MemoryTree) BucketSize() int  { return t.bucketSize }

func (t *MemoryTree) ReadPath(leaf int64) ([][]byte, error) {
	if leaf < 0 || leaf >= t.numLeaves {
		return nil, fmt.Errorf("pathoram: leaf %d out of range [0,%d)", leaf, t.numLeaves)
	}
	ids := pathNodeIDs(leaf, t.height)
	out := make([][]byte, len(ids))
	for i, id := range ids {
		blob := t.nodes[id]
		cp := make([]byte, len(blob))
		copy(cp, blob)
		out[i] = cp
	}
	return out, nil
}

func (t *MemoryTree) WritePath(leaf int64, blobs [][]byte) error {
	if leaf < 0 || leaf >= t.numLeaves {
		return fmt.Errorf("pathoram: leaf %d out of range [0,%d)", leaf, t.numLeaves)
	}
	if len(blobs) != t.height+1 {
		return &ProtocolError{Detail: fmt.Sprintf("write_path: got %d buckets, want %d", len(blobs), t.height+1)}
	}
	ids := pathNodeIDs(leaf, t.height)
	for i, id := range ids {
		cp := make([]byte, len(blobs[i]))
		copy(cp, blobs[i])
		t.nodes[id] = cp
	}
	return nil
}
