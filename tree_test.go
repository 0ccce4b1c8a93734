package pathoram

import (
	"bytes"
	"testing"
)

func TestPathNodeIDs(t *testing.T) {
	tests := []struct {
		leaf   int64
		height int
		want   []int64
	}{
		{0, 0, []int64{1}},
		{0, 2, []int64{4, 2, 1}},
		{3, 2, []int64{7, 3, 1}},
		{1, 2, []int64{5, 2, 1}},
		{5, 3, []int64{13, 6, 3, 1}},
	}
	for _, tt := range tests {
		got := pathNodeIDs(tt.leaf, tt.height)
		if len(got) != len(tt.want) {
			t.Fatalf("pathNodeIDs(%d, %d) len = %d, want %d", tt.leaf, tt.height, len(got), len(tt.want))
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("pathNodeIDs(%d, %d)[%d] = %d, want %d", tt.leaf, tt.height, i, got[i], tt.want[i])
			}
		}
	}
}

// Two paths share exactly the nodes above their deepest common ancestor.
func TestPathNodeIDs_SharedPrefix(t *testing.T) {
	const height = 3
	p0 := pathNodeIDs(0, height) // leaf-to-root
	p1 := pathNodeIDs(1, height)
	p7 := pathNodeIDs(7, height)

	// Leaves 0 and 1 differ only at the leaf level.
	for i := 1; i < len(p0); i++ {
		if p0[i] != p1[i] {
			t.Errorf("P(0) and P(1) diverge at index %d: %d vs %d", i, p0[i], p1[i])
		}
	}
	if p0[0] == p1[0] {
		t.Error("P(0) and P(1) share their leaf node")
	}

	// Leaves 0 and 7 share only the root.
	for i := 0; i < len(p0)-1; i++ {
		if p0[i] == p7[i] {
			t.Errorf("P(0) and P(7) share node at index %d", i)
		}
	}
	if p0[height] != p7[height] || p0[height] != 1 {
		t.Error("all paths must end at the root (node 1)")
	}
}

func TestSharePrefix(t *testing.T) {
	const height = 3
	tests := []struct {
		a, b  int64
		depth int
		want  bool
	}{
		{0, 0, 3, true},
		{0, 1, 3, false},
		{0, 1, 2, true},  // 000 vs 001 agree on top 2 bits
		{0, 3, 2, false}, // 000 vs 011
		{0, 3, 1, true},  // agree on top bit
		{0, 7, 1, false}, // 000 vs 111
		{0, 7, 0, true},  // the root is on every path
	}
	for _, tt := range tests {
		if got := sharePrefix(tt.a, tt.b, tt.depth, height); got != tt.want {
			t.Errorf("sharePrefix(%d, %d, depth=%d) = %v, want %v", tt.a, tt.b, tt.depth, got, tt.want)
		}
	}
}

func TestMemoryTree_InitiallyAllDummy(t *testing.T) {
	tree := NewMemoryTree(2, 4, 16)
	for leaf := int64(0); leaf < tree.NumLeaves(); leaf++ {
		blobs, err := tree.ReadPath(leaf)
		if err != nil {
			t.Fatalf("ReadPath(%d): %v", leaf, err)
		}
		if len(blobs) != tree.Height()+1 {
			t.Fatalf("ReadPath(%d) returned %d buckets, want %d", leaf, len(blobs), tree.Height()+1)
		}
		for _, blob := range blobs {
			bucket := deserializeBucket(blob, 4, 16)
			for _, b := range bucket {
				if !b.IsDummy() {
					t.Fatalf("fresh tree contains a real block: %+v", b)
				}
			}
		}
	}
}

func TestMemoryTree_WriteReadRoundTrip(t *testing.T) {
	tree := NewMemoryTree(2, 2, 16)
	leaf := int64(1)

	blobs := make([][]byte, tree.Height()+1)
	for i := range blobs {
		bucket := padded([]Block{{Addr: int64(i + 1), Leaf: leaf, Data: bytes.Repeat([]byte{byte(i)}, 16)}}, 2, 16)
		blobs[i] = serializeBucket(bucket)
	}
	if err := tree.WritePath(leaf, blobs); err != nil {
		t.Fatalf("WritePath: %v", err)
	}

	got, err := tree.ReadPath(leaf)
	if err != nil {
		t.Fatalf("ReadPath: %v", err)
	}
	for i := range got {
		if !bytes.Equal(got[i], blobs[i]) {
			t.Errorf("blob %d differs after round trip", i)
		}
	}
}

// Writing P(0) must not disturb the parts of P(3) below their common
// ancestor.
func TestMemoryTree_PathsOverlapOnlyAtSharedNodes(t *testing.T) {
	tree := NewMemoryTree(2, 2, 16)

	before, err := tree.ReadPath(3)
	if err != nil {
		t.Fatalf("ReadPath(3): %v", err)
	}

	blobs := make([][]byte, tree.Height()+1)
	for i := range blobs {
		bucket := padded([]Block{{Addr: 1, Leaf: 0, Data: bytes.Repeat([]byte{0x5A}, 16)}}, 2, 16)
		blobs[i] = serializeBucket(bucket)
	}
	if err := tree.WritePath(0, blobs); err != nil {
		t.Fatalf("WritePath(0): %v", err)
	}

	after, err := tree.ReadPath(3)
	if err != nil {
		t.Fatalf("ReadPath(3): %v", err)
	}
	// Leaves 0 and 3 (height 2) share only the root, the last entry in
	// leaf-to-root order.
	for i := 0; i < tree.Height(); i++ {
		if !bytes.Equal(before[i], after[i]) {
			t.Errorf("non-shared node at index %d changed when P(0) was written", i)
		}
	}
	if bytes.Equal(before[tree.Height()], after[tree.Height()]) {
		t.Error("shared root did not change when P(0) was written")
	}
}

func TestMemoryTree_RejectsBadInput(t *testing.T) {
	tree := NewMemoryTree(2, 4, 16)

	if _, err := tree.ReadPath(-1); err == nil {
		t.Error("ReadPath(-1) succeeded")
	}
	if _, err := tree.ReadPath(tree.NumLeaves()); err == nil {
		t.Error("ReadPath(NumLeaves) succeeded")
	}
	if err := tree.WritePath(0, make([][]byte, 1)); err == nil {
		t.Error("WritePath with wrong bucket count succeeded")
	}
}

func TestBlockSerialization_RoundTrip(t *testing.T) {
	b := Block{Addr: 0x0123456789ABCDEF, Leaf: 42, Data: bytes.Repeat([]byte{0x33}, 16)}
	got := deserializeBlock(serializeBlock(b))
	if got.Addr != b.Addr || got.Leaf != b.Leaf || !bytes.Equal(got.Data, b.Data) {
		t.Errorf("round trip = %+v, want %+v", got, b)
	}

	dummy := dummyBlock(16)
	got = deserializeBlock(serializeBlock(dummy))
	if !got.IsDummy() {
		t.Errorf("round-tripped dummy is not a dummy: %+v", got)
	}
	if got.Leaf != -1 {
		t.Errorf("dummy Leaf = %d, want -1", got.Leaf)
	}
}

func TestBucketSerialization_RoundTrip(t *testing.T) {
	bucket := padded([]Block{
		{Addr: 1, Leaf: 2, Data: bytes.Repeat([]byte{0x01}, 16)},
		{Addr: 7, Leaf: 0, Data: bytes.Repeat([]byte{0x07}, 16)},
	}, 4, 16)

	got := deserializeBucket(serializeBucket(bucket), 4, 16)
	if len(got) != 4 {
		t.Fatalf("deserialized bucket has %d slots, want 4", len(got))
	}
	for i := range bucket {
		if got[i].Addr != bucket[i].Addr || got[i].Leaf != bucket[i].Leaf || !bytes.Equal(got[i].Data, bucket[i].Data) {
			t.Errorf("slot %d = %+v, want %+v", i, got[i], bucket[i])
		}
	}
	if !got[2].IsDummy() || !got[3].IsDummy() {
		t.Error("padding slots must be dummies")
	}
}
