package pathoram

// PositionMap is the client-side total function from every live logical
// address to its current leaf label. Invariant P1: if
// pos[a] = ℓ, block a is physically on path P(ℓ) or in the stash.
type PositionMap interface {
	// Get returns the leaf position for addr.
	// Returns (leaf, true) if found, (0, false) if never assigned.
	Get(addr int64) (leaf int64, exists bool)

	// Set assigns addr to leaf, overwriting any prior assignment.
	Set(addr int64, leaf int64)

	// Delete removes addr's entry, matching the block's own lifecycle:
	// deleted with the block.
	Delete(addr int64)

	// Size returns the number of addresses with assigned positions.
	Size() int

	// Entries returns a snapshot of all (addr, leaf) pairs, used by
	// checkpointing. The returned slice is owned by the caller.
	Entries() []PosEntry
}

// PosEntry is one (addr, leaf) record, used by Entries and by the
// checkpoint format.
type PosEntry struct {
	Addr int64
	Leaf int64
}

// InMemoryPositionMap implements PositionMap using a Go map. This is the
// only implementation in this repo: recursive position maps (for N too
// large to fit client memory) are out of scope.
type InMemoryPositionMap struct {
	m map[int64]int64
}

// NewInMemoryPositionMap creates a new empty position map.
func NewInMemoryPositionMap() *InMemoryPositionMap {
	return &InMemoryPositionMap{m: make(map[int64]int64)}
}

func (p *InMemoryPositionMap) Get(addr int64) (int64, bool) {
	leaf, ok := p.m[addr]
	return leaf, ok
}

func (p *InMemoryPositionMap) Set(addr int64, leaf int64) {
	p.m[addr] = leaf
}

func (p *InMemoryPositionMap) Delete(addr int64) {
	delete(p.m, addr)
}

func (p *InMemoryPositionMap) Size() int {
	return len(p.m)
}

func (p *InMemoryPositionMap) Entries() []PosEntry {
	out := make([]PosEntry, 0, len(p.m))
	for addr, leaf := range p.m {
		out = append(out, PosEntry{Addr: addr, Leaf: leaf})
	}
	return out
}

// LoadPositionMap rebuilds an InMemoryPositionMap from a checkpoint's
// entries.
func LoadPositionMap(entries []PosEntry) *InMemoryPositionMap {
	p := NewInMemoryPositionMap()
	for _, e := range entries {
		p.m[e.Addr] = e.Leaf
	}
	return p
}
