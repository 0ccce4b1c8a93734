package pathoram

import "sort"

// Stash is the client-side overflow set of real blocks awaiting eviction
//. Invariant S1: every block in the stash belongs to the
// current shard and has a valid position-map entry.
type Stash struct {
	blocks []Block
}

// NewStash returns an empty stash.
func NewStash() *Stash {
	return &Stash{}
}

// Len returns the current stash size.
func (s *Stash) Len() int {
	return len(s.blocks)
}

// Add inserts a block into the stash. Dummy blocks must never be added;
// callers discard them at the point they are read off a path.
func (s *Stash) Add(b Block) {
	s.blocks = append(s.blocks, b)
}

// Find returns a copy of the block with the given address, if present.
func (s *Stash) Find(addr int64) (Block, bool) {
	for _, b := range s.blocks {
		if b.Addr == addr {
			return b.clone(), true
		}
	}
	return Block{}, false
}

// Update overwrites the data and leaf of the block with addr, if present,
// and reports whether it found one.
func (s *Stash) Update(addr int64, newLeaf int64, data []byte) bool {
	for i := range s.blocks {
		if s.blocks[i].Addr == addr {
			s.blocks[i].Leaf = newLeaf
			if data != nil {
				copy(s.blocks[i].Data, data)
			}
			return true
		}
	}
	return false
}

// Remove deletes the block with the given address from the stash, if
// present.
func (s *Stash) Remove(addr int64) {
	for i, b := range s.blocks {
		if b.Addr == addr {
			s.blocks = append(s.blocks[:i], s.blocks[i+1:]...)
			return
		}
	}
}

// Entries returns a snapshot of the stash contents, used by checkpointing.
func (s *Stash) Entries() []Block {
	out := make([]Block, len(s.blocks))
	for i, b := range s.blocks {
		out[i] = b.clone()
	}
	return out
}

// Restore replaces the stash contents wholesale, used when reloading a
// checkpoint.
func (s *Stash) Restore(blocks []Block) {
	s.blocks = make([]Block, len(blocks))
	for i, b := range blocks {
		s.blocks[i] = b.clone()
	}
}

// DrainForBucket implements drain_for_bucket(ℓ, d): it
// selects at most z blocks whose current leaf shares its top d bits (of an
// L-bit leaf label) with ℓ, breaking ties by ascending address, removes
// them from the stash, and returns them. height is L; depth is d.
func (s *Stash) DrainForBucket(leaf int64, depth, height, z int) []Block {
	type candidate struct {
		idx int
		b   Block
	}
	var candidates []candidate
	for i, b := range s.blocks {
		if sharePrefix(b.Leaf, leaf, depth, height) {
			candidates = append(candidates, candidate{idx: i, b: b})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].b.Addr < candidates[j].b.Addr
	})
	if len(candidates) > z {
		candidates = candidates[:z]
	}

	removeIdx := make(map[int]bool, len(candidates))
	out := make([]Block, len(candidates))
	for i, c := range candidates {
		out[i] = c.b.clone()
		removeIdx[c.idx] = true
	}
	if len(removeIdx) > 0 {
		kept := s.blocks[:0]
		for i, b := range s.blocks {
			if !removeIdx[i] {
				kept = append(kept, b)
			}
		}
		s.blocks = kept
	}
	return out
}
