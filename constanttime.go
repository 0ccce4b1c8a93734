package pathoram

import (
	"crypto/subtle"
	"encoding/binary"
)

// int64ToBytes encodes v as 8 big-endian bytes so it can be compared with
// subtle.ConstantTimeCompare, which only operates on byte slices.
func int64ToBytes(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// FindConstantTime behaves like Find but never returns early: it scans
// every stash entry regardless of whether a match has already been found.
// The serve phase of Access is the one place the core branches on secret
// data -- is addr present, and where -- so it is the one place a
// cache-timing side channel on the client could leak stash layout across
// accesses. Draining for eviction is exempt: its tie-break order is
// deterministic and public, so there is nothing to hide there.
func (s *Stash) FindConstantTime(addr int64) (Block, bool) {
	want := int64ToBytes(addr)
	found := 0
	var result Block

	for _, b := range s.blocks {
		match := subtle.ConstantTimeCompare(int64ToBytes(b.Addr), want)
		if len(result.Data) != len(b.Data) {
			result.Data = make([]byte, len(b.Data))
		}
		subtle.ConstantTimeCopy(match, result.Data, b.Data)
		result.Leaf = int64(subtle.ConstantTimeSelect(match, int(b.Leaf), int(result.Leaf)))
		result.Addr = int64(subtle.ConstantTimeSelect(match, int(b.Addr), int(result.Addr)))
		found |= match
	}
	return result.clone(), found == 1
}

// UpdateConstantTime behaves like Update but scans the whole stash
// unconditionally, writing newLeaf/data into whichever slot matches addr
// without branching on which slot that is.
func (s *Stash) UpdateConstantTime(addr int64, newLeaf int64, data []byte) bool {
	want := int64ToBytes(addr)
	found := 0
	for i := range s.blocks {
		match := subtle.ConstantTimeCompare(int64ToBytes(s.blocks[i].Addr), want)
		s.blocks[i].Leaf = int64(subtle.ConstantTimeSelect(match, int(newLeaf), int(s.blocks[i].Leaf)))
		if data != nil {
			subtle.ConstantTimeCopy(match, s.blocks[i].Data, data)
		}
		found |= match
	}
	return found == 1
}
