package pathoram

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
)

// checkpointMagic and checkpointVersion identify the client-side
// persistence format: [magic | version | shard_count | for each shard:
// (N_i, L_i, pos_map_entries, stash_entries)], distinct from
// the wire protocol's magic (internal/wire) since this file never leaves
// the client.
var checkpointMagic = [4]byte{'P', 'O', 'R', 'C'}

const checkpointVersion = 1

// ShardCheckpoint is one shard's portion of a checkpoint: its provisioned
// size, tree height, position-map entries, and stash contents. Loading a
// checkpoint (RestoreShard) restores the position map and stash into a
// PathORAM built over a fresh (already-reopened) BucketTree; NumBlocks and
// Height are recorded but not applied -- the tree's own persisted state
// (internal/store) is independent of this file.
type ShardCheckpoint struct {
	NumBlocks int64
	Height    int32
	PosMap    []PosEntry
	Stash     []Block
}

// WriteCheckpoint serializes the position map and stash of every shard in
// shards, compresses the payload with snappy block compression, and
// writes it atomically (temp file + rename) to path. Call this on clean
// shutdown; otherwise invariant P1 (every live address is on its path or
// in the stash) cannot be reestablished on restart, since an in-memory
// position map and stash are lost.
func WriteCheckpoint(path string, shards []*PathORAM) error {
	var body bytes.Buffer
	if err := binary.Write(&body, binary.BigEndian, uint32(len(shards))); err != nil {
		return err
	}
	for _, sh := range shards {
		if err := writeShardCheckpoint(&body, sh); err != nil {
			return err
		}
	}

	compressed := snappy.Encode(nil, body.Bytes())

	var out bytes.Buffer
	out.Write(checkpointMagic[:])
	out.WriteByte(checkpointVersion)
	out.Write(compressed)

	return atomicWriteFile(path, out.Bytes())
}

func writeShardCheckpoint(w io.Writer, sh *PathORAM) error {
	if err := binary.Write(w, binary.BigEndian, sh.Capacity()); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(sh.Height())); err != nil {
		return err
	}

	entries := sh.posMap.Entries()
	if err := binary.Write(w, binary.BigEndian, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := binary.Write(w, binary.BigEndian, e.Addr); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, e.Leaf); err != nil {
			return err
		}
	}

	stashed := sh.stash.Entries()
	if err := binary.Write(w, binary.BigEndian, uint32(len(stashed))); err != nil {
		return err
	}
	for _, b := range stashed {
		if err := binary.Write(w, binary.BigEndian, b.Addr); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, b.Leaf); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint32(len(b.Data))); err != nil {
			return err
		}
		if _, err := w.Write(b.Data); err != nil {
			return err
		}
	}
	return nil
}

// ReadCheckpoint decompresses and parses a checkpoint file written by
// WriteCheckpoint, returning one ShardCheckpoint per shard in the order
// they were written. Callers reload each into a PathORAM with
// LoadPositionMap and Stash.Restore after reopening that shard's
// BucketTree.
func ReadCheckpoint(path string) ([]ShardCheckpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pathoram: read checkpoint: %w", err)
	}
	if len(raw) < 5 || [4]byte(raw[0:4]) != checkpointMagic {
		return nil, &ProtocolError{Detail: "checkpoint: bad magic"}
	}
	if raw[4] != checkpointVersion {
		return nil, &ProtocolError{Detail: "checkpoint: unsupported version"}
	}

	body, err := snappy.Decode(nil, raw[5:])
	if err != nil {
		return nil, fmt.Errorf("pathoram: decompress checkpoint: %w", err)
	}
	r := bytes.NewReader(body)

	var shardCount uint32
	if err := binary.Read(r, binary.BigEndian, &shardCount); err != nil {
		return nil, &ProtocolError{Detail: "checkpoint: truncated shard count"}
	}

	out := make([]ShardCheckpoint, shardCount)
	for i := range out {
		sc, err := readShardCheckpoint(r)
		if err != nil {
			return nil, err
		}
		out[i] = sc
	}
	return out, nil
}

func readShardCheckpoint(r io.Reader) (ShardCheckpoint, error) {
	var sc ShardCheckpoint
	if err := binary.Read(r, binary.BigEndian, &sc.NumBlocks); err != nil {
		return sc, &ProtocolError{Detail: "checkpoint: truncated NumBlocks"}
	}
	if err := binary.Read(r, binary.BigEndian, &sc.Height); err != nil {
		return sc, &ProtocolError{Detail: "checkpoint: truncated Height"}
	}

	var posCount uint32
	if err := binary.Read(r, binary.BigEndian, &posCount); err != nil {
		return sc, &ProtocolError{Detail: "checkpoint: truncated pos_map_entries count"}
	}
	sc.PosMap = make([]PosEntry, posCount)
	for i := range sc.PosMap {
		if err := binary.Read(r, binary.BigEndian, &sc.PosMap[i].Addr); err != nil {
			return sc, &ProtocolError{Detail: "checkpoint: truncated pos_map_entries"}
		}
		if err := binary.Read(r, binary.BigEndian, &sc.PosMap[i].Leaf); err != nil {
			return sc, &ProtocolError{Detail: "checkpoint: truncated pos_map_entries"}
		}
	}

	var stashCount uint32
	if err := binary.Read(r, binary.BigEndian, &stashCount); err != nil {
		return sc, &ProtocolError{Detail: "checkpoint: truncated stash_entries count"}
	}
	sc.Stash = make([]Block, stashCount)
	for i := range sc.Stash {
		if err := binary.Read(r, binary.BigEndian, &sc.Stash[i].Addr); err != nil {
			return sc, &ProtocolError{Detail: "checkpoint: truncated stash_entries"}
		}
		if err := binary.Read(r, binary.BigEndian, &sc.Stash[i].Leaf); err != nil {
			return sc, &ProtocolError{Detail: "checkpoint: truncated stash_entries"}
		}
		var dataLen uint32
		if err := binary.Read(r, binary.BigEndian, &dataLen); err != nil {
			return sc, &ProtocolError{Detail: "checkpoint: truncated stash_entries"}
		}
		sc.Stash[i].Data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, sc.Stash[i].Data); err != nil {
			return sc, &ProtocolError{Detail: "checkpoint: truncated stash_entries"}
		}
	}
	return sc, nil
}

// RestoreShard rebuilds o's position map and stash from a checkpoint
// record, for use right after o is constructed over a reopened BucketTree.
func RestoreShard(o *PathORAM, sc ShardCheckpoint) {
	o.posMap = LoadPositionMap(sc.PosMap)
	o.stash.Restore(sc.Stash)
}

// atomicWriteFile writes data to a temp file in the same directory as path
// and renames it into place, so a crash mid-write never leaves a
// partially-written checkpoint at path.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("pathoram: create checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("pathoram: write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("pathoram: sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pathoram: close checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("pathoram: rename checkpoint into place: %w", err)
	}
	return nil
}
