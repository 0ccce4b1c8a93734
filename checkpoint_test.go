package pathoram

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckpoint_RoundTrip(t *testing.T) {
	o1 := newTestORAM(t, 32, 16, 4)
	o2 := newTestORAM(t, 32, 16, 4)

	for i := int64(1); i <= 10; i++ {
		_, err := o1.Write(i, bytes.Repeat([]byte{byte(i)}, 16))
		require.NoError(t, err)
	}
	for i := int64(1); i <= 5; i++ {
		_, err := o2.Write(i, bytes.Repeat([]byte{byte(i + 100)}, 16))
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "checkpoint.bin")
	require.NoError(t, WriteCheckpoint(path, []*PathORAM{o1, o2}))

	checkpoints, err := ReadCheckpoint(path)
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)

	require.Equal(t, o1.Capacity(), checkpoints[0].NumBlocks)
	require.Equal(t, int32(o1.Height()), checkpoints[0].Height)
	require.Len(t, checkpoints[0].PosMap, o1.Size())
	require.Len(t, checkpoints[1].PosMap, o2.Size())
}

func TestCheckpoint_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	require.NoError(t, atomicWriteFile(path, []byte("not a checkpoint file at all")))
	_, err := ReadCheckpoint(path)
	require.Error(t, err)
}

// Scenario 6: a checkpoint written before a simulated restart restores
// every address read back correctly once position map and stash are
// reloaded into freshly constructed sub-ORAMs over the same bucket trees.
func TestCheckpoint_CrashRecovery(t *testing.T) {
	cfg := Config{NumBlocks: 32, BlockSize: 16, BucketSize: 4}
	tree := NewMemoryTree(cfg.ComputeTreeParams().Height, cfg.BucketSize, cfg.BlockSize)
	cipher, err := NewAESCBCCipher(bytes.Repeat([]byte{0x9}, 32))
	require.NoError(t, err)

	o1, err := New(cfg, tree, NewInMemoryPositionMap(), cipher)
	require.NoError(t, err)
	require.NoError(t, o1.Provision())

	written := make(map[int64][]byte)
	for i := int64(1); i <= 15; i++ {
		data := bytes.Repeat([]byte{byte(i)}, 16)
		written[i] = data
		_, err := o1.Write(i, data)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "checkpoint.bin")
	require.NoError(t, WriteCheckpoint(path, []*PathORAM{o1}))

	checkpoints, err := ReadCheckpoint(path)
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)

	// Simulate a restart: rebuild a PathORAM over the same (already
	// populated) bucket tree and cipher, then restore its client state.
	o2, err := New(cfg, tree, NewInMemoryPositionMap(), cipher)
	require.NoError(t, err)
	RestoreShard(o2, checkpoints[0])

	for addr, data := range written {
		got, err := o2.Read(addr)
		require.NoError(t, err)
		require.Equal(t, data, got)
	}
}
