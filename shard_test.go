package pathoram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShardConfig_Validate(t *testing.T) {
	require.NoError(t, ShardConfig{AddrBits: 8, LeakBits: 0}.Validate())
	require.NoError(t, ShardConfig{AddrBits: 8, LeakBits: 8}.Validate())
	require.Error(t, ShardConfig{AddrBits: 0, LeakBits: 0}.Validate())
	require.Error(t, ShardConfig{AddrBits: 8, LeakBits: -1}.Validate())
	require.Error(t, ShardConfig{AddrBits: 8, LeakBits: 9}.Validate())
}

func TestShardConfig_NumShards(t *testing.T) {
	require.Equal(t, int64(1), ShardConfig{AddrBits: 8, LeakBits: 0}.NumShards())
	require.Equal(t, int64(4), ShardConfig{AddrBits: 8, LeakBits: 2}.NumShards())
	require.Equal(t, int64(256), ShardConfig{AddrBits: 8, LeakBits: 8}.NumShards())
}

func TestShardConfig_AddrRoundTrip(t *testing.T) {
	cfg := ShardConfig{AddrBits: 10, LeakBits: 3}
	for shard := int64(0); shard < cfg.NumShards(); shard++ {
		for internal := int64(1); internal < int64(1)<<(cfg.AddrBits-cfg.LeakBits); internal++ {
			global := cfg.globalAddr(shard, internal)
			require.Equal(t, shard, cfg.shardOf(global))
			require.Equal(t, internal, cfg.internalAddr(global))
		}
	}
}

// Invariant A1: shards are disjoint -- every address belongs to exactly
// one shard, and an access never touches more than one sub-ORAM's state.
func TestAdjustableShardSet_Disjointness(t *testing.T) {
	shardCfg := ShardConfig{AddrBits: 6, LeakBits: 2}
	set, err := NewUniformShardSet(Config{NumBlocks: 16, BlockSize: 16, BucketSize: 4}, shardCfg)
	require.NoError(t, err)
	require.Equal(t, 4, set.NumShards())

	seen := make(map[int64]int64)
	for global := int64(0); global < int64(1)<<shardCfg.AddrBits; global++ {
		shard := set.ShardOf(global)
		if prev, ok := seen[global]; ok {
			require.Equal(t, prev, shard)
		}
		seen[global] = shard
		require.GreaterOrEqual(t, shard, int64(0))
		require.Less(t, shard, int64(set.NumShards()))
	}
}

// Scenario 5: writes to one shard never perturb another shard's stash or
// position map -- sub-ORAMs are fully independent state machines.
func TestAdjustableShardSet_ShardIndependence(t *testing.T) {
	shardCfg := ShardConfig{AddrBits: 6, LeakBits: 2}
	set, err := NewUniformShardSet(Config{NumBlocks: 16, BlockSize: 16, BucketSize: 4}, shardCfg)
	require.NoError(t, err)

	perShardAddrBits := shardCfg.AddrBits - shardCfg.LeakBits
	addrInShard0 := shardCfg.globalAddr(0, 1)
	addrInShard1 := shardCfg.globalAddr(1, 1)
	require.Equal(t, int64(0), set.ShardOf(addrInShard0))
	require.Equal(t, int64(1), set.ShardOf(addrInShard1))
	_ = perShardAddrBits

	before := make([]int, set.NumShards())
	for i := range before {
		before[i] = set.Shard(i).StashSize()
	}

	data := []byte("0123456789abcdef")
	_, err = set.Write(addrInShard0, data)
	require.NoError(t, err)

	for i := 1; i < set.NumShards(); i++ {
		require.Equal(t, before[i], set.Shard(i).StashSize(), "shard %d's stash should be untouched by a write to shard 0", i)
	}

	got, err := set.Read(addrInShard0)
	require.NoError(t, err)
	require.Equal(t, data, got)

	_, err = set.Read(addrInShard1)
	require.ErrorIs(t, err, ErrUnknownAddress)
}

func TestAdjustableShardSet_ShardCountMismatch(t *testing.T) {
	shardCfg := ShardConfig{AddrBits: 4, LeakBits: 2}
	shards := make([]*PathORAM, 2) // wrong count; want 4
	for i := range shards {
		o, err := NewInMemory(Config{NumBlocks: 8, BlockSize: 16, BucketSize: 4})
		require.NoError(t, err)
		shards[i] = o
	}
	_, err := NewAdjustableShardSet(shardCfg, shards)
	require.Error(t, err)
}

func TestAdjustableShardSet_StashSizes(t *testing.T) {
	shardCfg := ShardConfig{AddrBits: 4, LeakBits: 2}
	set, err := NewUniformShardSet(Config{NumBlocks: 16, BlockSize: 16, BucketSize: 4}, shardCfg)
	require.NoError(t, err)

	sizes := set.StashSizes()
	require.Len(t, sizes, set.NumShards())
	for _, s := range sizes {
		require.Equal(t, 0, s)
	}

	// A lone written block always fits the root bucket during eviction, so
	// the stash drains back to zero after the access completes.
	_, err = set.Write(shardCfg.globalAddr(0, 1), make([]byte, 16))
	require.NoError(t, err)
	require.Equal(t, 0, set.StashSizes()[0])

	// StashSizes reflects per-shard state: stage a block in shard 1's
	// stash directly and only that slot moves.
	set.Shard(1).stash.Add(Block{Addr: 2, Leaf: 0, Data: make([]byte, 16)})
	sizes = set.StashSizes()
	require.Equal(t, 0, sizes[0])
	require.Equal(t, 1, sizes[1])
}

// traceTree records the shard index of every path operation into a shared
// log, reproducing the server's observation sequence.
type traceTree struct {
	BucketTree
	shard int64
	log   *[]int64
}

func (tt *traceTree) ReadPath(leaf int64) ([][]byte, error) {
	*tt.log = append(*tt.log, tt.shard)
	return tt.BucketTree.ReadPath(leaf)
}

func newTracedShardSet(t *testing.T, shardCfg ShardConfig, perShard Config, log *[]int64) *AdjustableShardSet {
	t.Helper()
	perShard, err := perShard.Validate()
	require.NoError(t, err)
	params := perShard.ComputeTreeParams()

	shards := make([]*PathORAM, shardCfg.NumShards())
	for i := range shards {
		tree := &traceTree{
			BucketTree: NewMemoryTree(params.Height, perShard.BucketSize, perShard.BlockSize),
			shard:      int64(i),
			log:        log,
		}
		o, err := New(perShard, tree, NewInMemoryPositionMap(), NoOpCipher{})
		require.NoError(t, err)
		shards[i] = o
	}
	set, err := NewAdjustableShardSet(shardCfg, shards)
	require.NoError(t, err)
	return set
}

// Leakage contract: two access sequences that agree on the leaked prefix
// of every address produce identical shard-id observation sequences, no
// matter how the low bits, operations, or payloads differ.
func TestObliviousness_ShardSequenceDependsOnlyOnPrefix(t *testing.T) {
	shardCfg := ShardConfig{AddrBits: 6, LeakBits: 2}
	perShard := Config{NumBlocks: 16, BlockSize: 16, BucketSize: 4}

	var log1, log2 []int64
	set1 := newTracedShardSet(t, shardCfg, perShard, &log1)
	set2 := newTracedShardSet(t, shardCfg, perShard, &log2)

	// Same shard prefixes in the same order; everything else differs.
	prefixes := []int64{0, 3, 0, 3, 3, 0, 0, 3}
	data := make([]byte, 16)
	for i, p := range prefixes {
		a1 := shardCfg.globalAddr(p, int64(1+i%5))
		a2 := shardCfg.globalAddr(p, int64(1+(i*7)%5))
		if i%2 == 0 {
			_, err := set1.Write(a1, data)
			require.NoError(t, err)
			_, err = set2.Read(a2)
			require.True(t, err == nil || err == ErrUnknownAddress)
		} else {
			_, err := set1.Read(a1)
			require.True(t, err == nil || err == ErrUnknownAddress)
			_, err = set2.Write(a2, data)
			require.NoError(t, err)
		}
	}

	require.Equal(t, log1, log2, "shard observation sequences must depend only on leaked prefixes")
	for _, s := range log1 {
		require.Contains(t, []int64{0, 3}, s, "shards 1 and 2 must never be touched")
	}
}

// Scenario: per-shard keys keep shards cryptographically isolated --
// ciphertexts written by one shard do not decrypt under a sibling's key.
func TestShards_PerShardKeyIsolation(t *testing.T) {
	keys, err := DeriveShardKeys(bytes32(0x42), 2, 32)
	require.NoError(t, err)

	cfg, err := Config{NumBlocks: 16, BlockSize: 16, BucketSize: 4}.Validate()
	require.NoError(t, err)
	params := cfg.ComputeTreeParams()

	trees := make([]*MemoryTree, 2)
	shards := make([]*PathORAM, 2)
	for i := range shards {
		trees[i] = NewMemoryTree(params.Height, cfg.BucketSize, cfg.BlockSize)
		cipher, err := NewAESCBCCipher(keys[i])
		require.NoError(t, err)
		o, err := New(cfg, trees[i], NewInMemoryPositionMap(), cipher)
		require.NoError(t, err)
		require.NoError(t, o.Provision())
		shards[i] = o
	}

	_, err = shards[0].Write(1, bytes32(0xAB)[:16])
	require.NoError(t, err)

	blobs, err := trees[0].ReadPath(0)
	require.NoError(t, err)

	ownKey, err := NewAESCBCCipher(keys[0])
	require.NoError(t, err)
	wrongKey, err := NewAESCBCCipher(keys[1])
	require.NoError(t, err)

	for _, blob := range blobs {
		own, err := ownKey.Decrypt(blob)
		require.NoError(t, err, "shard 0's key must decrypt shard 0's buckets")
		if wrong, err := wrongKey.Decrypt(blob); err == nil {
			require.NotEqual(t, own, wrong, "sibling key must not recover the plaintext")
		}
	}
}
