// Command oram-client is a thin CLI over the Path ORAM client library: it
// loads a ClientConfig, dials the server, and exposes get/put/checkpoint
// subcommands. Flags only feed library calls; no ORAM logic lives here.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	pathoram "github.com/etclab/adjoram"
	"github.com/etclab/adjoram/internal/transport"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "oram-client",
		Short: "Read and write blocks through an adjustable-leakage Path ORAM store",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to client config YAML (required)")
	root.MarkPersistentFlagRequired("config")

	root.AddCommand(provisionCmd(), getCmd(), putCmd(), checkpointCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openShardSet loads the client config, dials one transport.Client per
// shard, assembles an AdjustableShardSet, and reloads the position map and
// stash from the configured checkpoint if one exists. Without that reload
// a restarted client would have no idea where any block lives.
func openShardSet() (*pathoram.AdjustableShardSet, []*transport.Client, *pathoram.ClientConfig, error) {
	cc, err := pathoram.LoadClientConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cc.Validate(); err != nil {
		return nil, nil, nil, err
	}

	shardCfg := cc.ShardConfig()
	perShardCfg, err := cc.PathORAMConfig().Validate()
	if err != nil {
		return nil, nil, nil, err
	}
	keys, err := cc.ResolveKeys(32)
	if err != nil {
		return nil, nil, nil, err
	}

	n := int(shardCfg.NumShards())
	treeParams := perShardCfg.ComputeTreeParams()

	conns := make([]*transport.Client, n)
	shards := make([]*pathoram.PathORAM, n)
	for i := 0; i < n; i++ {
		conn, err := transport.Dial(cc.ServerAddr, uint16(i), treeParams.Height, perShardCfg.BucketSize)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("oram-client: dial shard %d: %w", i, err)
		}
		conns[i] = conn

		cipher, err := pathoram.NewAESCBCCipher(keys[i])
		if err != nil {
			return nil, nil, nil, err
		}

		o, err := pathoram.New(perShardCfg, conn, pathoram.NewInMemoryPositionMap(), cipher)
		if err != nil {
			return nil, nil, nil, err
		}
		shards[i] = o
	}

	set, err := pathoram.NewAdjustableShardSet(shardCfg, shards)
	if err != nil {
		return nil, nil, nil, err
	}

	if cc.CheckpointPath != "" {
		if _, statErr := os.Stat(cc.CheckpointPath); statErr == nil {
			checkpoints, err := pathoram.ReadCheckpoint(cc.CheckpointPath)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("oram-client: reload checkpoint: %w", err)
			}
			if len(checkpoints) != n {
				return nil, nil, nil, fmt.Errorf("oram-client: checkpoint has %d shards, config implies %d", len(checkpoints), n)
			}
			for i, sc := range checkpoints {
				pathoram.RestoreShard(set.Shard(i), sc)
			}
		}
	}
	return set, conns, cc, nil
}

// saveCheckpoint persists the position map and stash of every shard, if a
// checkpoint path is configured. Called on every clean exit so a later
// invocation can pick up where this one left off.
func saveCheckpoint(cc *pathoram.ClientConfig, set *pathoram.AdjustableShardSet) error {
	if cc.CheckpointPath == "" {
		return nil
	}
	shards := make([]*pathoram.PathORAM, set.NumShards())
	for i := range shards {
		shards[i] = set.Shard(i)
	}
	return pathoram.WriteCheckpoint(cc.CheckpointPath, shards)
}

func closeAll(conns []*transport.Client) {
	for _, c := range conns {
		c.Close()
	}
}

func provisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Initialize every shard's tree with freshly encrypted dummy buckets",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, conns, cc, err := openShardSet()
			if err != nil {
				return err
			}
			defer closeAll(conns)
			for i := 0; i < set.NumShards(); i++ {
				if err := set.Shard(i).Provision(); err != nil {
					return fmt.Errorf("oram-client: provision shard %d: %w", i, err)
				}
			}
			if err := saveCheckpoint(cc, set); err != nil {
				return err
			}
			logrus.Info("provisioning complete")
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <addr>",
		Short: "Read the block at addr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr int64
			if _, err := fmt.Sscanf(args[0], "%d", &addr); err != nil {
				return fmt.Errorf("oram-client: invalid addr %q: %w", args[0], err)
			}
			set, conns, cc, err := openShardSet()
			if err != nil {
				return err
			}
			defer closeAll(conns)

			data, err := set.Read(addr)
			if err != nil && !errors.Is(err, pathoram.ErrUnknownAddress) {
				return err
			}
			// A miss is still a completed access that may have moved
			// blocks into the stash, so the checkpoint is saved either way.
			if cerr := saveCheckpoint(cc, set); cerr != nil {
				return cerr
			}
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(data))
			return nil
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <addr> <hex-data>",
		Short: "Write hex-encoded data to addr",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr int64
			if _, err := fmt.Sscanf(args[0], "%d", &addr); err != nil {
				return fmt.Errorf("oram-client: invalid addr %q: %w", args[0], err)
			}
			data, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("oram-client: invalid hex data: %w", err)
			}
			set, conns, cc, err := openShardSet()
			if err != nil {
				return err
			}
			defer closeAll(conns)

			if _, err := set.Write(addr, data); err != nil {
				return err
			}
			return saveCheckpoint(cc, set)
		},
	}
}

func checkpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Write a position-map/stash checkpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, conns, cc, err := openShardSet()
			if err != nil {
				return err
			}
			defer closeAll(conns)

			if cc.CheckpointPath == "" {
				return fmt.Errorf("oram-client: checkpoint_path not set in config")
			}
			return saveCheckpoint(cc, set)
		},
	}
}
