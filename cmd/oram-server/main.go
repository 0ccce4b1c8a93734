// Command oram-server runs the Path ORAM bucket-tree server: it owns the
// persisted, encrypted bucket trees for every shard and answers
// read_path/write_path requests over the wire protocol.
// Argument parsing is deliberately thin: flags only feed a ServerConfig, which does
// all the real work.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	pathoram "github.com/etclab/adjoram"
	"github.com/etclab/adjoram/internal/store"
	"github.com/etclab/adjoram/internal/transport"
)

func main() {
	var configPath string
	var listenOverride string

	root := &cobra.Command{
		Use:   "oram-server",
		Short: "Serve an adjustable-leakage Path ORAM bucket tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, listenOverride)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to server config YAML (required)")
	root.Flags().StringVar(&listenOverride, "listen", "", "override listen_addr from config")
	root.MarkFlagRequired("config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, listenOverride string) error {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := pathoram.LoadServerConfig(configPath)
	if err != nil {
		return err
	}
	if listenOverride != "" {
		cfg.ListenAddr = listenOverride
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := bbolt.Open(cfg.DBPath, 0o600, nil)
	if err != nil {
		return fmt.Errorf("oram-server: open db: %w", err)
	}
	defer db.Close()

	trees := make([]pathoram.BucketTree, cfg.NumShards)
	for i := 0; i < cfg.NumShards; i++ {
		t, err := store.OpenBoltTree(db, uint16(i), cfg.TreeHeight, cfg.BucketSize, cfg.BlockSize)
		if err != nil {
			return err
		}
		trees[i] = t
	}

	srv := transport.NewServer(trees, log)

	if cfg.MetricsAddr != "" {
		srv.SetMetrics(pathoram.NewMetrics(prometheus.DefaultRegisterer))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.WithField("addr", cfg.MetricsAddr).Info("metrics server listening")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics server exited")
			}
		}()
	}

	return srv.Serve(cfg.ListenAddr)
}
