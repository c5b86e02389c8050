package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/aerolithdb/pkg/config"
	"github.com/cuemby/aerolithdb/pkg/coordinator"
	"github.com/cuemby/aerolithdb/pkg/dcreplication"
	"github.com/cuemby/aerolithdb/pkg/log"
	"github.com/cuemby/aerolithdb/pkg/metrics"
	"github.com/cuemby/aerolithdb/pkg/resolver"
	"github.com/cuemby/aerolithdb/pkg/storage"
	"github.com/cuemby/aerolithdb/pkg/transport"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a single AerolithDB peer",
	Long: `node starts one AerolithDB peer: it loads a structured config file
(§6), wires the tiered storage engine, consistent-hash ring, Byzantine
consensus engine, partition detector and cross-datacenter replication
controller into a Coordinator, bootstraps or joins a cluster, and serves
Prometheus metrics and health endpoints until it receives SIGINT/SIGTERM.

The in-process transport.Bus this binary wires the coordinator to only
delivers messages between peers registered in the same process (see
pkg/transport's doc comment) - running several "node" processes against
each other over a real network requires swapping that package for a gRPC
transport first. Use "aerolithdb-node dev-cluster" to see multi-peer
consensus, partition recovery and cross-DC replication exercised within a
single process.`,
	RunE: runNode,
}

func init() {
	nodeCmd.Flags().String("config", "", "path to a YAML config file (§6); required")
	nodeCmd.Flags().Bool("bootstrap", false, "bootstrap a brand-new cluster rooted at this peer, instead of joining one")
	nodeCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address to serve /metrics, /health, /ready and /live on")
}

func runNode(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Logging.Level != "" {
		log.Init(log.Config{Level: log.Level(cfg.Logging.Level), JSONOutput: cfg.Logging.JSON})
	}

	logger := log.WithPeerID(cfg.Node.NodeID)
	logger.Info().Str("data_dir", cfg.Node.DataDir).Msg("starting aerolithdb-node")

	peers := cfg.Network.BootstrapPeers
	found := false
	for _, p := range peers {
		if p == cfg.Node.NodeID {
			found = true
			break
		}
	}
	if !found {
		peers = append(peers, cfg.Node.NodeID)
	}

	coordCfg := coordinator.Config{
		PeerID:              cfg.Node.NodeID,
		BindAddr:            fmt.Sprintf("%s:%d", cfg.Node.BindAddress, cfg.Node.Port),
		DataDir:             cfg.Node.DataDir,
		Peers:               peers,
		ClusterID:           cfg.Network.NetworkID,
		EncryptionAtRest:    cfg.Storage.EncryptionAtRest,
		ReplicationFactor:   cfg.Storage.ReplicationFactor,
		VirtualNodesPerPeer: cfg.Storage.VirtualNodesPerPeer,
		MaxDocumentSize:     cfg.Storage.MaxDocumentSize,
		ConflictStrategy:    resolver.Strategy(cfg.Consensus.ConflictResolution),
		HeartbeatInterval:   cfg.Network.HeartbeatInterval,
		DampeningWindow:     2 * cfg.Network.HeartbeatInterval,
		Storage: storage.EngineConfig{
			PeerID:            cfg.Node.NodeID,
			DataDir:           cfg.Storage.DataDir,
			ColdAfter:         cfg.Storage.ColdToArchiveAge / 2,
			ArchiveAfter:      cfg.Storage.ColdToArchiveAge,
			MigrationInterval: cfg.Storage.MigrationInterval,
		},
		DCReplication: dcReplicationConfig(cfg),
	}

	bus := transport.NewBus()
	var dcBus *transport.DatacenterBus
	if cfg.DatacenterReplication.Enabled {
		dcBus = transport.NewDatacenterBus()
	}

	c, err := coordinator.New(coordCfg, bus, dcBus)
	if err != nil {
		return fmt.Errorf("construct coordinator: %w", err)
	}

	// A single-process peer's own signer is always registered against
	// itself so signature verification on locally-originated proposals
	// succeeds; a multi-process deployment distributes Signer().PublicKey()
	// out of band and calls RegisterPeerKey for every other peer before
	// Bootstrap/Join, the same cross-registration coordinator_test.go's
	// newTestCluster helper performs for an in-process cluster.
	c.Signer().RegisterPeerKey(cfg.Node.NodeID, c.Signer().PublicKey())

	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", true, "initialized")
	metrics.RegisterComponent("consensus", false, "bootstrapping")

	if bootstrap {
		if err := c.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
		logger.Info().Msg("cluster bootstrapped")
	} else {
		if err := c.Join(); err != nil {
			return fmt.Errorf("join cluster: %w", err)
		}
		logger.Info().Msg("joined cluster")
	}
	metrics.RegisterComponent("consensus", true, "ready")
	metrics.RegisterComponent("coordinator", true, "ready")

	collector := metrics.NewCollector(func() { c.Stats() })
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics and health endpoints listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("metrics server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := c.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

// dcReplicationConfig translates the YAML-level datacenter_replication
// section into dcreplication.Config, or returns nil when cross-DC
// replication is disabled (coordinator.New skips constructing a Controller
// in that case).
func dcReplicationConfig(cfg config.Config) *dcreplication.Config {
	if !cfg.DatacenterReplication.Enabled {
		return nil
	}
	remotes := make([]dcreplication.RemoteDatacenter, 0, len(cfg.DatacenterReplication.RemoteDatacenters))
	for _, r := range cfg.DatacenterReplication.RemoteDatacenters {
		remotes = append(remotes, dcreplication.RemoteDatacenter{ID: r.ID, Priority: r.Priority})
	}
	return &dcreplication.Config{
		LocalDatacenterID: cfg.DatacenterReplication.LocalDatacenterID,
		Remotes:           remotes,
		DefaultMode:       dcreplication.Mode(cfg.DatacenterReplication.DefaultMode),
		MaxReplicationLag: cfg.DatacenterReplication.MaxReplicationLag,
		RetryAttempts:     cfg.DatacenterReplication.RetryAttempts,
		BatchSize:         cfg.DatacenterReplication.BatchSize,
		AsyncMaxDelay:     cfg.DatacenterReplication.AsyncMaxDelay,
		SyncAckQuorum:     cfg.DatacenterReplication.SyncAckQuorum,
		DataDir:           cfg.Node.DataDir,
	}
}
