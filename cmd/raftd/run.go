package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ironquorum/raft"
	"github.com/ironquorum/raft/pkg/controlapi"
	"github.com/ironquorum/raft/pkg/kvfsm"
	"github.com/ironquorum/raft/pkg/log"
	"github.com/ironquorum/raft/pkg/metrics"
	"github.com/ironquorum/raft/pkg/raftconfig"
	"github.com/ironquorum/raft/pkg/raftlog"
	"github.com/ironquorum/raft/pkg/rpctransport"
	"github.com/ironquorum/raft/pkg/snapshotstore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a node from a YAML configuration file",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "path to the node's YAML configuration")
	runCmd.Flags().String("metrics-addr", "", "address to serve /metrics on, empty disables it")
	_ = runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := raftconfig.Load(configPath)
	if err != nil {
		return err
	}

	logStore, err := raftlog.Open(filepath.Join(cfg.DataDir, "log"))
	if err != nil {
		metrics.RegisterComponent("log", false, err.Error())
		return fmt.Errorf("raftd: open log: %w", err)
	}
	metrics.RegisterComponent("log", true, "")

	stableStore, err := raftlog.OpenStableStore(filepath.Join(cfg.DataDir, "stable"))
	if err != nil {
		return fmt.Errorf("raftd: open stable store: %w", err)
	}
	snapshots, err := snapshotstore.Open(filepath.Join(cfg.DataDir, "snapshots"))
	if err != nil {
		return fmt.Errorf("raftd: open snapshot store: %w", err)
	}
	fsm, err := kvfsm.Open(filepath.Join(cfg.DataDir, "kv.db"))
	if err != nil {
		metrics.RegisterComponent("fsm", false, err.Error())
		return fmt.Errorf("raftd: open kv store: %w", err)
	}
	metrics.RegisterComponent("fsm", true, "")
	defer fsm.Close()

	transport, err := rpctransport.New(rpctransport.Options{
		LocalID:       cfg.NodeID,
		ListenAddress: cfg.BindAddr,
		Peers:         cfg.TransportPeers(),
		Codec:         &rpctransport.GobCodec{},
	})
	if err != nil {
		metrics.RegisterComponent("transport", false, err.Error())
		return fmt.Errorf("raftd: start transport: %w", err)
	}
	metrics.RegisterComponent("transport", true, "")
	defer transport.Close()

	node, err := raft.New(raft.Options{
		ID:        cfg.NodeID,
		Config:    cfg.RaftConfig(),
		Transport: transport,
		Log:       logStore,
		Stable:    stableStore,
		Snapshots: snapshots,
		FSM:       fsm,
	})
	if err != nil {
		return fmt.Errorf("raftd: create node: %w", err)
	}

	if cfg.Bootstrap && logStore.LastIndex() == 0 {
		if err := node.Bootstrap(cfg.BootstrapServers()); err != nil {
			return fmt.Errorf("raftd: bootstrap: %w", err)
		}
	}

	if err := node.Start(); err != nil {
		return fmt.Errorf("raftd: start node: %w", err)
	}
	defer node.Stop()

	_ = node.RegisterObserver(func(ev raft.Event) {
		if ev.Kind != raft.EventLeaderChange {
			return
		}
		if ev.HasLeader {
			metrics.RegisterComponent("leader", true, fmt.Sprintf("leader is %d", ev.LeaderID))
		} else {
			metrics.RegisterComponent("leader", false, "no leader known")
		}
	})

	serveMetrics(metricsAddr)

	if cfg.ControlAPIAddr != "" {
		grpcServer := controlapi.NewServer(node)
		go func() {
			if err := controlapi.Serve(grpcServer, cfg.ControlAPIAddr); err != nil {
				log.WithComponent("raftd").Error().Err(err).Msg("control API stopped")
			}
		}()
		defer grpcServer.GracefulStop()
	}

	log.WithComponent("raftd").Info().
		Uint64("node_id", uint64(cfg.NodeID)).
		Str("bind_addr", cfg.BindAddr).
		Msg("raftd started")

	waitForSignal()
	log.WithComponent("raftd").Info().Msg("raftd shutting down")
	return nil
}
