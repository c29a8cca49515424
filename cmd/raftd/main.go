// Command raftd is a minimal sample binary wiring the raft library,
// pkg/raftlog, pkg/snapshotstore, pkg/rpctransport, pkg/kvfsm, and
// pkg/controlapi together into a single running node. It exists to give
// the library an executable shape to integration-test against; it is
// not meant to be a production deployment tool.
package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ironquorum/raft/pkg/log"
	"github.com/ironquorum/raft/pkg/metrics"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "raftd",
	Short: "raftd runs a single node of a raft cluster",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/healthz", metrics.HealthHandler())
		mux.Handle("/readyz", metrics.ReadyHandler())
		mux.Handle("/livez", metrics.LivenessHandler())
		log.WithComponent("raftd").Info().Str("addr", addr).Msg("metrics listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithComponent("raftd").Error().Err(err).Msg("metrics server stopped")
		}
	}()
}
