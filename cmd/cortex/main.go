package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cortexops/cortex/pkg/api"
	"github.com/cortexops/cortex/pkg/config"
	"github.com/cortexops/cortex/pkg/engine"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "Cortex - autonomic coordination engine for module fleets",
	Long: `Cortex keeps a fleet of service modules on a shared logical clock,
detects drift and failure, isolates and recovers modules without
cascading the damage, and fans approved behavioral patches out to the
worker fleet with bounded, auditable delivery.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Cortex version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("addr", "127.0.0.1:7600", "engine control-surface address")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(moduleCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(predicateCmd)
	rootCmd.AddCommand(alertsCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination engine",
	Long: `Run the coordination engine: heartbeat clock, sync beacon, health
monitor, drift detector, recovery manager, worker lifecycle manager and
predicate broadcaster, with the HTTP control surface and metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		apiAddr, _ := cmd.Flags().GetString("api-addr")
		debug, _ := cmd.Flags().GetBool("debug")

		level := log.InfoLevel
		if debug {
			level = log.DebugLevel
		}
		log.Init(log.Config{Level: level, JSONOutput: true})

		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %v", err)
			}
			cfg = loaded
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if apiAddr != "" {
			cfg.APIAddr = apiAddr
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %v", err)
		}

		eng, err := engine.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to build engine: %v", err)
		}
		eng.Start()

		apiServer := api.NewServer(eng)
		errCh := make(chan error, 2)
		go func() {
			if err := apiServer.Start(cfg.APIAddr); err != nil {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()
		go func() {
			if err := serveMetrics(cfg.MetricsAddr); err != nil {
				errCh <- fmt.Errorf("metrics server error: %v", err)
			}
		}()

		fmt.Printf("Engine running (api %s, metrics %s). Press Ctrl+C to stop.\n",
			cfg.APIAddr, cfg.MetricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			fmt.Printf("\nReceived %v, shutting down...\n", sig)
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = apiServer.Shutdown(shutdownCtx)
		return eng.Stop()
	},
}

func init() {
	serveCmd.Flags().String("config", "", "path to YAML config file")
	serveCmd.Flags().String("data-dir", "", "state directory (overrides config)")
	serveCmd.Flags().String("api-addr", "", "control-surface listen address (overrides config)")
	serveCmd.Flags().Bool("debug", false, "enable debug logging")
}

// serveMetrics exposes Prometheus metrics and the health probes
func serveMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}
