package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/unclesp1d3r/cipherswarm/pkg/agent"
	"github.com/unclesp1d3r/cipherswarm/pkg/api"
	"github.com/unclesp1d3r/cipherswarm/pkg/campaign"
	"github.com/unclesp1d3r/cipherswarm/pkg/crack"
	"github.com/unclesp1d3r/cipherswarm/pkg/eta"
	"github.com/unclesp1d3r/cipherswarm/pkg/events"
	"github.com/unclesp1d3r/cipherswarm/pkg/health"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/memstore"
	"github.com/unclesp1d3r/cipherswarm/pkg/metrics"
	"github.com/unclesp1d3r/cipherswarm/pkg/objectstore"
	"github.com/unclesp1d3r/cipherswarm/pkg/scheduler"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/telemetry"
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
	Use:   "cipherswarmd",
	Short: "CipherSwarm - distributed password cracking orchestrator",
	Long: `CipherSwarm coordinates a fleet of hashcat agents: it schedules
attack tasks, collects telemetry and cracked hashes, and keeps every
agent working on the highest-value attack it can serve.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"CipherSwarm version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("base-url", "http://localhost:8080", "externally visible base URL")
	serveCmd.Flags().String("data-dir", "/var/lib/cipherswarm", "data directory")
	serveCmd.Flags().String("config", "", "config file path")
	serveCmd.Flags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the CipherSwarm server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		cfg, err := loadConfig(cmd, configFile)
		if err != nil {
			return err
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: !cfg.LogPretty})
		logger := log.WithComponent("main")

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		objects, err := objectstore.NewLocalStore(cfg.ResourceDir, cfg.BaseURL)
		if err != nil {
			return fmt.Errorf("failed to open object store: %w", err)
		}

		mem := memstore.New()
		defer mem.Close()

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		registry := health.NewRegistry()
		now := time.Now()
		registry.Register("heartbeat_monitor", cfg.HeartbeatCheckInterval, now)
		registry.Register("task_cleanup", cfg.CleanupInterval, now)

		agents := agent.NewService(store, broker, cfg.HeartbeatGrace)
		agents.StartHeartbeatMonitor(cfg.HeartbeatCheckInterval, func(t time.Time) {
			registry.Beat("heartbeat_monitor", t)
		})
		defer agents.Stop()

		campaigns := campaign.NewService(store, broker)
		campaigns.StartCleanup(cfg.CleanupInterval, func(t time.Time) {
			registry.Beat("task_cleanup", t)
		})
		defer campaigns.Stop()

		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()

		server := api.NewServer(api.Config{
			Store:     store,
			Scheduler: scheduler.NewService(store, broker),
			Cracks:    crack.NewService(store, broker),
			Telemetry: telemetry.NewService(store),
			Agents:    agents,
			Campaigns: campaigns,
			ETAs:      eta.NewCalculator(store),
			Health:    health.NewService(store, mem, objects, registry),
			Objects:   objects,
			BaseURL:   cfg.BaseURL,
			Version:   Version,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.ListenAddr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return server.Stop(ctx)
		case err := <-errCh:
			return err
		}
	},
}

// config is the resolved server configuration.
type config struct {
	ListenAddr             string
	BaseURL                string
	DataDir                string
	ResourceDir            string
	LogLevel               string
	LogPretty              bool
	HeartbeatGrace         time.Duration
	HeartbeatCheckInterval time.Duration
	CleanupInterval        time.Duration
}

// loadConfig merges defaults, an optional YAML config file, environment
// variables (CIPHERSWARM_*) and command-line flags, in ascending
// precedence.
func loadConfig(cmd *cobra.Command, configFile string) (*config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("data_dir", "/var/lib/cipherswarm")
	v.SetDefault("resource_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("heartbeat_grace", "30s")
	v.SetDefault("heartbeat_check_interval", "30s")
	v.SetDefault("cleanup_interval", "1h")

	v.SetEnvPrefix("CIPHERSWARM")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flag := cmd.Flags().Lookup("listen-addr"); flag.Changed {
		v.Set("listen_addr", flag.Value.String())
	}
	if flag := cmd.Flags().Lookup("base-url"); flag.Changed {
		v.Set("base_url", flag.Value.String())
	}
	if flag := cmd.Flags().Lookup("data-dir"); flag.Changed {
		v.Set("data_dir", flag.Value.String())
	}
	if flag := cmd.Flags().Lookup("log-level"); flag.Changed {
		v.Set("log_level", flag.Value.String())
	}

	cfg := &config{
		ListenAddr:  v.GetString("listen_addr"),
		BaseURL:     v.GetString("base_url"),
		DataDir:     v.GetString("data_dir"),
		ResourceDir: v.GetString("resource_dir"),
		LogLevel:    v.GetString("log_level"),
		LogPretty:   v.GetBool("log_pretty"),
	}
	if cfg.ResourceDir == "" {
		cfg.ResourceDir = cfg.DataDir + "/resources"
	}

	var err error
	if cfg.HeartbeatGrace, err = time.ParseDuration(v.GetString("heartbeat_grace")); err != nil {
		return nil, fmt.Errorf("invalid heartbeat_grace: %w", err)
	}
	if cfg.HeartbeatCheckInterval, err = time.ParseDuration(v.GetString("heartbeat_check_interval")); err != nil {
		return nil, fmt.Errorf("invalid heartbeat_check_interval: %w", err)
	}
	if cfg.CleanupInterval, err = time.ParseDuration(v.GetString("cleanup_interval")); err != nil {
		return nil, fmt.Errorf("invalid cleanup_interval: %w", err)
	}
	return cfg, nil
}
