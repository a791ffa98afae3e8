// tracker is the central coordination daemon: authoritative registry of
// users, active peers, advertised files, reputation scores and chat
// rooms, reachable over the wire protocol in internal/wire.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/filemesh/filemesh/internal/audit"
	"github.com/filemesh/filemesh/internal/blocklist"
	"github.com/filemesh/filemesh/internal/config"
	"github.com/filemesh/filemesh/internal/metrics"
	"github.com/filemesh/filemesh/internal/trackerstate"
	"github.com/filemesh/filemesh/internal/trackersvc"
)

var (
	cfgFile  string
	logLevel string
	logFile  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tracker",
		Short: "Central tracker for the filemesh peer-to-peer file network",
		Long: `tracker coordinates a filemesh swarm: it holds the registry of
registered users, currently active peers, advertised files, reputation
scores and chat rooms, and dispatches every control-plane action peers
send it over a plain TCP wire protocol.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (TOML)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (default: stderr)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the tracker daemon",
		RunE:  runTracker,
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tracker version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("filemesh-tracker dev")
		},
	}
}

func runTracker(cmd *cobra.Command, args []string) error {
	log, err := setupLogger()
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer log.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Always built so ActivePeers/AnnouncedFiles/SnapshotWrites/SnapshotErrors
	// are tracked even when the /metrics HTTP endpoint is disabled.
	trackerMetrics := metrics.NewTracker()
	if cfg.Metrics.Enabled {
		go serveMetrics(log, cfg.Metrics.Addr, trackerMetrics.Handler())
	}

	snapshot := trackerstate.NewSnapshotStore(log, cfg.Storage.SnapshotPath, cfg.Storage.SeedSnapshotPath)
	registry := trackerstate.New(log, snapshot, trackerMetrics)
	if err := registry.Load(); err != nil {
		log.Warn("snapshot load failed, starting from empty registry", zap.Error(err))
	}

	blocked := blocklist.New()

	var auditLog *audit.Writer
	if cfg.Storage.AuditLogPath != "" {
		auditLog, err = audit.NewWriter(cfg.Storage.AuditLogPath)
		if err != nil {
			log.Warn("audit log unavailable, continuing without it", zap.Error(err))
		} else {
			defer auditLog.Close()
		}
	}

	listener, err := net.Listen("tcp", cfg.Network.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Network.ListenAddr, err)
	}
	log.Info("tracker listening", zap.String("addr", listener.Addr().String()))

	srv := trackersvc.New(listener, log, registry, blocked, trackerMetrics, auditLog)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutdown signal received, closing listener")
		listener.Close()
		return nil
	}
}

func serveMetrics(log *zap.Logger, addr string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	log.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}

func setupLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	switch logLevel {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if logFile != "" {
		cfg.OutputPaths = []string{logFile}
	}
	return cfg.Build()
}

func loadConfig() (*config.TrackerConfig, error) {
	if cfgFile != "" {
		return config.LoadTracker(cfgFile)
	}
	return config.LoadTracker("tracker.toml")
}
