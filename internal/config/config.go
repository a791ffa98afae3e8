// Package config handles TOML configuration loading and defaults for the
// tracker and peer binaries, following the teacher's load-then-override
// pattern: defaults, then file, then environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// TrackerConfig holds all configuration for the tracker process.
type TrackerConfig struct {
	Network  TrackerNetworkConfig  `toml:"network"`
	Storage  TrackerStorageConfig  `toml:"storage"`
	Metrics  MetricsConfig         `toml:"metrics"`
	Logging  LoggingConfig         `toml:"logging"`
}

type TrackerNetworkConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type TrackerStorageConfig struct {
	SnapshotPath     string `toml:"snapshot_path"`
	SeedSnapshotPath string `toml:"seed_snapshot_path"`
	AuditLogPath     string `toml:"audit_log_path"`
}

// PeerConfig holds all configuration for the peer process.
type PeerConfig struct {
	Tracker  PeerTrackerConfig  `toml:"tracker"`
	Service  PeerServiceConfig  `toml:"service"`
	Storage  PeerStorageConfig  `toml:"storage"`
	Metrics  MetricsConfig      `toml:"metrics"`
	Logging  LoggingConfig      `toml:"logging"`
}

type PeerTrackerConfig struct {
	Addr string `toml:"addr"`
}

type PeerServiceConfig struct {
	ListenAddr      string `toml:"listen_addr"`
	UploadRateLimit int64  `toml:"upload_rate_limit_bytes_per_sec"`
}

type PeerStorageConfig struct {
	SharedDir      string `toml:"shared_dir"`
	DownloadsDir   string `toml:"downloads_dir"`
	LocalStorePath string `toml:"localstore_path"`
	AuditLogPath   string `toml:"audit_log_path"`
}

// MetricsConfig is shared by both binaries.
type MetricsConfig struct {
	Addr    string `toml:"addr"`
	Enabled bool   `toml:"enabled"`
}

// LoggingConfig is shared by both binaries.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultTrackerConfig returns the tracker's baseline configuration,
// matching spec.md §6's documented defaults.
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		Network: TrackerNetworkConfig{
			ListenAddr: "127.0.0.1:9000",
		},
		Storage: TrackerStorageConfig{
			SnapshotPath:     "tracker_snapshot.json",
			SeedSnapshotPath: "",
			AuditLogPath:     "tracker_audit.jsonl",
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9090", Enabled: false},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultPeerConfig returns the peer's baseline configuration.
func DefaultPeerConfig() *PeerConfig {
	return &PeerConfig{
		Tracker: PeerTrackerConfig{Addr: "127.0.0.1:9000"},
		Service: PeerServiceConfig{
			ListenAddr:      "127.0.0.1:0",
			UploadRateLimit: 0,
		},
		Storage: PeerStorageConfig{
			SharedDir:      "shared",
			DownloadsDir:   "downloads",
			LocalStorePath: "localstore.db",
			AuditLogPath:   "peer_audit.jsonl",
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9091", Enabled: false},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadTracker reads a tracker TOML config, merging with defaults, then
// applying environment variable overrides.
func LoadTracker(path string) (*TrackerConfig, error) {
	cfg := DefaultTrackerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyTrackerEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyTrackerEnv(cfg)
	return cfg, nil
}

func applyTrackerEnv(cfg *TrackerConfig) {
	if v := os.Getenv("FILEMESH_TRACKER_ADDR"); v != "" {
		cfg.Network.ListenAddr = v
	}
	if v := os.Getenv("FILEMESH_SNAPSHOT_PATH"); v != "" {
		cfg.Storage.SnapshotPath = v
	}
}

// LoadPeer reads a peer TOML config, merging with defaults, then applying
// environment variable overrides.
func LoadPeer(path string) (*PeerConfig, error) {
	cfg := DefaultPeerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyPeerEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyPeerEnv(cfg)
	return cfg, nil
}

func applyPeerEnv(cfg *PeerConfig) {
	if v := os.Getenv("FILEMESH_TRACKER_ADDR"); v != "" {
		cfg.Tracker.Addr = v
	}
	if v := os.Getenv("FILEMESH_SHARED_DIR"); v != "" {
		cfg.Storage.SharedDir = v
	}
}

// Save writes cfg to path in TOML form.
func Save(path string, cfg interface{}) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
