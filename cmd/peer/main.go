// peer is the filemesh client: it registers/logs in against a tracker,
// announces locally shared files, discovers and downloads files from
// other peers, and serves chunk requests for files it hosts. The
// interactive menu a human would drive is an external collaborator (see
// spec.md §1); this binary exposes the same actions as thin subcommands.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/filemesh/filemesh/internal/audit"
	"github.com/filemesh/filemesh/internal/chatproto"
	"github.com/filemesh/filemesh/internal/chunkstore"
	"github.com/filemesh/filemesh/internal/config"
	"github.com/filemesh/filemesh/internal/downloader"
	"github.com/filemesh/filemesh/internal/localstore"
	"github.com/filemesh/filemesh/internal/metrics"
	"github.com/filemesh/filemesh/internal/peersvc"
	"github.com/filemesh/filemesh/internal/ratelimit"
	"github.com/filemesh/filemesh/internal/reputation"
	"github.com/filemesh/filemesh/internal/trackerclient"
	"github.com/filemesh/filemesh/internal/wire"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "peer",
		Short: "filemesh peer: register, announce, discover and download files",
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (TOML)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		registerCmd(), loginCmd(), logoutCmd(), announceCmd(),
		listCmd(), downloadCmd(), rankingCmd(), daemonCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
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
	return cfg.Build()
}

func loadConfig() (*config.PeerConfig, error) {
	if cfgFile != "" {
		return config.LoadPeer(cfgFile)
	}
	return config.LoadPeer("peer.toml")
}

func registerCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new account with the tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := trackerclient.New(cfg.Tracker.Addr)
			resp, err := client.Register(context.Background(), username, password)
			if err != nil {
				return err
			}
			return printResult(resp)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")
	return cmd
}

func loginCmd() *cobra.Command {
	var username, password string
	var port int
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and register this peer's listening port as active",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := trackerclient.New(cfg.Tracker.Addr)
			resp, err := client.Login(context.Background(), username, password, port)
			if err != nil {
				return err
			}
			return printResult(resp)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().IntVar(&port, "port", 0, "this peer's chunk-serving listen port")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")
	cmd.MarkFlagRequired("port")
	return cmd
}

func logoutCmd() *cobra.Command {
	var username string
	var port int
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End this peer's active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := trackerclient.New(cfg.Tracker.Addr)
			resp, err := client.Logout(context.Background(), username, port)
			if err != nil {
				return err
			}
			return printResult(resp)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().IntVar(&port, "port", 0, "this peer's chunk-serving listen port")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("port")
	return cmd
}

// announceCmd splits every file under shared/ (skipping ones already
// cached in localstore under an unchanged size/mtime), then announces the
// resulting metadata to the tracker.
func announceCmd() *cobra.Command {
	var username string
	var port int
	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Split and advertise every file under the shared directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := setupLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := localstore.Open(cfg.Storage.LocalStorePath)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := os.ReadDir(cfg.Storage.SharedDir)
			if err != nil {
				return fmt.Errorf("read shared dir: %w", err)
			}

			var files []wire.AnnouncedFile
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				info, err := entry.Info()
				if err != nil {
					return err
				}
				path := filepath.Join(cfg.Storage.SharedDir, entry.Name())

				rec, err := store.Get(entry.Name(), info.Size(), info.ModTime().Unix())
				if err != nil {
					fileHash, chunkHashes, splitErr := chunkstore.Split(path)
					if splitErr != nil {
						return fmt.Errorf("split %s: %w", entry.Name(), splitErr)
					}
					rec = &localstore.SplitRecord{
						Filename: entry.Name(), Size: info.Size(), ModTimeUnix: info.ModTime().Unix(),
						FileHash: fileHash, ChunkHashes: chunkHashes,
					}
					if putErr := store.Put(*rec); putErr != nil {
						log.Warn("failed to cache split metadata", zap.Error(putErr))
					}
				}

				files = append(files, wire.AnnouncedFile{
					Filename: rec.Filename, Size: rec.Size, FileHash: rec.FileHash, ChunkHashes: rec.ChunkHashes,
				})
				log.Info("prepared file for announce", zap.String("file", rec.Filename), zap.String("size", humanize.Bytes(uint64(rec.Size))))
			}

			client := trackerclient.New(cfg.Tracker.Addr)
			resp, err := client.Announce(context.Background(), username, port, files)
			if err != nil {
				return err
			}
			return printResult(resp)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().IntVar(&port, "port", 0, "this peer's chunk-serving listen port")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("port")
	return cmd
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List files currently advertised on the tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := trackerclient.New(cfg.Tracker.Addr)
			resp, err := client.ListFiles(context.Background())
			if err != nil {
				return err
			}
			for _, f := range resp.Files {
				fmt.Printf("%-30s %10s  %d peers\n", f.Filename, humanize.Bytes(uint64(f.Size)), len(f.Peers))
			}
			return nil
		},
	}
	return cmd
}

func rankingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Show the reputation leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := trackerclient.New(cfg.Tracker.Addr)
			resp, err := client.GetScores(context.Background())
			if err != nil {
				return err
			}
			for _, s := range resp.Scores {
				fmt.Printf("%-20s %6.2f  %s\n", s.Username, s.Score, s.Tier)
			}
			return nil
		},
	}
	return cmd
}

// downloadCmd looks up filename via list_files, resolves the caller's own
// tier, and runs the parallel chunk engine.
func downloadCmd() *cobra.Command {
	var username, filename string
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download a file advertised on the tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := trackerclient.New(cfg.Tracker.Addr)
			ctx := context.Background()

			listResp, err := client.ListFiles(ctx)
			if err != nil {
				return err
			}
			var target *wire.FileListing
			for i := range listResp.Files {
				if listResp.Files[i].Filename == filename {
					target = &listResp.Files[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("file %q is not advertised on the tracker", filename)
			}

			scoreResp, err := client.GetPeerScore(ctx, username)
			if err != nil {
				return err
			}
			tier := reputation.Tier(scoreResp.Tier)
			if tier == "" {
				tier = reputation.TierBronze
			}

			peers := make([]string, 0, len(target.Peers))
			for _, p := range target.Peers {
				peers = append(peers, p.Peer)
			}

			var auditLog *audit.Writer
			if cfg.Storage.AuditLogPath != "" {
				if auditLog, err = audit.NewWriter(cfg.Storage.AuditLogPath); err == nil {
					defer auditLog.Close()
				}
			}

			// jobID tags this invocation's success line and error message;
			// it is not written to the audit log and has no meaning to the
			// tracker or to peers.
			jobID := uuid.New().String()
			start := time.Now()

			// Always built so DownloadsActive/ChunkAttempts/DownloadDuration
			// are tracked even when the /metrics HTTP endpoint is disabled.
			peerMetrics := metrics.NewPeer()
			if cfg.Metrics.Enabled {
				if log, logErr := setupLogger(); logErr == nil {
					go serveMetrics(log, cfg.Metrics.Addr, peerMetrics.Handler())
				}
			}

			engine := downloader.New(cfg.Storage.DownloadsDir, cfg.Storage.DownloadsDir, peerMetrics, auditLog)
			result, err := engine.Download(ctx, downloader.File{
				Filename:    target.Filename,
				Size:        target.Size,
				FileHash:    target.FileHash,
				ChunkHashes: target.ChunkHashes,
				Peers:       peers,
			}, username, tier)
			if err != nil {
				if auditLog != nil {
					auditLog.Log(audit.NewDownloadFailedEvent(target.Filename, err.Error()))
				}
				return fmt.Errorf("download failed (job %s): %w", jobID, err)
			}
			if auditLog != nil {
				auditLog.Log(audit.NewDownloadCompleteEvent(target.Filename, target.FileHash, target.Size, time.Since(start).Milliseconds(), result.Workers))
			}
			fmt.Printf("downloaded %s to %s using %d workers (job %s)\n", target.Filename, result.OutputPath, result.Workers, jobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account username (used for get_peer_score and request_chunk identification)")
	cmd.Flags().StringVar(&filename, "file", "", "filename to download")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("file")
	return cmd
}

// daemonCmd runs the peer's chunk-serving TCP endpoint until interrupted.
func daemonCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run this peer's chunk-serving endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := setupLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			listener, err := net.Listen("tcp", cfg.Service.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Service.ListenAddr, err)
			}
			log.Info("peer service endpoint listening", zap.String("addr", listener.Addr().String()))

			var limiter *ratelimit.Limiter
			if cfg.Service.UploadRateLimit > 0 {
				limiter = ratelimit.New(cfg.Service.UploadRateLimit)
			}

			// Always built so ChunksServed/BytesUploaded/ChunkServeSeconds
			// are tracked even when the /metrics HTTP endpoint is disabled.
			peerMetrics := metrics.NewPeer()
			if cfg.Metrics.Enabled {
				go serveMetrics(log, cfg.Metrics.Addr, peerMetrics.Handler())
			}

			srv := peersvc.New(listener, log, peersvc.Config{
				SharedDir: cfg.Storage.SharedDir,
				SelfUser:  username,
				Limiter:   limiter,
				Metrics:   peerMetrics,
				Tracker:   trackerclient.New(cfg.Tracker.Addr),
				Chat:      chatproto.NoopHandler{Log: log},
			})

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
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "this peer's own account username, used for self-reporting uploads")
	cmd.MarkFlagRequired("username")
	return cmd
}

func serveMetrics(log *zap.Logger, addr string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	log.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}

func printResult(resp wire.Response) error {
	if !resp.Status {
		msg := resp.Message
		if msg == "" {
			msg = resp.Error
		}
		return fmt.Errorf("%s", msg)
	}
	fmt.Println("ok")
	return nil
}
