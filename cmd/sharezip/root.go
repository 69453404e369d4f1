package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/BadgerOps/sharezip/internal/config"
	"github.com/BadgerOps/sharezip/internal/download"
	"github.com/BadgerOps/sharezip/internal/engine"
	"github.com/BadgerOps/sharezip/internal/metrics"
	"github.com/BadgerOps/sharezip/internal/remote"
	"github.com/BadgerOps/sharezip/internal/remote/azurefile"
	"github.com/BadgerOps/sharezip/internal/remote/gcs"
	"github.com/BadgerOps/sharezip/internal/remote/local"
	s3share "github.com/BadgerOps/sharezip/internal/remote/s3"
	"github.com/BadgerOps/sharezip/internal/safety"
	"github.com/BadgerOps/sharezip/internal/store"
)

var (
	// Global flags
	cfgPath   string
	dataDir   string
	envFile   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    = slog.Default()
	logFile   io.Closer

	// Global components
	globalStore        *store.Store
	globalConnector    remote.Connector
	globalMaterializer *engine.Materializer
	globalMetrics      *metrics.Metrics
)

// initializeComponents opens the history store, connects the configured
// backend and builds the materializer.
func initializeComponents(ctx context.Context) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	dbPath := globalCfg.DBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.New(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st

	// A previous process may have died mid-request.
	if n, err := st.MarkInterrupted(time.Now()); err != nil {
		logger.Warn("failed to mark interrupted downloads", "error", err)
	} else if n > 0 {
		logger.Warn("marked interrupted downloads as failed", "count", n)
	}

	conn, err := newConnector(ctx, globalCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize %s backend: %w", globalCfg.Remote.Backend, err)
	}
	globalConnector = conn

	sizeLimit, err := globalCfg.SizeLimitBytes()
	if err != nil {
		return err
	}

	client := download.NewClient(logger, globalCfg.Download.RetryConnect, globalCfg.Download.RetryRead)
	pool := download.NewPool(client, globalCfg.Download.Concurrency, logger)

	globalMetrics = metrics.New()
	globalMaterializer = engine.NewMaterializer(conn, pool, st, engine.Options{
		SizeLimit:  sizeLimit,
		StagingDir: globalCfg.StagingDir(),
		EarlyAbort: globalCfg.Download.EarlyAbort,
	}, logger)
	globalMaterializer.SetMetrics(globalMetrics)

	logger.Info("components initialized successfully",
		"backend", conn.Name(),
		"size_limit", humanize.IBytes(globalMaterializer.SizeLimit()),
		"concurrency", globalMaterializer.Workers(),
	)
	return nil
}

// newConnector builds the remote share connector selected by remote.backend.
func newConnector(ctx context.Context, cfg *config.Config, logger *slog.Logger) (remote.Connector, error) {
	// No overall client timeout: a single large file may take a long time.
	httpClient := safety.NewHTTPClient(0)

	switch cfg.Remote.Backend {
	case config.BackendAzureFile:
		c, err := azurefile.New(cfg.Remote.AzureFile, httpClient, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendS3:
		c, err := s3share.New(ctx, cfg.Remote.S3, httpClient, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendGCS:
		c, err := gcs.New(ctx, cfg.Remote.GCS, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendLocal:
		c, err := local.NewOS(cfg.Remote.Local.Root, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Remote.Backend)
	}
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
		"show":    true,
	}
	return skipInitCmds[cmdName]
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

// closeComponents releases everything initializeComponents opened.
func closeComponents() {
	if globalConnector != nil {
		if err := globalConnector.Close(); err != nil {
			logger.Error("failed to close backend", "error", err)
		}
		globalConnector = nil
	}
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// loadConfig resolves the config file, applies .env and environment
// overrides and validates the result.
func loadConfig(cmdName string) (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	path := cfgPath
	if path == "" {
		var err error
		path, err = config.FindConfigFile()
		if err != nil && cmdName != "config" && cmdName != "show" {
			logger.Warn("config file not found, using defaults", "error", err)
		}
	}

	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}
	if dataDir != "" {
		cfg.Server.DataDir = dataDir
	}

	logger.Debug("config loaded", "path", path, "backend", cfg.Remote.Backend)
	return cfg, nil
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sharezip",
		Short: "Serve folders from a remote file share as ZIP archives",
		Long: `sharezip exposes a single HTTP endpoint that downloads a folder from a
remote file share (Azure Files, S3, GCS or a local directory), packs it into
a ZIP archive and returns it to the caller. Folders over the configured size
limit are rejected before anything is downloaded.`,
		Example: `  sharezip serve --listen 0.0.0.0:8080
  sharezip fetch teamA/reports --out reports.zip
  sharezip history --limit 20
  sharezip config show`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging(nil)

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			cfg, err := loadConfig(cmd.Name())
			if err != nil {
				return err
			}
			globalCfg = cfg

			if shouldSkipComponentInit(cmd.Name()) {
				return nil
			}

			if err := globalCfg.Validate(); err != nil {
				return err
			}
			if globalCfg.Logging.File != "" {
				setupLogging(&globalCfg.Logging)
			}

			if err := initializeComponents(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeComponents()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override data directory")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "only log errors")

	// Add subcommands
	cmd.AddCommand(
		newServeCmd(),
		newFetchCmd(),
		newHistoryCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags. With a logging
// config carrying a file, output is also written to a rotating log file.
func setupLogging(lc *config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet {
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	if lc != nil && lc.File != "" {
		lj := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   true,
		}
		if logFile != nil {
			_ = logFile.Close()
		}
		logFile = lj
		out = io.MultiWriter(os.Stderr, lj)
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}
