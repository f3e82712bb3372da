package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tidbyt.dev/gtfskpi"
	"tidbyt.dev/gtfskpi/config"
	"tidbyt.dev/gtfskpi/downloader"
	"tidbyt.dev/gtfskpi/metrics"
	"tidbyt.dev/gtfskpi/report"
	"tidbyt.dev/gtfskpi/storage"
)

var rootCmd = &cobra.Command{
	Use:               "gtfskpi",
	Short:             "GTFS schedule KPIs",
	Long:              "Ingests GTFS schedules and derives headway and delay KPIs",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath  string
	backend     string
	sqliteDir   string
	postgresURL string
	feedID      string
	outDir      string
	metricsFile string
	gzipOutput  bool
	verbose     bool
)

var (
	cfg       *config.Config
	logger    *slog.Logger
	collector *metrics.Collector
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&backend, "storage", "", "", "Storage backend (memory, sqlite, postgres)")
	rootCmd.PersistentFlags().StringVarP(&sqliteDir, "sqlite-dir", "", "", "Directory holding SQLite databases")
	rootCmd.PersistentFlags().StringVarP(&postgresURL, "postgres-url", "", "", "Postgres connection string")
	rootCmd.PersistentFlags().StringVarP(&feedID, "feed", "f", "", "Feed ID, ID prefix or \"latest\" (the default)")
	rootCmd.PersistentFlags().StringVarP(&outDir, "out", "o", ".", "Output directory for CSV tables")
	rootCmd.PersistentFlags().StringVarP(&metricsFile, "metrics-file", "", "", "Write Prometheus textfile here after the run")
	rootCmd.PersistentFlags().BoolVarP(&gzipOutput, "gzip", "z", false, "Gzip CSV output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("storage") {
		cfg.Storage.Backend = backend
	}
	if flags.Changed("sqlite-dir") {
		cfg.Storage.SQLiteDir = sqliteDir
	}
	if flags.Changed("postgres-url") {
		cfg.Storage.PostgresURL = postgresURL
	}
	if flags.Changed("metrics-file") {
		cfg.Metrics.File = metricsFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	collector = metrics.NewCollector()

	return nil
}

func openStorage() (storage.Storage, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryStorage(), func() {}, nil
	case "postgres":
		s, err := storage.NewPSQLStorage(cfg.Storage.PostgresURL, false)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		s, err := storage.NewSQLiteStorage(storage.SQLiteConfig{
			OnDisk:    true,
			Directory: cfg.Storage.SQLiteDir,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}

func newManager() (*gtfskpi.Manager, func(), error) {
	s, closeStorage, err := openStorage()
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	manager := gtfskpi.NewManager(s)
	manager.Logger = logger
	manager.Metrics = collector
	if cfg.Download.Timeout > 0 {
		manager.StaticTimeout = cfg.Download.Timeout
	}
	if cfg.Download.MaxSize > 0 {
		manager.StaticMaxSize = cfg.Download.MaxSize
	}
	if cfg.Download.CacheDir != "" {
		fs, err := downloader.NewFilesystem(cfg.Download.CacheDir, logger)
		if err != nil {
			closeStorage()
			return nil, nil, err
		}
		manager.Downloader = fs
		manager.StaticCacheTTL = cfg.Download.CacheTTL
	}

	return manager, closeStorage, nil
}

// Opens storage and the feed selected by --feed.
func loadFeed() (*gtfskpi.Feed, func(), error) {
	manager, closeStorage, err := newManager()
	if err != nil {
		return nil, nil, err
	}

	feed, err := manager.Feed(feedID)
	if err != nil {
		closeStorage()
		return nil, nil, err
	}

	return feed, closeStorage, nil
}

func writeTable(name string, rows interface{}) error {
	path := filepath.Join(outDir, name)
	if gzipOutput {
		path += ".gz"
	}

	if err := report.WriteFile(path, rows); err != nil {
		return err
	}

	logger.Info("wrote table", "path", path)
	return nil
}

func writeMetrics() {
	if cfg.Metrics.File == "" {
		return
	}
	if err := collector.WriteTextfile(cfg.Metrics.File); err != nil {
		logger.Warn("writing metrics", "path", cfg.Metrics.File, "error", err)
	}
}
