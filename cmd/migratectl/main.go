// Command migratectl inspects and exercises the schema versioning and data
// migration engine.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/datamigrate"
	"github.com/GoCodeAlone/datamigrate/checkpoint"
	"github.com/GoCodeAlone/datamigrate/config"
	"github.com/GoCodeAlone/datamigrate/metrics"
	"github.com/GoCodeAlone/datamigrate/migration"
	"github.com/GoCodeAlone/datamigrate/tracing"

	_ "modernc.org/sqlite"
)

var version = "dev"

// app holds the settings and the manager shared by every subcommand.
type app struct {
	manifestPath string
	logLevel     string
	redisAddr    string
	historyDB    string
	otlpEndpoint string
	workers      int

	manager *datamigrate.Manager
	init    datamigrate.InitResult
	closers []func() error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "migratectl",
		Short:        "Schema version and data migration tooling",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			a.applyEnv(cmd)
			return a.setup(cmd.Context(), cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.manifestPath, "manifest", "", "Path to a YAML manifest (default: embedded manifest; or set MIGRATECTL_MANIFEST)")
	flags.StringVar(&a.logLevel, "log-level", "warn", "Log level: debug, info, warn, error (or set MIGRATECTL_LOG_LEVEL)")
	flags.StringVar(&a.redisAddr, "redis-addr", "", "Redis address for checkpoints (or set MIGRATECTL_REDIS_ADDR)")
	flags.StringVar(&a.historyDB, "history-db", "", "SQLite file recording batch runs (or set MIGRATECTL_HISTORY_DB)")
	flags.StringVar(&a.otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP endpoint for traces (or set MIGRATECTL_OTLP_ENDPOINT)")
	flags.IntVar(&a.workers, "workers", 1, "Concurrent workers for batch migrations")

	root.AddCommand(
		newVersionsCmd(a),
		newStatusCmd(a),
		newHealthCmd(a),
		newResetBaselineCmd(a),
		newTestMigrationCmd(a),
		newBatchCmd(a),
		newCheckpointCmd(a),
		newServeCmd(a),
	)
	return root
}

// applyEnv fills flags the user did not set from MIGRATECTL_* variables.
func (a *app) applyEnv(cmd *cobra.Command) {
	for flag, target := range map[string]*string{
		"manifest":      &a.manifestPath,
		"log-level":     &a.logLevel,
		"redis-addr":    &a.redisAddr,
		"history-db":    &a.historyDB,
		"otlp-endpoint": &a.otlpEndpoint,
	} {
		if cmd.Flags().Changed(flag) {
			continue
		}
		key := "MIGRATECTL_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
}

func (a *app) setup(ctx context.Context, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	level, err := parseLevel(a.logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	opts := []datamigrate.Option{
		datamigrate.WithLogger(logger),
		datamigrate.WithMetrics(metrics.NewCollector(metrics.DefaultConfig())),
		datamigrate.WithWorkers(a.workers),
	}

	if a.redisAddr != "" {
		store, err := checkpoint.NewRedisStore(ctx, checkpoint.RedisConfig{Address: a.redisAddr, Prefix: "migratectl:"})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		opts = append(opts, datamigrate.WithCheckpointStore(store))
	}

	if a.historyDB != "" {
		db, err := sql.Open("sqlite", a.historyDB)
		if err != nil {
			return fmt.Errorf("open history database %s: %w", a.historyDB, err)
		}
		a.closers = append(a.closers, db.Close)
		history, err := migration.NewSQLiteHistory(db)
		if err != nil {
			return fmt.Errorf("init history store: %w", err)
		}
		opts = append(opts, datamigrate.WithHistory(history))
	}

	if a.otlpEndpoint != "" {
		cfg := tracing.DefaultConfig()
		cfg.Endpoint = a.otlpEndpoint
		provider, err := tracing.NewProvider(ctx, cfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return provider.Shutdown(shutdownCtx)
		})
	}

	a.manager = datamigrate.NewManager(opts...)

	if a.manifestPath == "" {
		a.init = datamigrate.InitializeDefault(ctx, a.manager)
		return nil
	}
	manifest, err := config.LoadFromFile(a.manifestPath)
	if err != nil {
		return err
	}
	a.init = datamigrate.Initialize(ctx, a.manager, manifest)
	return nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q: %w", s, err)
	}
	return level, nil
}
