package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/praxishealth/authledger/internal/auditlog"
	"github.com/praxishealth/authledger/internal/store/gormstore"
	"github.com/praxishealth/authledger/internal/store/pgstore"
	"github.com/praxishealth/authledger/pkg/ledger"
)

const (
	flagDatabaseURL      = "database-url"
	flagPostgresDriver   = "postgres-driver"
	flagStaleTimeout     = "stale-timeout"
	flagSweepInterval    = "sweep-interval"
	flagReclaimBatchSize = "reclaim-batch-size"

	configKeyDatabaseURL      = "database_url"
	configKeyPostgresDriver   = "postgres_driver"
	configKeyStaleTimeout     = "stale_timeout"
	configKeySweepInterval    = "sweep_interval"
	configKeyReclaimBatchSize = "reclaim_batch_size"

	defaultDatabaseURL = "sqlite:///tmp/authledger.db"

	postgresDriverPgx  = "pgx"
	postgresDriverGorm = "gorm"
)

type runtimeConfig struct {
	DatabaseURL      string
	PostgresDriver   string
	StaleTimeout     time.Duration
	SweepInterval    time.Duration
	ReclaimBatchSize int
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "authledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "authledgerd",
		Short:         "Authorization unit ledger stale-reservation sweeper",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSweeper(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.Flags().String(flagPostgresDriver, postgresDriverPgx, "store implementation for postgres urls (pgx or gorm)")
	cmd.Flags().Duration(flagStaleTimeout, 0, "age after which a held reservation is reclaimed (required)")
	cmd.Flags().Duration(flagSweepInterval, 0, "how often the sweeper runs (required)")
	cmd.Flags().Int(flagReclaimBatchSize, 0, "maximum reservations reclaimed per sweep (0 = default)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:      "DATABASE_URL",
		configKeyPostgresDriver:   "POSTGRES_DRIVER",
		configKeyStaleTimeout:     "STALE_TIMEOUT",
		configKeySweepInterval:    "SWEEP_INTERVAL",
		configKeyReclaimBatchSize: "RECLAIM_BATCH_SIZE",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	flagBindings := map[string]string{
		configKeyDatabaseURL:      flagDatabaseURL,
		configKeyPostgresDriver:   flagPostgresDriver,
		configKeyStaleTimeout:     flagStaleTimeout,
		configKeySweepInterval:    flagSweepInterval,
		configKeyReclaimBatchSize: flagReclaimBatchSize,
	}
	for key, flag := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.PostgresDriver = viper.GetString(configKeyPostgresDriver)
	if cfg.PostgresDriver == "" {
		cfg.PostgresDriver = postgresDriverPgx
	}
	cfg.StaleTimeout = viper.GetDuration(configKeyStaleTimeout)
	cfg.SweepInterval = viper.GetDuration(configKeySweepInterval)
	cfg.ReclaimBatchSize = viper.GetInt(configKeyReclaimBatchSize)

	if cfg.PostgresDriver != postgresDriverPgx && cfg.PostgresDriver != postgresDriverGorm {
		return fmt.Errorf("unsupported postgres driver %q", cfg.PostgresDriver)
	}
	if cfg.StaleTimeout <= 0 {
		return fmt.Errorf("stale timeout is required")
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval is required")
	}
	return nil
}

func runSweeper(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() { _ = cleanup() }()

	clock := func() time.Time { return time.Now().UTC() }
	service, err := ledger.NewService(store, clock, ledger.WithAuditRecorder(auditlog.New(logger)))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	reclaimer, err := ledger.NewReclaimer(service, ledger.ReclaimerConfig{
		StaleTimeout:  cfg.StaleTimeout,
		SweepInterval: cfg.SweepInterval,
		BatchSize:     cfg.ReclaimBatchSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("reclaimer init: %w", err)
	}

	logger.Info("stale reservation sweeper starting",
		zap.Duration("stale_timeout", cfg.StaleTimeout),
		zap.Duration("sweep_interval", cfg.SweepInterval),
	)
	reclaimer.Run(ctx)
	return nil
}

func openStore(ctx context.Context, cfg *runtimeConfig) (ledger.Store, func() error, error) {
	driver, sqlitePath, err := resolveDriver(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	if driver == "postgres" && cfg.PostgresDriver == postgresDriverPgx {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		cleanup := func() error {
			pool.Close()
			return nil
		}
		return pgstore.New(pool), cleanup, nil
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	if driver == "sqlite" {
		if err := gormstore.Migrate(db); err != nil {
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return gormstore.New(db.WithContext(ctx)), sqlDB.Close, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "authledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
