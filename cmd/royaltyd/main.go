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
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/machinesoul11/yg-backend-sub013/internal/httpserver"
	"github.com/machinesoul11/yg-backend-sub013/internal/memlock"
	"github.com/machinesoul11/yg-backend-sub013/internal/redislock"
	"github.com/machinesoul11/yg-backend-sub013/internal/scheduler"
	"github.com/machinesoul11/yg-backend-sub013/internal/store/gormstore"
	"github.com/machinesoul11/yg-backend-sub013/internal/store/pgstore"
	"github.com/machinesoul11/yg-backend-sub013/pkg/auditchain"
	"github.com/machinesoul11/yg-backend-sub013/pkg/royalty"
)

const (
	flagDatabaseURL        = "database-url"
	flagListenAddr         = "listen-addr"
	flagRedisURL           = "redis-url"
	flagLockBackend        = "lock-backend"
	flagAllowedOrigins     = "allowed-origins"
	flagPlatformFeeBps     = "platform-fee-bps"
	flagMinimumPayoutCents = "minimum-payout-cents"

	configKeyDatabaseURL        = "database_url"
	configKeyListenAddr         = "listen_addr"
	configKeyRedisURL           = "redis_url"
	configKeyLockBackend        = "lock_backend"
	configKeyAllowedOrigins     = "allowed_origins"
	configKeyPlatformFeeBps     = "platform_fee_bps"
	configKeyMinimumPayoutCents = "minimum_payout_cents"

	defaultDatabaseURL    = "sqlite:///tmp/royalty.db"
	defaultHTTPListenAddr = ":8080"
	defaultRedisURL       = "redis://localhost:6379/0"
	defaultPlatformFee    = int64(1000)

	lockBackendRedis  = "redis"
	lockBackendMemory = "memory"
)

type runtimeConfig struct {
	DatabaseURL        string
	ListenAddr         string
	RedisURL           string
	LockBackend        string
	AllowedOrigins     []string
	PlatformFeeBps     int64
	MinimumPayoutCents int64
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "royaltyd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "royaltyd",
		Short:         "Royalty calculation and settlement server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagRedisURL, defaultRedisURL, "Redis connection string for run locks")
	cmd.Flags().String(flagLockBackend, lockBackendRedis, "Run lock backend: redis or memory (single-process deployments only)")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins")
	cmd.Flags().Int64(flagPlatformFeeBps, defaultPlatformFee, "Platform fee in basis points")
	cmd.Flags().Int64(flagMinimumPayoutCents, 0, "Minimum net payout in cents; smaller payables are deferred")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:        "DATABASE_URL",
		configKeyListenAddr:         "HTTP_LISTEN_ADDR",
		configKeyRedisURL:           "REDIS_URL",
		configKeyLockBackend:        "LOCK_BACKEND",
		configKeyAllowedOrigins:     "ALLOWED_ORIGINS",
		configKeyPlatformFeeBps:     "PLATFORM_FEE_BPS",
		configKeyMinimumPayoutCents: "MINIMUM_PAYOUT_CENTS",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flags := map[string]string{
		configKeyDatabaseURL:        flagDatabaseURL,
		configKeyListenAddr:         flagListenAddr,
		configKeyRedisURL:           flagRedisURL,
		configKeyLockBackend:        flagLockBackend,
		configKeyAllowedOrigins:     flagAllowedOrigins,
		configKeyPlatformFeeBps:     flagPlatformFeeBps,
		configKeyMinimumPayoutCents: flagMinimumPayoutCents,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.RedisURL = viper.GetString(configKeyRedisURL)
	cfg.LockBackend = viper.GetString(configKeyLockBackend)
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyAllowedOrigins)
	cfg.PlatformFeeBps = viper.GetInt64(configKeyPlatformFeeBps)
	cfg.MinimumPayoutCents = viper.GetInt64(configKeyMinimumPayoutCents)

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen addr is required")
	}
	switch cfg.LockBackend {
	case lockBackendRedis:
		if cfg.RedisURL == "" {
			return fmt.Errorf("redis url is required for the redis lock backend")
		}
	case lockBackendMemory:
	default:
		return fmt.Errorf("unsupported lock backend %q", cfg.LockBackend)
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	store := gormstore.New(gormDB)
	if driver == "sqlite" {
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	auditStore, auditCleanup, err := buildAuditStore(ctx, driver, cfg.DatabaseURL, store)
	if err != nil {
		return err
	}
	defer auditCleanup()

	locker, lockerCleanup, err := buildLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer lockerCleanup()

	now := func() time.Time { return time.Now().UTC() }
	appender, err := auditchain.NewAppender(auditStore, now)
	if err != nil {
		return fmt.Errorf("audit appender init: %w", err)
	}
	verifier, err := auditchain.NewVerifier(auditStore, now)
	if err != nil {
		return fmt.Errorf("audit verifier init: %w", err)
	}

	feeBps, err := royalty.NewBasisPoints(cfg.PlatformFeeBps)
	if err != nil {
		return fmt.Errorf("platform fee: %w", err)
	}
	minimumPayout, err := royalty.NewNonNegativeAmountCents(cfg.MinimumPayoutCents)
	if err != nil {
		return fmt.Errorf("minimum payout: %w", err)
	}

	service, err := royalty.NewService(store, store, locker, appender, now,
		royalty.WithPlatformFeeBps(feeBps),
		royalty.WithMinimumPayoutCents(minimumPayout),
		royalty.WithOperationLogger(&zapOperationLogger{logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("royalty service init: %w", err)
	}

	jobs, err := scheduler.NewManager(scheduler.Config{}, store, verifier, logger)
	if err != nil {
		return fmt.Errorf("scheduler init: %w", err)
	}
	if err := jobs.Start(); err != nil {
		return fmt.Errorf("scheduler start: %w", err)
	}
	defer jobs.Stop()

	server, err := httpserver.New(httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, service, verifier, logger)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}
	return server.Run(ctx)
}

// buildAuditStore keeps the audit chain on raw pgx for PostgreSQL
// deployments; sqlite deployments reuse the gorm-backed store.
func buildAuditStore(ctx context.Context, driver string, dsn string, fallback auditchain.Store) (auditchain.Store, func(), error) {
	if driver != "postgres" {
		return fallback, func() {}, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgx pool init: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgx pool ping: %w", err)
	}
	return pgstore.New(pool), pool.Close, nil
}

func buildLocker(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (royalty.Locker, func(), error) {
	if cfg.LockBackend == lockBackendMemory {
		logger.Warn("using in-process run locks; mutual exclusion does not span processes")
		return memlock.New(), func() {}, nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOptions)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	locker, err := redislock.New(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis locker init: %w", err)
	}
	return locker, func() { _ = client.Close() }, nil
}

type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(ctx context.Context, entry royalty.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("run_id", entry.RunID.String()),
		zap.String("statement_id", entry.StatementID.String()),
		zap.String("creator_id", entry.CreatorID.String()),
		zap.String("actor", entry.Actor.String()),
		zap.Int64("amount_cents", entry.AmountCents.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("royalty operation failed", fields...)
		return
	}
	operationLogger.logger.Info("royalty operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
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
			path = "royalty.db"
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
