package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lightweightcoder/telehealth-app/internal/config"
	"github.com/lightweightcoder/telehealth-app/internal/domain/clinic"
	"github.com/lightweightcoder/telehealth-app/internal/domain/consultation"
	"github.com/lightweightcoder/telehealth-app/internal/domain/medication"
	"github.com/lightweightcoder/telehealth-app/internal/domain/messaging"
	"github.com/lightweightcoder/telehealth-app/internal/domain/user"
	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
	"github.com/lightweightcoder/telehealth-app/internal/platform/blobstore"
	"github.com/lightweightcoder/telehealth-app/internal/platform/db"
	"github.com/lightweightcoder/telehealth-app/internal/platform/middleware"
	"github.com/lightweightcoder/telehealth-app/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "telehealth-server",
		Short: "Telehealth consultation booking server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(hashCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsDir(dir, cfg))
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsDir(dir, cfg))
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.Modified {
				status = "modified"
			}
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// hashCmd prints the loggedInHash cookie value for a user id. The secret
// defaults to the configured SESSION_SECRET.
func hashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash <userId>",
		Short: "Print the session hash for a user id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			if secret == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				secret = cfg.SessionSecret
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("user id must be an integer: %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), auth.NewHasher(secret).Hash(args[0]))
			return nil
		},
	}
	cmd.Flags().String("secret", "", "Session secret (defaults to SESSION_SECRET)")
	return cmd
}

func migrationsDir(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.MigrationsDir
}

func poolOptions(cfg *config.Config) db.PoolOptions {
	return db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns, MaxConnLifetime: time.Hour}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newPhotoStore picks Cloudinary when configured and the upload directory
// otherwise.
func newPhotoStore(cfg *config.Config) (blobstore.Store, error) {
	if cfg.CloudinaryURL != "" {
		return blobstore.NewCloudinaryStore(cfg.CloudinaryURL, cfg.MaxUploadBytes)
	}
	return blobstore.NewDiskStore(cfg.UploadDir, cfg.MaxUploadBytes)
}

// newEventPublisher returns the hub itself for a single instance, or a redis
// relay that fans events out to every instance when REDIS_URL is set. The
// relay's subscriber runs until ctx is cancelled.
func newEventPublisher(ctx context.Context, cfg *config.Config, hub *websocket.Hub, logger zerolog.Logger) (websocket.EventPublisher, func(), error) {
	if cfg.RedisURL == "" {
		return hub, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	relay := websocket.NewRedisRelay(client, hub, websocket.DefaultRedisChannel, logger)
	go func() {
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("redis relay stopped")
		}
	}()
	return relay, func() { client.Close() }, nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Logger
	logger := newLogger(cfg.Env)

	// Database
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	txRunner := db.NewTxRunner(pool)

	// Photo store
	photos, err := newPhotoStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise photo store")
	}

	// Live feed
	hub := websocket.NewHub(logger)
	publisher, closeRedis, err := newEventPublisher(ctx, cfg, hub, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeRedis()

	passwords, err := auth.NewPasswordVerifier(cfg.PasswordScheme)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid password scheme")
	}
	if cfg.PasswordScheme == config.PasswordSchemePlain {
		logger.Warn().Msg("PASSWORD_SCHEME=plain compares stored passwords as plain text; set PASSWORD_SCHEME=bcrypt for real deployments")
	}
	hasher := auth.NewHasher(cfg.SessionSecret)

	// Domain services
	clinicSvc := clinic.NewService(clinic.NewRepoPG(pool))
	medRepo := medication.NewRepoPG(pool)
	medSvc := medication.NewService(medRepo)
	userSvc := user.NewService(user.NewRepoPG(pool), clinicSvc, passwords, photos, txRunner, logger)

	consultRepo := consultation.NewRepoPG(pool)
	parties := consultation.NewParties(consultRepo)
	msgSvc := messaging.NewService(messaging.NewRepoPG(pool), parties, publisher, logger)
	consultSvc := consultation.NewService(consultation.Deps{
		Consultations: consultRepo,
		Ledger:        consultation.NewLedger(consultRepo, medRepo, txRunner, logger),
		Users:         userSvc,
		Clinics:       clinicSvc,
		Messages:      msgSvc,
		Medications:   medSvc,
		Tx:            txRunner,
		Logger:        logger,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Forms post _method=PUT|DELETE
	e.Pre(echomw.MethodOverrideWithConfig(echomw.MethodOverrideConfig{
		Getter: echomw.MethodFromForm("_method"),
	}))

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(securityConfig(cfg)))
	e.Use(middleware.Sanitize(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.RateLimit(rateLimitConfig(cfg)))
	e.Use(auth.RequireSession(auth.NewVerifier(hasher, userSvc, logger), auth.SessionSkipper))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, logger))

	secure := cfg.IsProduction()
	upload := middleware.BodyLimit(cfg.MaxUploadBytes + 1<<20)
	cache := middleware.ETag(middleware.DefaultCacheConfig())

	userHandler := user.NewHandler(userSvc, hasher, secure)
	userMW := user.Middleware{
		Login:  []echo.MiddlewareFunc{middleware.RateLimit(middleware.LoginRateLimitConfig(cfg.LoginRateLimitRPS))},
		Upload: []echo.MiddlewareFunc{upload},
	}
	userHandler.RegisterPublicRoutes(e, userMW)

	blobstore.NewPhotoHandler(photos).RegisterRoutes(e)

	api := e.Group("")
	userHandler.RegisterRoutes(api, userMW)
	clinic.NewHandler(clinicSvc).RegisterRoutes(api, cache)
	medication.NewHandler(medSvc).RegisterRoutes(api, cache)
	consultation.NewHandler(consultSvc).RegisterRoutes(api)
	messaging.NewHandler(msgSvc).RegisterRoutes(api)
	websocket.NewWebSocketHandler(hub, parties, cfg.CORSOrigins, logger).RegisterRoutes(api)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	return rl
}

func securityConfig(cfg *config.Config) middleware.SecurityConfig {
	sc := middleware.SecurityConfig{HSTS: cfg.IsProduction()}
	if cfg.CloudinaryURL != "" {
		sc.ImageSources = []string{"https://res.cloudinary.com"}
	}
	return sc
}
