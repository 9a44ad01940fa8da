package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/labtracker/internal/config"
	"github.com/ehr/labtracker/internal/domain/labcatalog"
	"github.com/ehr/labtracker/internal/domain/labrequest"
	"github.com/ehr/labtracker/internal/domain/walkin"
	"github.com/ehr/labtracker/internal/platform/auth"
	"github.com/ehr/labtracker/internal/platform/cache"
	"github.com/ehr/labtracker/internal/platform/db"
	"github.com/ehr/labtracker/internal/platform/metrics"
	"github.com/ehr/labtracker/internal/platform/middleware"
	"github.com/ehr/labtracker/internal/platform/sandbox"
	"github.com/ehr/labtracker/internal/platform/webhook"
	"github.com/ehr/labtracker/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "lab-server",
		Short: "Laboratory request tracking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the lab API server",
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, dir).WithSchema(schema).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).WithSchema(schema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo lab data into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			synthetic, _ := cmd.Flags().GetInt("synthetic")
			seed, _ := cmd.Flags().GetInt64("seed")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != config.StorePostgres {
				return fmt.Errorf("seed writes to postgres; set STORE_BACKEND=%s", config.StorePostgres)
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var res *sandbox.SeedResult
			err = db.WithTx(ctx, a.pool, func(ctx context.Context) error {
				var err error
				res, err = sandbox.NewSeeder(a.services(), sandbox.SeedConfig{
					SyntheticRequests: synthetic,
					Seed:              seed,
				}).Seed(ctx)
				return err
			})
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Printf("Seeded %d lab test(s), %d walk-in(s), %d lab request(s) in %s.\n",
				res.LabTests, res.ExternalPatients, res.LabRequests, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().Int("synthetic", 20, "Number of generated lab requests")
	cmd.Flags().Int64("seed", 0, "Random seed for generated data (0 = time based)")
	return cmd
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).Level(cfg.Level()).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(cfg.Level()).With().Timestamp().Logger()
	}
	return logger
}

// shutdownTimeout bounds the HTTP drain and the webhook queue flush.
const shutdownTimeout = 10 * time.Second

// app holds the wired services for one process.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *pgxpool.Pool
	cache   cache.Provider
	metrics *metrics.Metrics
	live    *websocket.Hub
	hooks   *webhook.Manager
	outbox  *webhook.Dispatcher

	catalog  *labcatalog.Service
	walkins  *walkin.Service
	requests *labrequest.Service
}

// buildApp connects the configured store and cache and wires the domain
// services on top of them.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		live:    websocket.NewHub(logger.With().Str("component", "live").Logger()),
	}
	hookLogger := logger.With().Str("component", "webhook").Logger()
	a.hooks = webhook.NewManager(webhook.NewMemoryStore(), hookLogger)
	a.outbox = webhook.NewDispatcher(a.hooks, hookLogger, cfg.WebhookQueueSize)

	var (
		catalogRepo labcatalog.Repository
		walkinRepo  walkin.Repository
		requestRepo labrequest.Repository
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.pool = pool
		logger.Info().Msg("connected to database")
		catalogRepo = labcatalog.NewRepoPG(pool)
		walkinRepo = walkin.NewRepoPG(pool)
		requestRepo = labrequest.NewRepoPG(pool)
	default:
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		catalogRepo = labcatalog.NewMemoryRepository()
		walkinRepo = walkin.NewMemoryRepository()
		requestRepo = labrequest.NewMemoryRepository()
	}

	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, "lab:")
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.cache = rc
		logger.Info().Msg("catalog cache backed by redis")
	} else {
		a.cache = cache.NewMemoryCache()
	}
	catalogRepo = labcatalog.NewCachedRepository(catalogRepo, a.cache, cfg.CatalogCacheTTL,
		logger.With().Str("component", "catalog_cache").Logger())

	a.catalog = labcatalog.NewService(catalogRepo)
	a.walkins = walkin.NewService(walkinRepo)
	a.requests = labrequest.NewService(requestRepo, a.catalog, a.walkins)
	a.requests.SetObserver(a.metrics)
	a.requests.SetPublisher(labrequest.PublisherFunc(func(ctx context.Context, c labrequest.Change) {
		a.live.Publish(ctx, c)
		a.outbox.Publish(ctx, c)
	}))
	a.requests.SetLogger(logger.With().Str("component", "labrequest").Logger())
	a.requests.SetDefaultBranch(cfg.DefaultBranch)
	a.requests.SetLocation(loc)

	// Outside the demo, internal requests carry the patient_name sent by the
	// caller and any patient id is accepted.
	if cfg.IsDev() || cfg.SeedDemoData {
		a.requests.SetPatientDirectory(sandbox.DemoDirectory())
	}
	return a, nil
}

func (a *app) services() sandbox.Services {
	return sandbox.Services{Catalog: a.catalog, Walkins: a.walkins, Requests: a.requests}
}

// start launches background workers; they stop when ctx ends or on Close.
func (a *app) start(ctx context.Context) {
	a.outbox.Start(ctx, a.cfg.WebhookWorkers)
}

func (a *app) Close() {
	if a.outbox != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.outbox.Close(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("webhook dispatcher did not drain")
		}
		cancel()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// newServer installs middleware and routes. The returned seed handler is
// nil unless demo seeding is enabled.
func newServer(a *app) (*echo.Echo, *sandbox.SeedHandler) {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(a.metrics.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"store":   cfg.StoreBackend,
		})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1")
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		logger.Warn().Msg("development auth enabled; unauthenticated requests act as admin")
		apiV1.Use(auth.DevAuthMiddleware(cfg.DefaultBranch))
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.JWTSigningKey),
		}))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	apiV1.Use(middleware.Audit(logger))

	labcatalog.NewHandler(a.catalog).RegisterRoutes(apiV1)
	walkin.NewHandler(a.walkins).RegisterRoutes(apiV1)
	labrequest.NewHandler(a.requests).RegisterRoutes(apiV1)
	websocket.NewHandler(a.live, cfg.CORSOrigins).RegisterRoutes(apiV1)
	webhook.NewHandler(a.hooks).RegisterRoutes(apiV1)

	var seedHandler *sandbox.SeedHandler
	if cfg.IsDev() || cfg.SeedDemoData {
		seedHandler = sandbox.NewSeedHandler(a.services(), logger)
		seedHandler.RegisterRoutes(apiV1)
	}
	return e, seedHandler
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()
	a.start(ctx)

	e, seedHandler := newServer(a)

	if cfg.SeedDemoData {
		res, err := sandbox.NewSeeder(a.services(), sandbox.DefaultSeedConfig()).Seed(ctx)
		if err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		if seedHandler != nil {
			seedHandler.MarkSeeded()
		}
		logger.Info().
			Int("lab_tests", res.LabTests).
			Int("lab_requests", res.LabRequests).
			Msg("demo data loaded")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
