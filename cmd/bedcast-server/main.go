package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bedcast/bedcast/internal/config"
	"github.com/bedcast/bedcast/internal/domain/assignment"
	"github.com/bedcast/bedcast/internal/domain/bed"
	"github.com/bedcast/bedcast/internal/domain/census"
	"github.com/bedcast/bedcast/internal/domain/forecast"
	"github.com/bedcast/bedcast/internal/domain/los"
	"github.com/bedcast/bedcast/internal/domain/unit"
	"github.com/bedcast/bedcast/internal/platform/adt"
	"github.com/bedcast/bedcast/internal/platform/cache"
	"github.com/bedcast/bedcast/internal/platform/db"
	"github.com/bedcast/bedcast/internal/platform/events"
	"github.com/bedcast/bedcast/internal/platform/middleware"
	"github.com/bedcast/bedcast/internal/platform/scheduler"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "bedcast-server",
		Short: "Predictive bed and resource allocation engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the allocation API server",
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
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Cache (optional)
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	readCache, err := cache.New(cfg.RedisURL, cacheTTL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if readCache != nil {
		defer readCache.Close()
		logger.Info().Msg("connected to redis")
	}

	// Event bus and subscribers
	bus := events.NewBus(logger)
	webhooks := events.NewWebhookManager()
	bus.Subscribe(webhooks)

	// AMQP broker (optional)
	broker, err := adt.Dial(cfg.AMQPURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to message broker")
	}
	if broker != nil {
		defer broker.Close()
		bus.Subscribe(broker)
		logger.Info().Msg("connected to message broker")
	}

	// Domain wiring
	unitSvc := unit.NewService(unit.NewRepo(pool))
	bedSvc := bed.NewService(bed.NewRepo(pool), unitSvc, bus)
	asgSvc := assignment.NewService(assignment.NewRepo(pool), bedSvc, bus, cfg.AssignClaimRetries, logger)
	censusSvc := census.NewService(census.NewRepo(pool), bedSvc, asgSvc, unitSvc, logger)
	losSvc := los.NewService(los.NewRepo(pool), asgSvc, unitSvc, logger)

	dow, err := cfg.DOWAdjustments()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid forecast adjustments")
	}
	fcSvc := forecast.NewService(forecast.NewRepo(pool), bedSvc, losSvc, censusSvc, unitSvc, forecast.Params{
		HorizonDays:    cfg.ForecastHorizonDays,
		BandBase:       cfg.ForecastBandBase,
		BandSlope:      cfg.ForecastBandSlope,
		MaxInputAge:    time.Duration(cfg.ForecastMaxInputAge) * time.Hour,
		DOWAdjustments: dow,
	}, logger)
	asgSvc.SetArrivalFulfiller(fcSvc)

	adtProc := adt.NewProcessor(asgSvc, bus, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Facility-ID"},
	}))
	e.Use(db.FacilityMiddleware(cfg.DefaultFacility))

	e.GET("/health", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	api := e.Group("/api/v1")
	unit.NewHandler(unitSvc).RegisterRoutes(api)
	bed.NewHandler(bedSvc).RegisterRoutes(api)
	assignment.NewHandler(asgSvc).RegisterRoutes(api)
	census.NewHandler(censusSvc, readCache).RegisterRoutes(api)
	los.NewHandler(losSvc).RegisterRoutes(api)
	forecast.NewHandler(fcSvc, readCache).RegisterRoutes(api)
	adt.NewHandler(adtProc).RegisterRoutes(api)
	webhooks.RegisterRoutes(api)

	// Background work
	sched := scheduler.New(censusSvc, fcSvc, cfg.Facilities(), cfg.SnapshotHour, logger)
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	if broker != nil {
		go func() {
			if err := broker.Consume(ctx, cfg.ADTQueue, adtProc, cfg.DefaultFacility); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("adt consumer stopped")
			}
		}()
	}

	// Serve
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
		return err
	}
	return nil
}
