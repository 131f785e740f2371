package main

import (
	"context"
	"encoding/json"
	"errors"
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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/orcoord/orcoord/internal/config"
	"github.com/orcoord/orcoord/internal/domain/staff"
	"github.com/orcoord/orcoord/internal/domain/surgery"
	"github.com/orcoord/orcoord/internal/platform/activity"
	"github.com/orcoord/orcoord/internal/platform/auth"
	"github.com/orcoord/orcoord/internal/platform/db"
	"github.com/orcoord/orcoord/internal/platform/metrics"
	"github.com/orcoord/orcoord/internal/platform/middleware"
	"github.com/orcoord/orcoord/internal/platform/sandbox"
	"github.com/orcoord/orcoord/internal/platform/telemetry"
	"github.com/orcoord/orcoord/internal/platform/webhook"
	"github.com/orcoord/orcoord/internal/platform/websocket"
)

const ringSize = 1000

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the OR coordination API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _ := cmd.Flags().GetString("store")
			seed, _ := cmd.Flags().GetBool("seed")
			return runServer(store, seed)
		},
	}
	cmd.Flags().String("store", "", "Storage backend: postgres or memory (overrides STORE)")
	cmd.Flags().Bool("seed", false, "Fill the store with a generated demo day before serving")
	return cmd
}

func runServer(storeOverride string, seed bool) error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if storeOverride != "" {
		cfg.Store = storeOverride
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth is active: requests run as admin unless X-Dev-Roles says otherwise; do not use in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "orcoord-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SampleRatio:    cfg.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if seed {
		if _, err := a.seed(ctx, sandbox.DefaultSeedConfig()); err != nil {
			a.Shutdown(ctx)
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := a.Shutdown(shutdownCtx); serr != nil {
		logger.Error().Err(serr).Msg("server shutdown failed")
	}
	if terr := shutdownTracing(shutdownCtx); terr != nil {
		logger.Error().Err(terr).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return err
}

// app is the wired server: the echo instance plus everything that has to be
// stopped with it.
type app struct {
	echo      *echo.Echo
	hub       *websocket.Hub
	activity  *activity.Async
	surgeries *surgery.Service
	staff     *staff.Service
	loc       *time.Location
	closers   []func() error
	log       zerolog.Logger
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type backends struct {
	surgeries surgery.Store
	rooms     surgery.ORRoomRepository
	staff     staff.StaffRepository
	shifts    staff.ShiftRepository
	sink      activity.Sink
	lister    activity.Lister
	pinger    db.Pinger
	close     func()
}

func openBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backends, error) {
	if cfg.Store == config.StoreMemory {
		ring := activity.NewRingSink(ringSize)
		return &backends{
			surgeries: surgery.NewMemoryStore(nil),
			rooms:     surgery.NewORRoomRepoMemory(),
			staff:     staff.NewStaffRepoMemory(),
			shifts:    staff.NewShiftRepoMemory(),
			sink:      ring,
			lister:    ring,
			pinger:    pingFunc(func(context.Context) error { return nil }),
			close:     func() {},
		}, nil
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")

	pgSink := activity.NewPGSink(pool)
	return &backends{
		surgeries: surgery.NewStorePG(pool),
		rooms:     surgery.NewORRoomRepoPG(pool),
		staff:     staff.NewStaffRepoPG(pool),
		shifts:    staff.NewShiftRepoPG(pool),
		sink:      pgSink,
		lister:    pgSink,
		pinger:    pool,
		close:     pool.Close,
	}, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	be, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{log: logger, loc: loc}
	a.closers = append(a.closers, func() error { be.close(); return nil })

	m := metrics.New()

	// Activity log
	sinks := activity.Multi{activity.NewLogSink(logger), be.sink}
	if len(cfg.KafkaBrokers) > 0 {
		ks := activity.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaActivityTopic)
		sinks = append(sinks, ks)
		a.closers = append(a.closers, ks.Close)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaActivityTopic).Msg("publishing activity to kafka")
	}
	if cfg.ActivityWebhookURL != "" {
		ws, err := webhook.NewSink(cfg.ActivityWebhookURL, cfg.ActivityWebhookSecret)
		if err != nil {
			a.Shutdown(ctx)
			return nil, fmt.Errorf("activity webhook: %w", err)
		}
		sinks = append(sinks, ws)
	}
	a.activity = activity.NewAsync(sinks, cfg.ActivityBuffer, logger)
	a.activity.OnDrop(m.ActivityDropped)

	// Live board
	a.hub = websocket.NewHub(logger)
	a.hub.OnDrop(m.LiveEventDropped)

	// Domain services
	staffSvc := staff.NewService(be.staff, be.shifts, a.activity)
	staffSvc.SetLogger(logger)
	staffSvc.SetLocation(loc)

	surgerySvc := surgery.NewService(be.surgeries, be.rooms, a.activity, a.hub)
	surgerySvc.SetLogger(logger)
	surgerySvc.SetMetrics(m)
	surgerySvc.SetAnesthesiologistResolver(staffSvc)
	surgerySvc.SetShowPatientName(cfg.PublicShowPatientName)

	a.surgeries, a.staff = surgerySvc, staffSvc
	a.hub.SetSnapshot(surgery.TopicOngoing, ongoingSnapshot(surgerySvc))

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware("orcoord-server")))
	e.Use(middleware.Recovery(logger, m))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(m))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Skipper:  auth.AuthSkipper,
		}))
	}

	// Health checks and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(be.pinger))
	e.GET("/metrics", m.Handler())

	// API
	apiV1 := e.Group("/api/v1")
	surgeryHandler := surgery.NewHandler(surgerySvc)
	surgeryHandler.RegisterRoutes(apiV1, nil)
	staff.NewHandler(staffSvc).RegisterRoutes(apiV1, nil)
	activity.NewHandler(be.lister).RegisterRoutes(apiV1, nil)

	// Public patient-status lookup
	rl := middleware.DefaultRateLimitConfig()
	if cfg.PublicRateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.PublicRateLimitRPS
	}
	if cfg.PublicRateLimitBurst > 0 {
		rl.BurstSize = cfg.PublicRateLimitBurst
	}
	surgeryHandler.RegisterPublicRoutes(e.Group("/public", middleware.RateLimit(rl)))

	// Live board
	websocket.NewWebSocketHandler(a.hub, websocket.HandlerConfig{
		AllowedOrigins: cfg.CORSOrigins,
		DefaultTopics:  []string{surgery.TopicOngoing},
	}).RegisterRoutes(e.Group(""))

	a.echo = e
	return a, nil
}

// ongoingSnapshot sends new live board subscribers the full list of ongoing
// surgeries.
func ongoingSnapshot(svc *surgery.Service) websocket.SnapshotFunc {
	return func(ctx context.Context) (websocket.Event, error) {
		items, err := svc.ListOngoing(ctx)
		if err != nil {
			return websocket.Event{}, err
		}
		if items == nil {
			items = []*surgery.OngoingSurgery{}
		}
		data, err := json.Marshal(items)
		if err != nil {
			return websocket.Event{}, err
		}
		return websocket.Event{
			Type:         "ongoing.snapshot",
			Topic:        surgery.TopicOngoing,
			ResourceType: "OngoingSurgery",
			Timestamp:    time.Now(),
			Data:         data,
		}, nil
	}
}

func (a *app) seed(ctx context.Context, cfg sandbox.SeedConfig) (*sandbox.SeedResult, error) {
	seeder := sandbox.NewSeeder(a.surgeries, a.staff, cfg, a.loc)
	seeder.SetLogger(a.log)
	return seeder.Generate(ctx)
}

// Shutdown stops accepting requests, disconnects live board clients, drains
// the activity queue and closes the backends.
func (a *app) Shutdown(ctx context.Context) error {
	var errs []error
	if a.echo != nil {
		if err := a.echo.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.activity != nil {
		if err := a.activity.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain activity log: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
