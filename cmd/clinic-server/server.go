package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicops/statusboard/internal/config"
	"github.com/clinicops/statusboard/internal/domain/activity"
	"github.com/clinicops/statusboard/internal/domain/scheduling"
	"github.com/clinicops/statusboard/internal/domain/statusboard"
	"github.com/clinicops/statusboard/internal/platform/db"
	"github.com/clinicops/statusboard/internal/platform/memstore"
	"github.com/clinicops/statusboard/internal/platform/metrics"
	"github.com/clinicops/statusboard/internal/platform/middleware"
	"github.com/clinicops/statusboard/internal/platform/realtime"
)

const version = "0.1.0"

// stores are the repositories behind one STORE_DRIVER.
type stores struct {
	appointments scheduling.AppointmentRepository
	doctors      scheduling.DoctorRepository
	events       activity.Repository
	health       db.Pinger
	pool         *pgxpool.Pool
	close        func()
}

func openStores(ctx context.Context, cfg *config.Config, hub *realtime.Hub, logger zerolog.Logger) (*stores, error) {
	if cfg.UsesMemoryStore() {
		mem := memstore.New(hub)
		svc := scheduling.NewService(mem.Doctors(), mem.Appointments())
		res, err := svc.Seed(ctx, scheduling.DemoDoctors, scheduling.DemoAppointments)
		if err != nil {
			return nil, fmt.Errorf("seed memory store: %w", err)
		}
		logger.Info().Int("doctors", res.Doctors).Int("appointments", res.Appointments).Msg("memory store seeded")
		return &stores{
			appointments: mem.Appointments(),
			doctors:      mem.Doctors(),
			events:       mem.Events(),
			health:       mem,
			close:        func() {},
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")
	return &stores{
		appointments: scheduling.NewAppointmentRepoPG(pool),
		doctors:      scheduling.NewDoctorRepoPG(pool),
		events:       activity.NewRepoPG(pool),
		health:       pool,
		pool:         pool,
		close:        pool.Close,
	}, nil
}

// openOutbox parks failed event writes in Redis when REDIS_URL is set, so
// they survive a restart; otherwise in process memory.
func openOutbox(ctx context.Context, cfg *config.Config) (activity.Outbox, func(), error) {
	if cfg.RedisURL == "" {
		return activity.NewMemoryOutbox(), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return activity.NewRedisOutbox(rdb), func() { _ = rdb.Close() }, nil
}

type server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	echo       *echo.Echo
	hub        *realtime.Hub
	stores     *stores
	coord      *statusboard.Coordinator
	feed       *activity.Feed
	deliverer  *activity.Deliverer
	changeFeed *db.ChangeFeed
	closers    []func()
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewBoardMetrics(reg)

	hub := realtime.NewHub(logger)
	hub.OnClientDrop(m.ObserveDropped)

	st, err := openStores(ctx, cfg, hub, logger)
	if err != nil {
		return nil, err
	}
	outbox, closeOutbox, err := openOutbox(ctx, cfg)
	if err != nil {
		st.close()
		return nil, err
	}

	eventLog := activity.NewLog(st.events, outbox, logger, m).WithDefaults(cfg.EventActor, cfg.EventSource)
	feed := activity.NewFeed(eventLog, activity.NewAppointmentEnricher(st.appointments), cfg.FeedLimit, logger)
	coord := statusboard.NewCoordinator(st.appointments, st.doctors, eventLog, logger).
		WithLocation(loc).
		WithWriteTimeout(cfg.WriteTimeout).
		WithSource(cfg.EventSource).
		WithMetrics(m)
	directory := scheduling.NewService(st.doctors, st.appointments)

	s := &server{
		cfg:    cfg,
		logger: logger,
		hub:    hub,
		stores: st,
		coord:  coord,
		feed:   feed,
		deliverer: activity.NewDeliverer(outbox, st.events, logger, m).
			WithInterval(cfg.OutboxInterval).
			WithMaxAttempts(cfg.OutboxMaxAttempts),
		closers: []func(){closeOutbox, st.close},
	}
	if st.pool != nil {
		s.changeFeed = db.NewChangeFeed(st.pool, hub, logger, m)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.Secure())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.Actor(cfg.ActorJWTSecret))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"store":   cfg.StoreDriver,
		})
	})
	e.GET("/health/db", db.HealthHandler(st.health))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	realtime.NewHandler(hub).RegisterRoutes(e)

	api := e.Group("/api/v1")
	scheduling.NewHandler(directory).RegisterRoutes(api)
	activity.NewHandler(eventLog, feed, loc).RegisterRoutes(api)
	statusboard.NewHandler(coord, directory, feed, loc).RegisterRoutes(api)

	s.echo = e
	return s, nil
}

// Start runs the background workers and performs the initial loads. A
// failed load is logged; the view fills in on the next resync or request.
func (s *server) Start(ctx context.Context) {
	go s.deliverer.Start(ctx)
	if s.changeFeed != nil {
		go func() {
			if err := s.changeFeed.Run(ctx); err != nil {
				s.logger.Error().Err(err).Msg("change feed stopped")
			}
		}()
	}

	s.feed.Watch(ctx, s.hub)
	if err := s.feed.Load(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial activity load failed")
	}
	s.coord.Watch(ctx, s.hub)
	for _, w := range scheduling.Windows {
		if _, err := s.coord.LoadAppointments(ctx, w); err != nil {
			s.logger.Error().Err(err).Str("window", string(w)).Msg("initial appointment load failed")
		}
	}
}

func (s *server) Close() {
	for _, fn := range s.closers {
		fn()
	}
}
