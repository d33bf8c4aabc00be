package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/config"
	"github.com/ehr/records/internal/domain/account"
	"github.com/ehr/records/internal/domain/patient"
	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/internal/platform/middleware"
	"github.com/ehr/records/internal/platform/router"
)

const (
	apiPrefix       = "/api/v1"
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

// deps are the long-lived resources the HTTP server is built from.
type deps struct {
	pool        *pgxpool.Pool
	issuer      *auth.TokenIssuer
	revocations auth.RevocationStore
	checks      []db.Check
}

func newLogger(w io.Writer, dev bool) zerolog.Logger {
	if dev {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).With().Timestamp().Str("service", "records").Logger()
}

// newRevocationStore shares revocations through Redis when redisURL is set
// and keeps them in process memory otherwise. The returned checks feed the
// database health endpoint.
func newRevocationStore(ctx context.Context, redisURL string, logger zerolog.Logger) (auth.RevocationStore, []db.Check, func(), error) {
	if redisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, token revocations are kept in process memory")
		return auth.NewMemoryRevocationStore(), nil, func() {}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	store := auth.NewRedisRevocationStore(client)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Str("addr", opts.Addr).Msg("connected to redis")

	closeFn := func() { _ = client.Close() }
	return store, []db.Check{{Name: "redis", Ping: store.Ping}}, closeFn, nil
}

// apiRoutes builds every handler from the pool and returns the route table
// mounted under /api/v1. A nil pool yields handlers fit only for listing.
func apiRoutes(d deps, cfg *config.Config, logger zerolog.Logger) []router.Route {
	patientSvc := patient.NewService(
		patient.NewPatientRepo(d.pool),
		patient.NewCustomFieldRepo(d.pool),
		db.NewTxManager(d.pool),
		logger,
	)
	accountSvc := account.NewService(account.NewUserRepo(d.pool), d.issuer, d.revocations, cfg.BcryptCost, logger)

	var routes []router.Route
	routes = append(routes, account.NewHandler(accountSvc).Routes()...)
	routes = append(routes, patient.NewHandler(patientSvc).Routes()...)
	return routes
}

func newServer(cfg *config.Config, d deps, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	metrics := middleware.NewMetrics()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID, db.TenantHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	rateLimitCfg.Skipper = auth.InfraSkipper

	// The limiter keys on the token's tenant and must reject before a
	// tenant connection is acquired.
	e.Use(auth.Authenticate(d.issuer, d.revocations, logger))
	e.Use(middleware.RateLimit(rateLimitCfg))
	e.Use(db.TenantMiddleware(d.pool, cfg.DefaultTenant, auth.InfraSkipper))
	e.Use(middleware.Audit(logger, metrics))

	if rs, ok := d.revocations.(*auth.RedisRevocationStore); ok {
		metrics.Registry().MustRegister(revocationBreakerGauge(rs))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(d.pool, d.checks...))
	e.GET("/metrics", metrics.Handler())

	router.Register(e.Group(apiPrefix), apiRoutes(d, cfg, logger))

	return e
}

// revocationBreakerGauge reports 1 while the Redis revocation breaker is open.
func revocationBreakerGauge(rs *auth.RedisRevocationStore) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "records",
		Name:      "revocation_breaker_open",
		Help:      "Whether the Redis token revocation circuit breaker is open.",
	}, func() float64 {
		if rs.BreakerState() == "open" {
			return 1
		}
		return 0
	})
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.UsingDevSigningKey() {
		logger.Warn().Msg("JWT_SIGNING_KEY not set, signing tokens with the development key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	revocations, checks, closeRedis, err := newRevocationStore(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set up token revocation")
		return err
	}
	defer closeRedis()

	d := deps{
		pool:        pool,
		issuer:      auth.NewTokenIssuer([]byte(cfg.JWTSigningKey), cfg.JWTAccessTTL, cfg.JWTRefreshTTL),
		revocations: revocations,
		checks:      checks,
	}
	e := newServer(cfg, d, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
			return err
		}
		return nil
	case <-ctx.Done():
	}

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

func printRoutes(w io.Writer) error {
	cfg := &config.Config{BcryptCost: 12}
	d := deps{issuer: auth.NewTokenIssuer(nil, time.Minute, time.Minute), revocations: auth.NewMemoryRevocationStore()}
	return router.Print(w, apiPrefix, apiRoutes(d, cfg, zerolog.Nop()))
}
