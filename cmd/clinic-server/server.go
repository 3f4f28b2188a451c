package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/odontoclinic/clinic/internal/config"
	"github.com/odontoclinic/clinic/internal/domain/catalog"
	"github.com/odontoclinic/clinic/internal/domain/patient"
	"github.com/odontoclinic/clinic/internal/domain/procedure"
	"github.com/odontoclinic/clinic/internal/platform/auth"
	"github.com/odontoclinic/clinic/internal/platform/db"
	"github.com/odontoclinic/clinic/internal/platform/metrics"
	"github.com/odontoclinic/clinic/internal/platform/middleware"
)

// stores holds the repositories behind the services. pool is nil for the
// memory driver.
type stores struct {
	catalog    catalog.Repository
	patients   patient.Repository
	procedures procedure.Repository
	pool       *pgxpool.Pool
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		return &stores{
			catalog:    catalog.NewRepoMem(),
			patients:   patient.NewRepoMem(),
			procedures: procedure.NewRepoMem(),
		}, nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	return &stores{
		catalog:    catalog.NewRepoPG(pool),
		patients:   patient.NewRepoPG(pool),
		procedures: procedure.NewRepoPG(pool),
		pool:       pool,
	}, nil
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// newRouter wires middleware, services and handlers. m may be nil.
func newRouter(cfg *config.Config, logger zerolog.Logger, st *stores, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(m.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Clinic-ID", "X-User-ID", "X-User-Name", "X-User-Role"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == config.AuthDevelopment {
		logger.Warn().Msg("development auth: identities are taken from X-User-* headers")
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
			"store":  cfg.StoreDriver,
		})
	})
	if st.pool != nil {
		e.GET("/health/db", db.HealthHandler(st.pool))
	}
	if cfg.MetricsEnabled && m != nil {
		e.GET("/metrics", m.Handler())
	}

	apiV1 := e.Group("/api/v1")
	if st.pool != nil {
		apiV1.Use(db.ClinicMiddleware(st.pool, cfg.DefaultClinic))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	catalogSvc := catalog.NewService(st.catalog)
	patientSvc := patient.NewService(st.patients, cfg.PediatricAgeLimit)
	procedureSvc := procedure.NewService(st.procedures, catalogSvc, patientSvc, logger, m)

	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	procedure.NewHandler(procedureSvc).RegisterRoutes(apiV1)

	return e
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer st.Close()
	logger.Info().Str("store", cfg.StoreDriver).Msg("store ready")

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}
	e := newRouter(cfg, logger, st, m)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	case <-quit:
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
