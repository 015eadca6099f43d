package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/AgentOS/apphost/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/app"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bundle"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/assets"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/permissions"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/storage"
)

const shutdownTimeout = 15 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	router  *gin.Engine
	apps    *app.Manager
	tracer  *tracing.Tracer
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// New wires every component from cfg.
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("initializing apphost",
		zap.String("port", cfg.Server.Port),
		zap.String("packages_dir", cfg.Runtime.PackagesDir),
		zap.Bool("headless", cfg.Surfaces.Headless),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)
	tracer := tracing.New("apphost", logger.Logger)

	resolver, err := assets.NewResolver(cfg.AssetResolver(), logger.Logger)
	if err != nil {
		return nil, err
	}
	var decide permissions.Decider
	if cfg.Auth.AllowAll {
		decide = permissions.AllowAll
	}
	gate := permissions.NewGate(decide, logger.Logger)
	loader := bundle.NewLoader(cfg.Runtime.PackagesDir, logger.Logger)

	apps := app.NewManager(cfg.App(), app.Deps{
		Bundles: loader,
		Storage: storage.NewManager(cfg.Storage.Dir, cfg.Storage.LimitBytes, logger.Logger),
		Gate:    gate,
		Assets:  resolver,
		Logger:  logger.Logger,
	}).WithMetrics(metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Logger(logger.Logger))
	router.Use(middleware.Recovery(logger.Logger))
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(apps, loader, gate, resolver, metrics, logger.Logger)
	handlers.Register(router)
	handlers.RegisterFiles(router, filesPrefix(cfg.Assets.BaseURL))
	ws.NewHandler(apps, ws.DefaultConfig(), metrics, tracer, logger.Logger).Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	logger.Info("server initialized")
	return &Server{
		cfg:     cfg,
		router:  router,
		apps:    apps,
		tracer:  tracer,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if limit := s.cfg.Server.MaxConnections; limit > 0 {
		l = netutil.LimitListener(l, limit)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting HTTP server",
			zap.String("addr", addr),
			zap.Int("max_connections", s.cfg.Server.MaxConnections),
		)
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), s.Close(shutdownCtx))
	})
	return g.Wait()
}

// Close kills every running application and flushes logs.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("shutting down")
	err := s.apps.Shutdown(ctx)
	s.tracer.Close()
	_ = s.logger.Sync()
	return err
}

// filesPrefix extracts the route prefix from the asset base URL.
func filesPrefix(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/files"
	}
	return u.Path
}
