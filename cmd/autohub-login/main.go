// Command autohub-login serves the AutoHub AI sign-in screen.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/autohub/pkg/config"
	"github.com/platinummonkey/autohub/pkg/identity"
	"github.com/platinummonkey/autohub/pkg/kvstore"
	"github.com/platinummonkey/autohub/pkg/middleware"
	"github.com/platinummonkey/autohub/pkg/observability"
	"github.com/platinummonkey/autohub/pkg/popup"
	"github.com/platinummonkey/autohub/pkg/web"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (overrides "+config.FileEnv+")")
	flag.Parse()

	if *configFile != "" {
		os.Setenv(config.FileEnv, *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	telemetry, err := observability.StartTelemetry(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.RegisterShutdownFunc(telemetry.Shutdown)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	backend, err := kvstore.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open key-value store: %w", err)
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return backend.Close()
	})
	logger.WithField("backend", backend.Name()).Info("Key-value store ready")

	broker := popup.NewBroker(cfg.Login.PopupTimeout)
	janitor, err := popup.NewJanitor(broker, cfg.Login.SweepSchedule, logger, metrics)
	if err != nil {
		return err
	}
	janitor.Start()
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		janitor.Stop()
		return nil
	})

	auth, err := identity.NewClient(ctx, identity.Config{
		APIKey:    cfg.Firebase.APIKey,
		BaseURL:   cfg.Firebase.BaseURL,
		ProjectID: cfg.Firebase.ProjectID,
		GitHub: identity.GitHubConfig{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  cfg.GitHub.RedirectURL,
			AuthURL:      cfg.GitHub.AuthURL,
			TokenURL:     cfg.GitHub.TokenURL,
		},
		VerifyIDTokens: cfg.Firebase.VerifyIDTokens,
		JWKSURL:        cfg.Firebase.JWKSURL,
		HTTPClient:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}, broker)
	if err != nil {
		return fmt.Errorf("failed to create identity client: %w", err)
	}

	renderer, err := web.NewRenderer(cfg.Login.TemplateDir, logger)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	server := web.NewServer(web.Options{
		SuccessURL:   cfg.Login.SuccessURL,
		RegisterURL:  cfg.Login.RegisterURL,
		CookieSecure: cfg.Login.CookieSecure,
		DeviceTTL:    cfg.Login.DeviceTTL,
		MaxDevices:   cfg.Login.MaxDevices,
		PopupTimeout: cfg.Login.PopupTimeout,
		Limiter:      newLimiter(ctx, cfg.Login, backend, logger),
		TrustProxy:   cfg.Login.TrustProxy,
	}, auth, broker, kvstore.Instrument(backend, backend.Name(), metrics), renderer, logger, metrics)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(server.Router(), "autohub-login"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(version)
	health.AddProbe("kvstore", true, backend.Ping)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health/live", health.Liveness)
	healthMux.HandleFunc("/health/ready", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	shutdown.AddServer(httpServer)
	shutdown.AddServer(healthServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("Starting sign-in server")
		return serve(httpServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Starting health server")
		return serve(healthServer)
	})
	g.Go(func() error {
		return renderer.Watch(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown()
	})

	return g.Wait()
}

// newLimiter shares the Redis connection when the store has one so every
// instance counts against the same limit
func newLimiter(ctx context.Context, cfg config.LoginConfig, backend kvstore.Backend, logger *observability.Logger) middleware.Limiter {
	if cfg.RateLimit == 0 {
		logger.Info("Sign-in rate limiting is disabled")
		return nil
	}

	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rs, ok := backend.(*kvstore.RedisStore); ok {
		return middleware.NewDistributedRateLimiter(rs.Client(), limits, "autohub:ratelimit")
	}

	limiter := middleware.NewRateLimiter(limits)
	limiter.StartCleanup(ctx)
	return limiter
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", server.Addr, err)
	}
	return nil
}
