// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry tracing for the AutoHub login service.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 8080).Info("Server started")
//
// Request-scoped logging:
//
//	ctx = observability.WithLogger(ctx, logger)
//	ctx = observability.WithRequestID(ctx, requestID)
//	observability.FromContext(ctx).WithError(err).Error("Render failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveLoginAttempt("password", observability.OutcomeSuccess, elapsed)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddProbe("redis", false, store.Ping)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
//	telemetry, err := observability.StartTelemetry(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "autohub-login",
//		SampleRatio: 0.25,
//	}, logger)
//	defer telemetry.Shutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
