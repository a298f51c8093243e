// Package middleware rate-limits sign-in submissions per client address.
//
// Two limiters share the Limiter interface: RateLimiter keeps a token bucket
// per client in memory, and DistributedRateLimiter keeps a fixed-window
// counter in Redis so several instances enforce one limit.
//
//	limiter := middleware.NewRateLimiter(middleware.SignInRateLimitConfig())
//	limiter.StartCleanup(ctx)
//	rl := middleware.NewRateLimitMiddleware(limiter, logger, metrics)
//	router.Handle("/login", rl.Handler(loginHandler)).Methods(http.MethodPost)
//
// Refused requests get 429 with Retry-After and X-RateLimit-* headers. When
// the limiter itself fails the request is let through and a warning logged.
package middleware
