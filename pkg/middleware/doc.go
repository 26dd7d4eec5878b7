// Package middleware provides HTTP middleware for authentication, the
// identity provider hook and rate limiting.
//
// # Authentication
//
// Authenticator verifies the bearer token (an OIDC ID token in production),
// looks up the enrolled principal by identity subject and stores an
// authz.Caller in the request context. Handlers read it back with
// authz.CallerFrom.
//
//	auth := middleware.NewAuthenticator(store, verifier, false, logger)
//	router.Use(auth.Handler)
//
// # Hook secret
//
//	hooks.Use(middleware.RequireHookSecret(cfg.Auth.HookSecret))
//
// # Rate limiting
//
// RateLimit keys by principal, or by client IP for anonymous callers. It
// takes an in-memory RateLimiter or a Redis-backed DistributedRateLimiter
// and fails open when the limiter errors.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "ratelimit:shares")
//	shared.Use(middleware.RateLimit(limiter, logger))
package middleware
