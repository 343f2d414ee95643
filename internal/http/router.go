// Package httpapi wires the HTTP transport (Gin) to the subscription and
// account services, middleware, and route handlers. It centralizes
// cross-cutting concerns such as tracing, correlation IDs, access logging
// with PII redaction, panic recovery, metrics, compression, CORS, security
// headers, and rate limiting.
//
// The API is mounted twice: at the root, where existing clients expect
// /register, /subscribe and friends, and under the versioned base path.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/contest-notifier/internal/config"
	"github.com/tbourn/contest-notifier/internal/http/handlers"
	"github.com/tbourn/contest-notifier/internal/http/middleware"
)

// Deps are the services behind the routes.
type Deps struct {
	Accounts      handlers.AccountService
	Subscriptions handlers.SubscriptionService
	Catalog       handlers.Catalog
	Schedule      handlers.ScheduleSource
	Tokens        middleware.TokenVerifier
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. AccessLog: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per IP here, per principal after RequireAuth)
//  8. CORS, security headers and gzip
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		MaskHeaders: []string{"X-API-Key"},
		LogHeaders:  []string{"User-Agent", "Authorization"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (64 KiB; payloads are a few fields)
	r.Use(limitBody(64 << 10))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per IP; the authed group adds one per user
	ipLimit := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	r.Use(ipLimit.Handler())
	userLimit := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	// 8) CORS posture, hardening headers, compression
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(deps.Accounts, deps.Subscriptions, deps.Catalog, deps.Schedule)

	mountAPI(r.Group(""), h, deps.Tokens, userLimit)
	if base := cfg.APIBasePath; base != "" && base != "/" {
		mountAPI(groupWithPrefix(r, base), h, deps.Tokens, userLimit)
	}
}

// mountAPI registers the public and bearer-protected endpoints on g. Both
// mounts share userLimit so a principal has one budget.
func mountAPI(g *gin.RouterGroup, h *handlers.Handlers, tokens middleware.TokenVerifier, userLimit *middleware.RateLimiter) {
	// Accounts
	g.POST("/register", h.Register)
	g.POST("/signin", middleware.NoStore(), h.SignIn)

	// Email-keyed subscriptions (links in reminder emails hit /unsubscribe)
	g.POST("/subscribe", h.Subscribe)
	g.GET("/unsubscribe", h.Unsubscribe)

	// Catalog and scheduler state
	g.GET("/catalog", h.ListCatalog)
	g.GET("/schedule", h.GetSchedule)

	// Principal-scoped
	authed := g.Group("", middleware.RequireAuth(tokens), userLimit.Handler(), middleware.NoStore())
	{
		authed.GET("/contests", h.GetContests)
		authed.PUT("/contests", h.PutContests)
	}
}

// corsMiddleware returns the CORS chain. With no allowlist every origin is
// accepted without credentials; otherwise matching origins are echoed.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// Force ACAO: * even for requests without an Origin header.
		force := func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		}
		return []gin.HandlerFunc{force, cors.New(base)}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	echo := func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{echo, cors.New(base)}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
