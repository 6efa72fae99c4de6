// Package server builds the HTTP and gRPC servers of the activity tracking backend.
package server

import (
	"context"
	"net/http"

	"cdr.dev/slog/v3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"club-manager/backend/internal/metrics"
)

// DefaultMaxBodyBytes caps request bodies; activity payloads are tiny.
const DefaultMaxBodyBytes = 64 << 10

// Router mounts a group of routes.
type Router interface {
	Register(r gin.IRouter)
}

// Readiness reports whether dependencies are healthy (e.g. *health.Checker).
type Readiness interface {
	Err() error
}

// HTTPDeps holds the route groups and middleware settings for NewRouter.
type HTTPDeps struct {
	// Activity serves /api/activity. Required.
	Activity Router
	// Admin serves /api/admin. Nil leaves the admin routes unmounted.
	Admin Router
	// Health backs /healthz. Nil reports always ready.
	Health Readiness
	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers set the client IP. Nil trusts
	// none: the client IP is the connection's remote address.
	TrustedProxies []string
	MaxBodyBytes   int64
	Logger         slog.Logger
}

// NewRouter returns the gin engine with metrics, recovery, body limits, /healthz and /metrics.
func NewRouter(deps HTTPDeps) *gin.Engine {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := deps.Logger.Named("http")

	r := gin.New()
	if err := r.SetTrustedProxies(deps.TrustedProxies); err != nil {
		logger.Error(context.Background(), "invalid trusted proxies, trusting none",
			slog.F("trusted_proxies", deps.TrustedProxies), slog.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(Recovery(logger), metrics.Middleware(), RequestSizeLimiter(deps.MaxBodyBytes))

	r.GET("/healthz", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health.Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	deps.Activity.Register(r)
	if deps.Admin != nil {
		deps.Admin.Register(r)
	}
	return r
}

// RequestSizeLimiter rejects bodies larger than maxSize with 413.
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)

		if c.Request.ContentLength > maxSize {
			c.AbortWithStatus(http.StatusRequestEntityTooLarge)
			return
		}

		c.Next()
	}
}

// Recovery turns handler panics into 500s and logs them.
func Recovery(logger slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(context.Background(), "handler panic",
					slog.F("path", c.Request.URL.Path),
					slog.F("panic", rec),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
