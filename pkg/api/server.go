package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/azybler/safepath/pkg/config"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safepath_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "method", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "safepath_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// NewRouter registers all routes and middleware on a gin engine.
func NewRouter(cfg config.ServerConfig, h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(recovery(), requestLog(), securityHeaders())
	if c, ok := corsConfig(cfg.CORSOrigins); ok {
		r.Use(cors.New(c))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := r.Group("/", limiter(cfg.MaxConcurrent), timeout(cfg.RequestTimeout))
	limited.GET("/", h.HandleIndex)

	v1 := limited.Group("/api/v1")
	v1.GET("/nearest_node", h.HandleNearest)
	v1.GET("/route", h.HandleRoute)
	v1.GET("/routes_multi", h.HandleRoutesMulti)
	v1.GET("/edges/risk_data", h.HandleRiskData)
	v1.POST("/reports/new", h.HandleNewReport)
	v1.GET("/reports/nearby", h.HandleNearbyReports)
	v1.GET("/reports/all", h.HandleAllReports)
	if h.deps.AdminToken != "" {
		v1.POST("/reports/:id/status", h.HandleSetReportStatus)
	}
	v1.GET("/health", h.HandleHealth)
	v1.GET("/stats", h.HandleStats)

	return r
}

// NewServer wraps handler in an http.Server configured from cfg.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func ListenAndServe(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutting down", "timeout", shutdownTimeout)
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

func corsConfig(origins []string) (cors.Config, bool) {
	if len(origins) == 0 {
		return cors.Config{}, false
	}
	c := cors.DefaultConfig()
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c, true
		}
	}
	c.AllowOrigins = origins
	return c, true
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		slog.Error("panic", "path", c.Request.URL.Path, "recovered", rec)
		writeError(c, http.StatusInternalServerError, "internal_error", "")
	})
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		c.Next()
	}
}

// limiter rejects requests beyond n in flight with 503.
func limiter(n int) gin.HandlerFunc {
	sem := make(chan struct{}, n)
	return func(c *gin.Context) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		default:
			c.Header("Retry-After", "1")
			writeError(c, http.StatusServiceUnavailable, "service_unavailable", "")
			return
		}
		c.Next()
	}
}

func timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()
		httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		slog.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"elapsed", elapsed.Round(time.Microsecond))
	}
}
