package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/audit"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/auth"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/ledger"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/marketplace"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/metrics"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/reports"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/stats"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/submissions"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/verification"
)

// Router builds the HTTP surface. Everything under /api/v1 and the live
// feed require a bearer token; /health and /metrics are public.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(a.Logger), metrics.Instrument(), cors())

	router.GET("/health", a.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authenticate := a.Auth.Middleware()
	if a.Hub != nil {
		router.GET("/ws/events", authenticate, a.streamEvents)
	}

	api := router.Group("/api/v1", authenticate)
	{
		auth.NewHandler().RegisterRoutes(api)
		submissions.NewHandler(a.Submissions, a.Logger).RegisterRoutes(api)
		verification.NewHandler(a.Verification, a.Logger).RegisterRoutes(api)
		ledger.NewHandler(a.Ledger, a.Logger).RegisterRoutes(api)
		marketplace.NewHandler(a.Marketplace, a.Logger).RegisterRoutes(api)
		stats.NewHandler(a.Stats, a.Logger).RegisterRoutes(api)
		audit.NewHandler(a.Auditor, a.Logger).RegisterRoutes(api)
		reports.NewHandler(a.Reports, a.Logger).RegisterRoutes(api)
	}
	return router
}

func (a *App) health(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	if sqlDB, err := a.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func (a *App) streamEvents(c *gin.Context) {
	if err := a.Hub.HandleConnection(c.Writer, c.Request); err != nil {
		a.Logger.Warn("Websocket connection failed", zap.Error(err))
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("Request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
