package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/api/handlers"
	"github.com/kiridroid/kiridroid-go/internal/config"
	"github.com/kiridroid/kiridroid-go/internal/middleware"
	"github.com/kiridroid/kiridroid-go/internal/service"
)

// Dependencies 路由需要的组件；Metrics、Memory、Tools 可以为 nil
type Dependencies struct {
	Builds     service.BuildService
	Hub        *handlers.ProgressHub
	Tools      handlers.VersionProber
	Metrics    *middleware.PrometheusMetrics
	Memory     *middleware.MemoryMonitor
	AppVersion string
}

func SetupRouter(cfg *config.Config, logger *logrus.Logger, deps Dependencies) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	if deps.Metrics != nil {
		r.Use(deps.Metrics.HTTPMiddleware())
		r.GET("/metrics/prometheus", deps.Metrics.Handler())
	}
	if deps.Memory != nil {
		r.GET("/metrics", deps.Memory.MetricsEndpoint())
	}

	buildHandler := handlers.NewBuildHandler(deps.Builds, deps.Tools, deps.AppVersion, logger)
	auth := middleware.AuthMiddleware(cfg.Server.APIToken)

	// 健康检查（无需认证）
	r.GET("/api/health", buildHandler.Health)

	v1 := r.Group("/api", auth)
	{
		v1.GET("/version", buildHandler.Version)
		v1.GET("/stats", buildHandler.GetStats)

		v1.POST("/builds", buildHandler.CreateBuild)
		v1.GET("/builds", buildHandler.ListBuilds)
		v1.GET("/builds/:id", buildHandler.GetBuild)
		v1.GET("/builds/:id/invocations", buildHandler.ListInvocations)
		v1.GET("/builds/:id/artifact", buildHandler.DownloadArtifact)
		v1.POST("/builds/:id/rerun", buildHandler.RerunBuild)
	}

	if deps.Hub != nil {
		r.GET("/ws/builds/:id", auth, deps.Hub.HandleWebSocket)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(startTime).Milliseconds(),
		}).Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
