package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reportline/backend/internal/config"
	"reportline/backend/internal/health"
	"reportline/backend/internal/middleware"
	"reportline/backend/internal/monitoring"
	"reportline/backend/internal/pool"
	"reportline/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	ReportService *service.ReportService
	Uploads       *pool.UploadLimiter
	StatusLimiter *middleware.RateLimiter // 状态查询限流，为空时不限流
	Metrics       *monitoring.Metrics
	HealthChecker *health.HealthChecker
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}

	router := gin.New()
	// 不信任任何代理头，限流使用连接的对端地址
	_ = router.SetTrustedProxies(nil)

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(monitor.HTTPMetrics())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	if len(corsConfig.AllowOrigins) > 0 {
		router.Use(gincors.New(corsConfig))
	}

	// 健康检查与指标
	if deps.HealthChecker != nil {
		router.GET("/health", func(c *gin.Context) {
			report := deps.HealthChecker.CheckHealth()
			status := http.StatusOK
			if report.Status != "ok" {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, report)
		})
		router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyHandler()))
	}
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	reports := NewReportHandler(
		deps.ReportService,
		deps.Uploads,
		deps.Metrics,
		deps.Config.Attachment.MaxBytes,
		deps.Logger,
	)

	v1 := router.Group("/v1")
	{
		reportRoutes := v1.Group("/reports")

		reportRoutes.POST("",
			middleware.BodySizeLimit(middleware.SubmissionBodyLimit(deps.Config.Attachment.MaxBytes)),
			middleware.ValidateContentType("application/json", "multipart/form-data"),
			reports.Submit,
		)

		statusChain := []gin.HandlerFunc{}
		if deps.StatusLimiter != nil {
			statusChain = append(statusChain, deps.StatusLimiter.Middleware())
		}
		statusChain = append(statusChain, reports.Status)
		reportRoutes.GET("/:trackingId", statusChain...)
	}

	return router
}
