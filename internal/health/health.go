package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"reportline/backend/internal/storage"
)

// pingTimeout 单次存储探测的超时
const pingTimeout = 3 * time.Second

// maxGoroutines 超过后存活检查失败
const maxGoroutines = 10000

// HealthChecker 健康检查器
type HealthChecker struct {
	health  healthcheck.Handler
	pinger  storage.Pinger
	backend string
	logger  *zap.Logger
}

// NewHealthChecker 创建健康检查器，pinger 为空时就绪检查只报告进程状态
func NewHealthChecker(backend string, pinger storage.Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:  healthcheck.NewHandler(),
		pinger:  pinger,
		backend: backend,
		logger:  logger.Named("health"),
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))

	if hc.pinger != nil {
		hc.health.AddReadinessCheck("storage", healthcheck.Timeout(hc.pingStorage, pingTimeout))
	}
}

func (hc *HealthChecker) pingStorage() error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := hc.pinger.Ping(ctx); err != nil {
		hc.logger.Warn("storage ping failed", zap.String("backend", hc.backend), zap.Error(err))
		return err
	}
	return nil
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查，包含存储探测
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// Handler 返回完整的健康检查处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// Report 汇总当前状态，供 /health 返回
type Report struct {
	Status    string            `json:"status"`
	Backend   string            `json:"backend"`
	Checks    map[string]string `json:"checks"`
	Goroutine int               `json:"goroutines"`
	Timestamp time.Time         `json:"timestamp"`
}

// CheckHealth 执行健康检查
func (hc *HealthChecker) CheckHealth() *Report {
	report := &Report{
		Status:    "ok",
		Backend:   hc.backend,
		Checks:    make(map[string]string),
		Goroutine: runtime.NumGoroutine(),
		Timestamp: time.Now().UTC(),
	}

	if hc.pinger == nil {
		report.Checks["storage"] = "NOT_AVAILABLE"
		return report
	}

	if err := hc.pingStorage(); err != nil {
		report.Status = "degraded"
		report.Checks["storage"] = "ERROR"
	} else {
		report.Checks["storage"] = "OK"
	}
	return report
}

// IsHealthy 存储可用时返回 true
func (hc *HealthChecker) IsHealthy() bool {
	return hc.CheckHealth().Status == "ok"
}
