package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"reportline/backend/internal/cache"
	"reportline/backend/internal/monitoring"
)

// limiterIdleTTL 客户端限流器在无请求后保留的时间
const limiterIdleTTL = 10 * time.Minute

// maxTrackedClients 同时跟踪的客户端数量上限
const maxTrackedClients = 100000

// MsgTooManyRequests 限流提示
const MsgTooManyRequests = "请求过于频繁，请稍后再试"

// RateLimiter 按客户端地址限流，限流器只保存在内存中，不写日志
type RateLimiter struct {
	name     string
	limit    rate.Limit
	burst    int
	limiters *cache.LocalCache[*rate.Limiter]
	metrics  *monitoring.Metrics
}

// NewRateLimiter 创建限流器
//
// 参数:
//   - name: 指标标签
//   - rps: 每秒允许的请求数
//   - burst: 突发容量
func NewRateLimiter(name string, rps float64, burst int, metrics *monitoring.Metrics) *RateLimiter {
	return &RateLimiter{
		name:     name,
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: cache.NewLocalCache[*rate.Limiter](maxTrackedClients, limiterIdleTTL),
		metrics:  metrics,
	}
}

// Run 定期清理空闲的限流器，直到 ctx 结束
func (rl *RateLimiter) Run(ctx context.Context) {
	rl.limiters.Run(ctx, time.Minute)
}

// Allow 判断 key 当前是否允许通过，不允许时返回建议的等待时间
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	limiter := rl.limiters.GetOrCreate(key, func() *rate.Limiter {
		return rate.NewLimiter(rl.limit, rl.burst)
	})

	reservation := limiter.Reserve()
	if !reservation.OK() {
		return false, time.Second
	}
	delay := reservation.Delay()
	if delay == 0 {
		return true, 0
	}
	reservation.Cancel()
	return false, delay
}

// Middleware 返回 gin 中间件，超限时返回 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := rl.Allow(c.ClientIP())
		if allowed {
			c.Next()
			return
		}

		if rl.metrics != nil {
			rl.metrics.RecordRateLimitBlock(rl.name)
		}
		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		abortJSON(c, http.StatusTooManyRequests, MsgTooManyRequests)
	}
}
