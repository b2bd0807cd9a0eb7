package pool

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxUploads 默认同时处理的上传数量
const DefaultMaxUploads int64 = 8

// ErrUploadCapacity 等待上传名额时请求已取消或超时
var ErrUploadCapacity = errors.New("upload capacity exhausted")

// UploadLimiter 限制同时处理的附件上传数量
//
// 用于控制 multipart 组装时的峰值内存，不是请求队列
type UploadLimiter struct {
	sem      *semaphore.Weighted
	max      int64
	inFlight atomic.Int64
}

// NewUploadLimiter 创建上传限制器
//
// 参数:
//   - limit: 最大并发上传数，小于等于 0 时使用默认值
func NewUploadLimiter(limit int64) *UploadLimiter {
	if limit <= 0 {
		limit = DefaultMaxUploads
	}
	return &UploadLimiter{
		sem: semaphore.NewWeighted(limit),
		max: limit,
	}
}

// Acquire 获取一个上传名额，ctx 结束前未获得时返回 ErrUploadCapacity
//
// 成功后必须调用返回的 release
func (l *UploadLimiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, ErrUploadCapacity
	}
	l.inFlight.Add(1)

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			l.inFlight.Add(-1)
			l.sem.Release(1)
		}
	}, nil
}

// TryAcquire 不等待，立即返回是否获得名额
func (l *UploadLimiter) TryAcquire() (release func(), ok bool) {
	if !l.sem.TryAcquire(1) {
		return nil, false
	}
	l.inFlight.Add(1)

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			l.inFlight.Add(-1)
			l.sem.Release(1)
		}
	}, true
}

// InFlight 当前正在处理的上传数量
func (l *UploadLimiter) InFlight() int64 {
	return l.inFlight.Load()
}

// Capacity 最大并发上传数
func (l *UploadLimiter) Capacity() int64 {
	return l.max
}
