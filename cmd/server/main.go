package main

// 接口文档只生成静态 OpenAPI 文件，服务本身不提供文档路由
//go:generate go run github.com/swaggo/swag/cmd/swag@v1.16.6 init -d ../.. -g cmd/server/main.go -o ../../docs --outputTypes json,yaml --parseInternal

// @title Reportline API
// @version 1.0.0
// @description 保密举报通道后端 API
// @BasePath /
// @schemes http https

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reportline/backend/internal/config"
	"reportline/backend/internal/crypto"
	"reportline/backend/internal/health"
	"reportline/backend/internal/logger"
	"reportline/backend/internal/middleware"
	"reportline/backend/internal/monitoring"
	"reportline/backend/internal/pool"
	"reportline/backend/internal/security"
	"reportline/backend/internal/service"
	"reportline/backend/internal/storage/backend"
	"reportline/backend/internal/storage/filesystem"
	httptransport "reportline/backend/internal/transport/http"
)

const (
	version = "1.0.0"

	// maintenanceInterval 临时文件清理和存储统计的周期
	maintenanceInterval = 10 * time.Minute
)

// main 是举报通道 HTTP 服务的程序入口。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting reportline server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	// 派生加密密钥，派生完成后只保留在 Gateway 中
	key, err := crypto.DeriveKey(cfg.Crypto.Secret.Reveal(), cfg.Crypto.Salt)
	if err != nil {
		log.Fatal("failed to derive encryption key", zap.Error(err))
	}
	gateway, err := crypto.NewGateway(key)
	key.Destroy()
	if err != nil {
		log.Fatal("failed to initialize cipher gateway", zap.Error(err))
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储层
	store, err := backend.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := backend.Close(store); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	// 初始化监控系统
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(cfg.Storage.Backend, store, log)

	// 初始化服务层
	policy := security.NewAttachmentPolicy(cfg.Attachment.MaxBytes, cfg.Attachment.AllowedExtensions)
	attachments := service.NewAttachmentStore(store, gateway, policy)
	reportService := service.NewReportService(store, gateway, attachments, log)

	uploads := pool.NewUploadLimiter(cfg.Attachment.MaxConcurrent)
	statusLimiter := middleware.NewRateLimiter("status", cfg.RateLimit.StatusRPS, cfg.RateLimit.StatusBurst, metrics)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		ReportService: reportService,
		Uploads:       uploads,
		StatusLimiter: statusLimiter,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second, // 附件上传需要更长的读取时间
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", cfg.Addr()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 限流器清理 goroutine
	group.Go(func() error {
		statusLimiter.Run(groupCtx)
		return nil
	})

	// 文件系统存储维护 goroutine
	if fsStore, ok := store.(*filesystem.Store); ok {
		group.Go(func() error {
			runMaintenance(groupCtx, fsStore, cfg.Storage.TempMaxAge, metrics, log)
			return nil
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}

// runMaintenance 定期清理中断写入遗留的临时文件并刷新存储指标
func runMaintenance(ctx context.Context, store *filesystem.Store, maxAge time.Duration, metrics *monitoring.Metrics, log *zap.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	log.Info("starting storage maintenance task", zap.Duration("interval", maintenanceInterval))

	for {
		count, err := store.CleanupStaleTemp(maxAge)
		if err != nil {
			log.Error("failed to clean up stale temp files", zap.Error(err))
		} else if count > 0 {
			metrics.RecordTempFilesSwept(count)
			log.Info("stale temp files removed", zap.Int("count", count))
		}

		if stats, err := store.GetStorageStats(); err != nil {
			log.Error("failed to collect storage stats", zap.Error(err))
		} else {
			metrics.UpdateStorage(stats.ReportCount, stats.AttachmentCount, stats.TotalSizeBytes)
		}

		select {
		case <-ctx.Done():
			log.Info("storage maintenance task stopped")
			return
		case <-ticker.C:
		}
	}
}
