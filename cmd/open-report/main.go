// open-report 供受理人在服务器上解密查看完整举报内容。
//
// 该工具只在本地读取存储，不经过 HTTP 接口。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"reportline/backend/internal/config"
	"reportline/backend/internal/crypto"
	"reportline/backend/internal/domain"
	"reportline/backend/internal/logger"
	"reportline/backend/internal/service"
	"reportline/backend/internal/storage/backend"
)

func main() {
	var (
		trackingID    string
		attachmentOut string
		timeout       time.Duration
	)

	flags := pflag.NewFlagSet("open-report", pflag.ExitOnError)
	flags.StringVarP(&trackingID, "id", "i", "", "追踪编号")
	flags.StringVarP(&attachmentOut, "attachment-out", "o", "", "附件解密后的保存路径（可选）")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "读取存储的超时时间")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: open-report --id <trackingId> [--attachment-out <path>]")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	if trackingID == "" {
		flags.Usage()
		os.Exit(2)
	}

	if err := run(trackingID, attachmentOut, timeout); err != nil {
		fmt.Fprintf(os.Stderr, "open-report: %v\n", err)
		os.Exit(1)
	}
}

func run(trackingID, attachmentOut string, timeout time.Duration) error {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 日志只写到 stderr，stdout 留给举报内容
	logOpts := logger.FromConfig(cfg.Log)
	logOpts.LogFile = ""
	logOpts.Stderr = true
	log, err := logger.New(logOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	key, err := crypto.DeriveKey(cfg.Crypto.Secret.Reveal(), cfg.Crypto.Salt)
	if err != nil {
		return err
	}
	gateway, err := crypto.NewGateway(key)
	key.Destroy()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	store, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close(store) }()

	reports := service.NewReportService(store, gateway, nil, log)

	report, err := reports.Open(ctx, trackingID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("no report with this tracking id")
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}

	if attachmentOut == "" || report.Attachment == nil {
		return nil
	}

	meta, data, err := reports.OpenAttachment(ctx, trackingID)
	if err != nil {
		return fmt.Errorf("failed to open attachment: %w", err)
	}
	// 已存在的文件不覆盖
	f, err := os.OpenFile(attachmentOut, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.Info("attachment written",
		zap.String("content_type", meta.ContentType),
		zap.Int64("size", meta.Size),
	)
	return nil
}
