package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"reportline/backend/internal/config"
)

// 日志轮转默认参数
const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 3
	defaultMaxAgeDays = 28
)

// Options 日志配置
type Options struct {
	Level       string
	Development bool
	LogFile     string
	MaxSize     int // MB
	MaxBackups  int
	MaxAge      int // days
	Compress    bool
	Stderr      bool // 控制台输出改为 stderr
}

// FromConfig 由服务配置生成日志选项，文件输出时使用默认轮转策略
func FromConfig(cfg config.LogConfig) Options {
	return Options{
		Level:       cfg.Level,
		Development: cfg.Development,
		LogFile:     cfg.File,
		MaxSize:     defaultMaxSizeMB,
		MaxBackups:  defaultMaxBackups,
		MaxAge:      defaultMaxAgeDays,
		Compress:    true,
	}
}

// New 创建日志记录器
//
// 日志中只允许出现元数据，报告正文、邮箱、追踪编号、密钥都不得写入
func New(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if opts.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	writeSyncer, err := newWriteSyncer(opts)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	zapOpts := []zap.Option{zap.AddCaller()}
	if opts.Development {
		zapOpts = append(zapOpts, zap.AddStacktrace(zapcore.ErrorLevel), zap.Development())
	}

	return zap.New(core, zapOpts...), nil
}

// newWriteSyncer 配置了日志文件时同时输出到文件和控制台
func newWriteSyncer(opts Options) (zapcore.WriteSyncer, error) {
	console := zapcore.AddSync(os.Stdout)
	if opts.Stderr {
		console = zapcore.AddSync(os.Stderr)
	}
	if opts.LogFile == "" {
		return console, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.LogFile), 0o750); err != nil {
		return nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.LogFile,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   opts.Compress,
	}

	return zapcore.NewMultiWriteSyncer(
		zapcore.AddSync(rotator),
		console,
	), nil
}

// NewDevelopment 创建开发环境日志记录器，失败时返回空记录器
func NewDevelopment() *zap.Logger {
	log, err := New(Options{Level: "debug", Development: true})
	if err != nil {
		return zap.NewNop()
	}
	return log
}
