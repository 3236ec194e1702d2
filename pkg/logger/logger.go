package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "futdesk"

type Options struct {
	Level string // debug|info|warn|error, default info
	File  string // optional JSON log file, appended to
}

// New builds a logger that writes human-readable lines to stderr and, when
// opts.File is set, JSON lines to that file. If the file cannot be opened the
// logger falls back to stderr only and the second result reports why.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), level),
	}

	var degraded error
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			degraded = fmt.Errorf("open log file: %w", err)
		} else {
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
		}
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).With(zap.String("service", serviceName))
	if degraded != nil {
		log.Warn("logging to console only", zap.Error(degraded))
	}
	return log, degraded
}
