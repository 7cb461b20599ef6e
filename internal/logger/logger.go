package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level       string // debug | info | warn | error
	Format      string // json | console
	Development bool
}

func New(cfg Config) *zap.Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if l, err := zapcore.ParseLevel(cfg.Level); err == nil {
		level.SetLevel(l)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "@timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		enc = zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(enc)
	} else {
		encoder = zapcore.NewJSONEncoder(enc)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...)
}
