package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type Config struct {
	Env     string
	Service string
	Level   slog.Level
	Output  io.Writer
}

// New builds the process logger. dev writes human readable text, prod writes
// JSON through a sampled zap core.
func New(cfg Config) *slog.Logger {
	if cfg.Env == "" {
		cfg.Env = EnvDev
	}
	if cfg.Service == "" {
		cfg.Service = "rtc-signal"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	var h slog.Handler
	switch cfg.Env {
	case EnvProd:
		h = newZapHandler(cfg)
	default:
		h = slog.NewTextHandler(cfg.Output, &slog.HandlerOptions{Level: cfg.Level})
	}

	return slog.New(h.WithAttrs([]slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", cfg.Env),
	}))
}

func newZapHandler(cfg Config) slog.Handler {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(cfg.Output),
		toZapLevel(cfg.Level),
	)
	core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 10)

	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return slogzap.Option{Level: cfg.Level, Logger: z}.NewZapHandler()
}

func toZapLevel(lvl slog.Level) zapcore.Level {
	switch {
	case lvl <= slog.LevelDebug:
		return zapcore.DebugLevel
	case lvl == slog.LevelInfo:
		return zapcore.InfoLevel
	case lvl == slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
