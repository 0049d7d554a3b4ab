package logger

import (
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New returns a slog.Logger backed by zap: JSON at info level in prod,
// console output with debug level in dev. The returned sync func flushes
// buffered entries.
func New(env string) (*slog.Logger, func(), error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	default:
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	log := slog.New(zapslog.NewHandler(z.Core(), zapslog.WithCaller(true)))
	return log, func() { _ = z.Sync() }, nil
}
