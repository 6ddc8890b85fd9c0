// Package logging builds the process zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Role labels a process in single or distributed runs.
type Role string

const (
	RoleSingle Role = "SINGLE"
	RoleMaster Role = "MASTER"
	RoleWorker Role = "WORKER"
)

// New returns a JSON production logger, or a console logger when development
// is set. level is a zap level name such as "debug" or "warn".
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger, nil
}

// ForRole tags every entry with the process role and, for workers, its id.
func ForRole(logger *zap.Logger, role Role, id string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := logger.With(zap.String("role", string(role)))
	if id != "" {
		l = l.With(zap.String("id", id))
	}
	return l
}
