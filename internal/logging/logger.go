// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the encoder and minimum level.
//   - Development: colored console output with caller info; JSON otherwise.
//   - Level: debug, info, warn or error. Empty keeps the mode default.
type Options struct {
	Development bool
	Level       string
}

// New builds a zap.Logger configured for development or production.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if lvl := strings.TrimSpace(opts.Level); lvl != "" {
		level, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// JobFields returns the standard fields attached to job-scoped log lines.
func JobFields(jobID, batchID, url string) []zap.Field {
	fields := []zap.Field{zap.String("job_id", jobID)}
	if batchID != "" {
		fields = append(fields, zap.String("batch_id", batchID))
	}
	if url != "" {
		fields = append(fields, zap.String("url", url))
	}
	return fields
}
