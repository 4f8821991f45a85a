// Package logger provides a standalone zap-backed observability.Logger, for
// hosts that want structured JSON logging without pulling in the full OTel
// provider from pkg/observability/otel.
package logger

import (
	"context"
	"log"
	"os"

	"github.com/evkernel/evkernel/pkg/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	logger *zap.Logger
}

// New builds an observability.Logger that writes ISO8601-timestamped JSON
// to stdout/stderr, tagged with the process hostname and a per-process
// instance id.
func New() observability.Logger {
	hostname, _ := os.Hostname()

	logConfiguration := zap.Config{
		Encoding:         "json",
		Level:            zap.NewAtomicLevelAt(zap.DebugLevel),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields: map[string]any{
			"host.name":           hostname,
			"service.instance.id": uuid.NewString(),
		},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:  "message",
			TimeKey:     "time",
			LevelKey:    "severity",
			EncodeTime:  zapcore.ISO8601TimeEncoder,
			EncodeLevel: zapcore.CapitalLevelEncoder,
		},
	}

	zl, err := logConfiguration.Build()
	if err != nil {
		log.Fatal(err)
	}
	return &zapLogger{logger: zl}
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...observability.Field) {
	l.logger.Debug(msg, l.toZapFields(fields)...)
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...observability.Field) {
	l.logger.Info(msg, l.toZapFields(fields)...)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...observability.Field) {
	l.logger.Warn(msg, l.toZapFields(fields)...)
}

func (l *zapLogger) Error(ctx context.Context, msg string, fields ...observability.Field) {
	l.logger.Error(msg, l.toZapFields(fields)...)
}

func (l *zapLogger) With(fields ...observability.Field) observability.Logger {
	return &zapLogger{logger: l.logger.With(l.toZapFields(fields)...)}
}

func (l *zapLogger) toZapFields(fields []observability.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

var _ observability.Logger = (*zapLogger)(nil)
