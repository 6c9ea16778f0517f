package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/model"
)

// NewLogger builds the process logger from cfg. Output goes to stdout as
// JSON, or as colored console lines when LogFormat is "console". An unknown
// level falls back to info.
//
// Levels:
//   - error: 5xx responses, journal or broker failures
//   - warn:  backend errors, breaker open, poll budget exhausted
//   - info:  mutation outcomes, definition reloads, startup and shutdown
//   - debug: GraphQL documents, cache hits, setting changes
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoding := "json"
	if cfg.LogFormat == "console" {
		encoding = "console"
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zcfg.Build(zap.Fields(zap.String("version", Version)))
}

// RequestLogger returns base enriched with the caller identity and trace
// of the request in ctx. Without a RequestContext base is returned as is.
func RequestLogger(ctx context.Context, base *zap.Logger) *zap.Logger {
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return base
	}

	fields := make([]zap.Field, 0, 5)
	fields = append(fields,
		zap.String("subject_id", rctx.SubjectID),
		zap.String("correlation_id", rctx.CorrelationID),
	)
	if rctx.Username != "" && rctx.Username != rctx.SubjectID {
		fields = append(fields, zap.String("username", rctx.Username))
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID), zap.String("span_id", rctx.SpanID))
	}
	return base.With(fields...)
}

// MutationLogger returns logger enriched with the fields identifying a
// tracked mutation.
func MutationLogger(logger *zap.Logger, rec *model.MutationRecord) *zap.Logger {
	if rec == nil {
		return logger
	}
	return logger.With(
		zap.String("client_mutation_id", rec.ClientMutationID),
		zap.String("client_mutation_label", rec.ClientMutationLabel),
		zap.Stringer("mutation_status", rec.Status),
	)
}

const redacted = "[REDACTED]"

// secretVariables are GraphQL variable names never written to logs,
// compared case-insensitively.
var secretVariables = map[string]bool{
	"password":     true,
	"token":        true,
	"refreshtoken": true,
	"csrftoken":    true,
	"secret":       true,
}

// RedactVariables returns a copy of GraphQL variables safe for debug logs.
// Secret values are masked at any depth, including inside lists.
func RedactVariables(vars map[string]any) map[string]any {
	if vars == nil {
		return nil
	}
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		if secretVariables[strings.ToLower(k)] {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return RedactVariables(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = redactValue(e)
		}
		return cp
	default:
		return v
	}
}
