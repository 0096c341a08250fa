package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Field keys shared by the matcher packages.
const (
	FieldProvider = "provider"
	FieldModel    = "model"
	FieldTask     = "task"
	FieldItem     = "item"
	FieldStage    = "stage"
)

// Pairs turns alternating keys and values into string fields. Blank keys or
// values are dropped, so does a trailing key without a value.
func Pairs(kv ...string) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, value := strings.TrimSpace(kv[i]), strings.TrimSpace(kv[i+1])
		if key == "" || value == "" {
			continue
		}
		out = append(out, zap.String(key, value))
	}
	return out
}

// WithFields returns log enriched with fields. A nil log becomes a no-op logger.
func WithFields(log *zap.Logger, fields ...zap.Field) *zap.Logger {
	if log == nil {
		return zap.NewNop().With(fields...)
	}
	if len(fields) == 0 {
		return log
	}
	return log.With(fields...)
}

// BackendFields names the provider and model behind a call.
func BackendFields(provider, model string) []zap.Field {
	return Pairs(FieldProvider, provider, FieldModel, model)
}

// WithCommonFields attaches BackendFields to log.
func WithCommonFields(log *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(log, BackendFields(provider, model)...)
}

// CallFields describes one routed provider call.
func CallFields(task, provider string) []zap.Field {
	return Pairs(FieldTask, task, FieldProvider, provider)
}
