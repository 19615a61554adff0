package logging

import (
	"strings"

	"go.uber.org/zap"
)

// NewLogger builds the structured logger used by every component.
// format "console" switches to the human readable development encoder.
func NewLogger(format string) (*zap.Logger, error) {
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		return zap.NewDevelopmentConfig().Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation enriches the logger with operation and request identifiers.
func WithOperation(logger *zap.Logger, operation, requestID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return logger.With(fields...)
}
