package bunny

import (
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// retryableHTTPLogger adapts a zap.Logger to retryablehttp.LeveledLogger.
type retryableHTTPLogger struct {
	inner *zap.Logger
}

var _ retryablehttp.LeveledLogger = retryableHTTPLogger{}

func (r retryableHTTPLogger) Error(msg string, keysAndValues ...any) {
	r.inner.Sugar().Errorw(msg, keysAndValues...)
}

func (r retryableHTTPLogger) Info(msg string, keysAndValues ...any) {
	r.inner.Sugar().Infow(msg, keysAndValues...)
}

func (r retryableHTTPLogger) Warn(msg string, keysAndValues ...any) {
	r.inner.Sugar().Warnw(msg, keysAndValues...)
}

func (r retryableHTTPLogger) Debug(msg string, keysAndValues ...any) {
	r.inner.Sugar().Debugw(msg, keysAndValues...)
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
