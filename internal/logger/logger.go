// Package logger wraps zap so every log line carries the active trace and
// span ids.
package logger

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ConnectProps struct {
	Production bool
	Level      string
}

type LogMiddleware struct {
	logger *zap.Logger
}

// Connect builds a JSON production logger or a console development logger.
func Connect(args ConnectProps) (*LogMiddleware, error) {
	var cfg zap.Config
	if args.Production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	if args.Level != "" {
		level, err := zapcore.ParseLevel(args.Level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if args.Production {
		zap.ReplaceGlobals(logger)
		logger.Info("[Logger] Starting Logger with Prod Config")
	}
	return &LogMiddleware{logger: logger}, nil
}

func Wrap(logger *zap.Logger) *LogMiddleware {
	return &LogMiddleware{logger: logger}
}

func NewNop() *LogMiddleware {
	return &LogMiddleware{logger: zap.NewNop()}
}

func (l *LogMiddleware) Logger(ctx context.Context) *zap.Logger {
	if l == nil || l.logger == nil {
		return zap.NewNop()
	}
	spanContext := trace.SpanContextFromContext(ctx)
	if !spanContext.IsValid() {
		return l.logger
	}

	return l.logger.With(
		zap.String("trace_id", spanContext.TraceID().String()),
		zap.String("span_id", spanContext.SpanID().String()),
	)
}

func (l *LogMiddleware) Sync() error {
	if l == nil || l.logger == nil {
		return nil
	}
	return l.logger.Sync()
}

// RequestLogger logs one line per request with status and latency.
func (l *LogMiddleware) RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			l.Logger(r.Context()).Info("[HTTP] Request Completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
