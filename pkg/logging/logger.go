// Package logging configures zerolog for the exchange processes and provides
// gRPC logging interceptors.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const (
	// RequestIDKey is the key used to store request IDs in context
	RequestIDKey contextKey = "request_id"
	// RunIDKey is the key used to store the exchange run id in context
	RunIDKey contextKey = "run_id"
)

// Output formats
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config defines logging configuration
type Config struct {
	// Level is the logging level (debug, info, warn, error)
	Level string
	// Format is FormatJSON or FormatConsole
	Format string
	// Output is where logs are written (defaults to os.Stdout)
	Output io.Writer
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stdout,
	}
}

// Setup configures the global logger and returns it
func Setup(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Format == FormatConsole {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	return log.Logger
}

// Component returns the global logger tagged with a component name
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// WithRunID stores the run id for FromContext
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// FromContext extracts a logger with request context
func FromContext(ctx context.Context) zerolog.Logger {
	logCtx := log.With()
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		logCtx = logCtx.Str("run_id", runID)
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return logCtx.Str("request_id", requestID).Logger()
	}

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			logCtx = logCtx.Str("request_id", ids[0])
		}
	}
	return logCtx.Logger()
}

// NewZapLogger builds a zap logger at the level of cfg for components that
// log through zap
func NewZapLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == FormatConsole {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// UnaryServerInterceptor returns a gRPC interceptor for request logging
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctx, logger := requestLogger(ctx, info.FullMethod, false)
		start := time.Now()

		logger.Debug().Msg("Request received")
		resp, err := handler(ctx, req)
		logCompletion(logger, err, time.Since(start))

		return resp, err
	}
}

// StreamServerInterceptor returns a gRPC interceptor for streaming request logging
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, logger := requestLogger(stream.Context(), info.FullMethod, true)
		start := time.Now()

		logger.Debug().Msg("Stream started")
		err := handler(srv, &wrappedServerStream{ServerStream: stream, ctx: ctx})
		logCompletion(logger, err, time.Since(start))

		return err
	}
}

func requestLogger(ctx context.Context, method string, stream bool) (context.Context, zerolog.Logger) {
	logCtx := log.With().Str("grpc.method", method)
	if stream {
		logCtx = logCtx.Bool("grpc.stream", true)
	}

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			logCtx = logCtx.Str("request_id", ids[0])
			ctx = context.WithValue(ctx, RequestIDKey, ids[0])
		}
	}
	return ctx, logCtx.Logger()
}

func logCompletion(logger zerolog.Logger, err error, duration time.Duration) {
	code := status.Code(err)

	event := logger.Info()
	if code != codes.OK {
		event = logger.Error().Err(err).Str("grpc.code", code.String())
	}
	event.Dur("duration", duration).
		Int("grpc.status", int(code)).
		Msg("Request completed")
}

// wrappedServerStream wraps a grpc.ServerStream with a modified context
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapper's modified context
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
