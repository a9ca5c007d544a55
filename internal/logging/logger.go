package logging

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a zap logger whose methods take the request context and prefix
// its correlation fields.
type Logger struct {
	zap *zap.Logger
}

// NewLogger builds a Logger. lp may be nil, which disables the
// OpenTelemetry output regardless of cfg.OTEL.
func NewLogger(cfg *Config, lp log.LoggerProvider) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	core, err := buildCore(cfg, lp)
	if err != nil {
		return nil, fmt.Errorf("building log core: %w", err)
	}

	opts := []zap.Option{zap.AddStacktrace(cfg.StacktraceLevel)}
	if cfg.Caller {
		// Skip log and the exported method that called it.
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(2))
	}
	static := make([]zap.Field, 0, len(cfg.Fields))
	for k, v := range cfg.Fields {
		static = append(static, zap.String(k, v))
	}
	return &Logger{zap: zap.New(core, opts...).With(static...)}, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger { return &Logger{zap: zap.NewNop()} }

// Wrap adapts a zap logger; nil yields NewNop.
func Wrap(z *zap.Logger) *Logger {
	if z == nil {
		return NewNop()
	}
	return &Logger{zap: z}
}

func (l *Logger) log(ctx context.Context, lvl zapcore.Level, msg string, fields []zap.Field) {
	ce := l.zap.Check(lvl, msg)
	if ce == nil {
		return
	}
	ce.Write(append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Trace(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, TraceLevel, msg, fields)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

// Security records a rejected token, a cross-tenant attempt or a failed
// upload validation. Entries go to the "security" logger at warn level with
// the event name repeated in security_event, so a sink can route on either.
func (l *Logger) Security(ctx context.Context, event string, fields ...zap.Field) {
	sec := &Logger{zap: l.zap.Named("security")}
	sec.log(ctx, zapcore.WarnLevel, event, append([]zap.Field{zap.String("security_event", event)}, fields...))
}

func (l *Logger) With(fields ...zap.Field) *Logger { return &Logger{zap: l.zap.With(fields...)} }

func (l *Logger) Named(name string) *Logger { return &Logger{zap: l.zap.Named(name)} }

// Enabled reports whether entries at lvl would be written.
func (l *Logger) Enabled(lvl zapcore.Level) bool { return l.zap.Core().Enabled(lvl) }

// Underlying exposes the zap logger for libraries that take one.
func (l *Logger) Underlying() *zap.Logger { return l.zap }

// Sync flushes buffered entries. Syncing a terminal or pipe stdout fails
// with EINVAL or ENOTTY on Linux; that is not reported.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
