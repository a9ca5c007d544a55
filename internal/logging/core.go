package logging

import (
	"errors"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// buildCore tees stdout and the OpenTelemetry bridge, then samples the
// result. Only stdout goes through the redacting encoder; the bridge ships
// structured attributes and leaves masking to the collector.
func buildCore(cfg *Config, lp log.LoggerProvider) (zapcore.Core, error) {
	var sinks []zapcore.Core

	if cfg.Stdout {
		enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), cfg.Level))
	}
	if cfg.OTEL && lp != nil {
		sinks = append(sinks, otelzap.NewCore(cfg.service(), otelzap.WithLoggerProvider(lp)))
	}

	switch len(sinks) {
	case 0:
		return nil, errors.New("no log output available")
	case 1:
		return sample(sinks[0], cfg.Sampling), nil
	default:
		return sample(zapcore.NewTee(sinks...), cfg.Sampling), nil
	}
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = encodeLevel
	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// encodeLevel names TraceLevel instead of printing "Level(-2)".
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// sample thins repeated messages below error. A burst of identical
// "embedding failed" warnings collapses to Initial lines per tick plus
// every Thereafter-th; errors are never sampled.
func sample(core zapcore.Core, s SamplingConfig) zapcore.Core {
	if s.Initial <= 0 {
		return core
	}
	errs, err := zapcore.NewIncreaseLevelCore(core, zapcore.ErrorLevel)
	if err != nil {
		// core is already above error; nothing to sample.
		return core
	}
	sampled := zapcore.NewSamplerWithOptions(
		ceiling{Core: core, max: zapcore.WarnLevel},
		s.Tick.Duration(), s.Initial, s.Thereafter,
		zapcore.SamplerHook(func(ent zapcore.Entry, dec zapcore.SamplingDecision) {
			if dec&zapcore.LogDropped != 0 {
				SampledOut.WithLabelValues(ent.Level.String()).Inc()
			}
		}),
	)
	return zapcore.NewTee(errs, sampled)
}

// ceiling passes entries at or below max.
type ceiling struct {
	zapcore.Core
	max zapcore.Level
}

func (c ceiling) Enabled(l zapcore.Level) bool {
	return l <= c.max && c.Core.Enabled(l)
}

func (c ceiling) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level > c.max {
		return ce
	}
	return c.Core.Check(ent, ce)
}

func (c ceiling) With(fields []zapcore.Field) zapcore.Core {
	return ceiling{Core: c.Core.With(fields), max: c.max}
}
