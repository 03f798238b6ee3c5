package tslog

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gametunnel/gametunnel-go/jsoncfg"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger returns a new [*zap.Logger] with the given preset and log level.
//
// The available presets are:
//
//   - "console" (default): Reasonable defaults for production console environments.
//   - "console-nocolor": Same as "console", but without color.
//   - "console-notime": Same as "console", but without timestamps.
//   - "systemd": Reasonable defaults for running as a systemd service. Same as "console", but without color and timestamps.
//   - "production": Zap's built-in production preset.
//   - "development": Zap's built-in development preset.
//
// If the preset is not recognized, it is treated as a path to a JSON configuration file.
//
// The log level does not apply to custom presets.
func NewZapLogger(preset string, level zapcore.Level) (*zap.Logger, error) {
	switch preset {
	case "console", "":
		return NewProductionConsoleZapLogger(level, false, false), nil
	case "console-nocolor":
		return NewProductionConsoleZapLogger(level, true, false), nil
	case "console-notime":
		return NewProductionConsoleZapLogger(level, false, true), nil
	case "systemd":
		return NewProductionConsoleZapLogger(level, true, true), nil
	}

	var cfg zap.Config
	switch preset {
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.Level.SetLevel(level)
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level.SetLevel(level)
	default:
		if err := jsoncfg.Open(preset, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load zap logger config from file %q: %w", preset, err)
		}
	}
	return cfg.Build()
}

// NewProductionConsoleZapLogger creates a new [*zap.Logger] with reasonable defaults for production console environments.
func NewProductionConsoleZapLogger(level zapcore.Level, noColor, noTime bool) *zap.Logger {
	ec := zapcore.EncoderConfig{
		TimeKey:          "T",
		LevelKey:         "L",
		NameKey:          "N",
		CallerKey:        zapcore.OmitKey,
		FunctionKey:      zapcore.OmitKey,
		MessageKey:       "M",
		StacktraceKey:    "S",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalColorLevelEncoder,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	if noColor {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if noTime {
		ec.TimeKey = zapcore.OmitKey
		ec.EncodeTime = nil
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

// ZapLevel converts a [slog.Level] to the closest [zapcore.Level] at or below it.
func ZapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// zapHandler is a [slog.Handler] that writes records to a [zapcore.Core].
type zapHandler struct {
	core zapcore.Core
}

// NewZapHandler returns a [slog.Handler] that writes records to core.
//
// Groups become zap namespaces.
func NewZapHandler(core zapcore.Core) slog.Handler {
	return &zapHandler{core: core}
}

// Enabled implements [slog.Handler.Enabled].
func (h *zapHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.core.Enabled(ZapLevel(level))
}

// Handle implements [slog.Handler.Handle].
func (h *zapHandler) Handle(_ context.Context, r slog.Record) error {
	ent := zapcore.Entry{
		Level:   ZapLevel(r.Level),
		Time:    r.Time,
		Message: r.Message,
	}
	ce := h.core.Check(ent, nil)
	if ce == nil {
		return nil
	}

	fields := make([]zapcore.Field, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		fields = appendZapFields(fields, a)
		return true
	})
	ce.Write(fields...)
	return nil
}

// WithAttrs implements [slog.Handler.WithAttrs].
func (h *zapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make([]zapcore.Field, 0, len(attrs))
	for _, a := range attrs {
		fields = appendZapFields(fields, a)
	}
	return &zapHandler{core: h.core.With(fields)}
}

// WithGroup implements [slog.Handler.WithGroup].
func (h *zapHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &zapHandler{core: h.core.With([]zapcore.Field{zap.Namespace(name)})}
}

func appendZapFields(fields []zapcore.Field, a slog.Attr) []zapcore.Field {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return fields
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return append(fields, zap.String(a.Key, a.Value.String()))
	case slog.KindInt64:
		return append(fields, zap.Int64(a.Key, a.Value.Int64()))
	case slog.KindUint64:
		return append(fields, zap.Uint64(a.Key, a.Value.Uint64()))
	case slog.KindFloat64:
		return append(fields, zap.Float64(a.Key, a.Value.Float64()))
	case slog.KindBool:
		return append(fields, zap.Bool(a.Key, a.Value.Bool()))
	case slog.KindDuration:
		return append(fields, zap.Duration(a.Key, a.Value.Duration()))
	case slog.KindTime:
		return append(fields, zap.Time(a.Key, a.Value.Time()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		if len(attrs) == 0 {
			return fields
		}
		groupFields := make([]zapcore.Field, 0, len(attrs))
		for _, ga := range attrs {
			groupFields = appendZapFields(groupFields, ga)
		}
		if a.Key == "" {
			return append(fields, groupFields...)
		}
		return append(fields, zap.Dict(a.Key, groupFields...))
	default:
		if err, ok := a.Value.Any().(error); ok {
			return append(fields, zap.NamedError(a.Key, err))
		}
		return append(fields, zap.Any(a.Key, a.Value.Any()))
	}
}
