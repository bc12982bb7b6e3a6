// Package logger builds the zap logger shared by every component.
package logger

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the log level, encoding and destination.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
	// File receives the log output. Empty means stderr.
	File string `yaml:"file"`
}

// DefaultConfig logs info and above to stderr in console format.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console"}
}

func encoderConfig(color bool) zapcore.EncoderConfig {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
	if color {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return encCfg
}

// New returns a logger for cfg. The returned close function releases the log
// file, if any.
func New(cfg Config) (*zap.Logger, func() error, error) {
	var level zapcore.Level
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		return nil, nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}

	out := zapcore.Lock(os.Stderr)
	closeFn := func() error { return nil }
	toFile := cfg.File != ""
	if toFile {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to open log file")
		}
		out = zapcore.AddSync(f)
		closeFn = f.Close
	}

	var enc zapcore.Encoder
	switch cfg.Format {
	case "", "console":
		enc = zapcore.NewConsoleEncoder(encoderConfig(!toFile))
	case "json":
		enc = zapcore.NewJSONEncoder(encoderConfig(false))
	default:
		closeFn()
		return nil, nil, errors.Errorf("invalid log format %q", cfg.Format)
	}

	core := zapcore.NewCore(enc, out, level)
	return zap.New(core, zap.AddCaller()), closeFn, nil
}
