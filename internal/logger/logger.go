package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It discards everything until Init is called.
var Log = zap.NewNop()

// Init replaces Log with a JSON logger at the given level.
func Init(level, encoding string) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zap.InfoLevel
	}
	if encoding != "console" {
		encoding = "json"
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(lvl),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    enc,
	}

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	Log = l.With(zap.String("service", "webhook-gateway"))
}

// Named returns a child of Log tagged with a component name.
func Named(component string) *zap.Logger {
	return Log.With(zap.String("component", component))
}
