// Package logger builds the process-wide zap logger. Besides stdout it
// tees warn/error and info streams into per-level files under the log
// directory; the scheduler's rotation job archives those daily.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileNames lists the per-level log files the rotation job archives.
var FileNames = []string{"info.log", "warn.log", "error.log"}

// New builds a structured zap.Logger at the provided level (debug, info,
// warn, error) writing to stdout and per-level files in dir. An empty dir
// disables file output.
func New(level, dir string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl),
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		fileCores, err := perLevelCores(enc, dir)
		if err != nil {
			return nil, err
		}
		cores = append(cores, fileCores...)
	}

	log := zap.New(zapcore.NewTee(cores...))
	zap.ReplaceGlobals(log)
	return log, nil
}

func perLevelCores(enc zapcore.Encoder, dir string) ([]zapcore.Core, error) {
	levels := map[string]zap.LevelEnablerFunc{
		"info.log": func(l zapcore.Level) bool {
			return l == zapcore.InfoLevel || l == zapcore.DebugLevel
		},
		"warn.log": func(l zapcore.Level) bool {
			return l == zapcore.WarnLevel
		},
		"error.log": func(l zapcore.Level) bool {
			return l >= zapcore.ErrorLevel
		},
	}

	var cores []zapcore.Core
	for name, enabler := range levels {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(f), enabler))
	}
	return cores, nil
}
