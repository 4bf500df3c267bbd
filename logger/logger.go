// Package logger builds the leveled, structured *zap.Logger every other
// component takes as a constructor argument, plus a small global instance
// for code that runs before a component-specific logger exists (flag
// parsing, early startup errors).
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the package's own level enum, translated to zapcore.Level at
// construction time so callers (and config files) never need to import
// zapcore directly.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	case Fatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel accepts the usual spellings in all-lower or all-upper case,
// including "warning" as a synonym for Warn, and "" as Info.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return Debug, nil
	case "info", "INFO", "":
		return Info, nil
	case "warn", "WARN", "warning", "WARNING":
		return Warn, nil
	case "error", "ERROR":
		return Error, nil
	case "fatal", "FATAL":
		return Fatal, nil
	default:
		return Info, fmt.Errorf("unknown log level: %s", s)
	}
}

// New builds a console-encoded, colored-level zap.Logger at level,
// writing to stderr so stdout stays free for any diagnostic output a
// command chooses to print.
func New(level Level) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(level.zapLevel()),
	)
	return zap.New(core)
}

var (
	globalLevel  = Level(Info)
	globalLogger = New(globalLevel)
)

// SetGlobalLevel rebuilds the global logger at level. Components that
// already hold a *zap.Logger from Global() before this call keep logging
// at the old level — call this during startup, before components are
// constructed.
func SetGlobalLevel(level Level) {
	globalLevel = level
	globalLogger = New(level)
}

// SetGlobalLevelFromString parses s and calls SetGlobalLevel.
func SetGlobalLevelFromString(s string) error {
	level, err := ParseLevel(s)
	if err != nil {
		return err
	}
	SetGlobalLevel(level)
	return nil
}

// Global returns the current process-wide logger.
func Global() *zap.Logger { return globalLogger }
