package log

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	FATAL
)

var (
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger atomic.Pointer[zap.SugaredLogger]
)

func init() {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	logger.Store(l.Sugar())
}

// SetLogger replaces the logger used by the package. The level set with
// SetLevel only applies to the default logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l.WithOptions(zap.AddCallerSkip(1)).Sugar())
}

func SetLevel(l Level) {
	switch l {
	case DEBUG:
		level.SetLevel(zapcore.DebugLevel)
	case INFO:
		level.SetLevel(zapcore.InfoLevel)
	case WARNING:
		level.SetLevel(zapcore.WarnLevel)
	case ERROR:
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.FatalLevel)
	}
}

// ParseLevel maps a config string onto a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "warning", "WARN", "WARNING":
		return WARNING
	case "error", "ERROR":
		return ERROR
	case "fatal", "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func Debug(format string, args ...interface{}) {
	logger.Load().Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	logger.Load().Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	logger.Load().Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	logger.Load().Errorf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	logger.Load().Fatalf(format, args...)
}
