package common

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logLevel = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	base     atomic.Pointer[zap.Logger] // unfiltered
	logger   atomic.Pointer[zap.Logger] // base behind logLevel
)

func init() {
	SetLogger(newLogger())
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	// levels are applied on top of this core, see leveled
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l.Named("poolish")
}

// leveled filters l by level. A core that is already stricter than level
// is returned as is.
func leveled(l *zap.Logger, level zapcore.LevelEnabler) *zap.Logger {
	core, err := zapcore.NewIncreaseLevelCore(l.Core(), level)
	if err != nil {
		return l
	}
	return l.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
}

// Logger returns the process wide logger. Components capture it at construction.
func Logger() *zap.Logger {
	return logger.Load()
}

// LoggerAt returns a logger with its own level, independent of SetLogLevel.
func LoggerAt(level zapcore.Level) *zap.Logger {
	return leveled(base.Load(), level)
}

// SetLogger replaces the process wide logger and returns the previous one.
func SetLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(leveled(l, logLevel))
	return base.Swap(l)
}

func SetLogLevel(level zapcore.Level) {
	logLevel.SetLevel(level)
}

// DPrintf prints only when the debug level is enabled
func DPrintf(format string, a ...interface{}) {
	Logger().Sugar().Debugf(format, a...)
}
