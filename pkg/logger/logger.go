package logger

import (
	"os"

	"go.uber.org/zap"
)

type Logger interface {
	Info(msg string, values ...any)
	Warn(msg string, values ...any)
	Error(msg string, values ...any)
	Debug(msg string, values ...any)
	Panic(message string, values ...any)
	Fatal(error error, values ...any)
	Printf(format string, args ...interface{})
}

// init installs a bootstrap logger so config loading can log before
// Configure runs.
func init() {
	if err := Configure("", os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL")); err != nil {
		panic(err)
	}
}

// Configure replaces the process logger. Production and staging get JSON
// output; everything else gets the console encoder. Every entry carries the
// service name when one is given.
func Configure(service, env, level string) error {
	var config zap.Config
	switch env {
	case "production", "prod", "staging":
		config = zap.NewProductionConfig()
	default:
		config = zap.NewDevelopmentConfig()
	}
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return err
		}
		config.Level = parsed
	}
	if service != "" {
		config.InitialFields = map[string]interface{}{"service": service}
	}

	_, err := NewLogger(config)
	return err
}

func Info(msg string, values ...any) {
	GetLogger().Info(msg, values...)
}

func Warn(msg string, values ...any) {
	GetLogger().Warn(msg, values...)
}

func Error(msg string, values ...any) {
	GetLogger().Error(msg, values...)
}

func Debug(msg string, values ...any) {
	GetLogger().Debug(msg, values...)
}

func Panic(msg string, values ...any) {
	GetLogger().Panic(msg, values...)
}

func Fatal(error error, values ...any) {
	GetLogger().Fatal(error, values...)
}

// With returns a logger that adds the given key/value pairs to every entry.
func With(values ...any) *ZapLogger {
	return GetLogger().With(values...)
}

// Sync flushes buffered entries; call it before the process exits.
func Sync() {
	_ = GetLogger().log.Sync()
}
