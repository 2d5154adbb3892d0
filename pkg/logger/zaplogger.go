package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

type ZapLogger struct {
	log *zap.SugaredLogger
}

var zapLogger atomic.Pointer[ZapLogger]

// NewLogger builds a logger from config and installs it as the process
// logger used by the package level helpers.
func NewLogger(config zap.Config) (*ZapLogger, error) {
	l, err := config.Build()
	if err != nil {
		return nil, err
	}
	// package level helpers add two frames
	l = l.WithOptions(zap.AddCallerSkip(2))
	z := &ZapLogger{log: l.Sugar()}
	zapLogger.Store(z)
	return z, nil
}

func GetLogger() *ZapLogger {
	z := zapLogger.Load()
	if z == nil {
		panic("logger not initialized")
	}
	return z
}

// With derives a child logger. Methods on the child are called directly, so
// one caller frame is given back.
func (l *ZapLogger) With(values ...any) *ZapLogger {
	return &ZapLogger{log: l.log.With(values...).WithOptions(zap.AddCallerSkip(-1))}
}

func (l *ZapLogger) Panic(message string, values ...any) {
	l.log.Panicw(message, values...)
}

func (l *ZapLogger) Fatal(error error, values ...any) {
	l.log.Fatalw(error.Error(), values...)
}

func (l *ZapLogger) Info(message string, values ...any) {
	l.log.Infow(message, values...)
}

func (l *ZapLogger) Warn(message string, values ...any) {
	l.log.Warnw(message, values...)
}

func (l *ZapLogger) Error(message string, values ...any) {
	l.log.Errorw(message, values...)
}

func (l *ZapLogger) Debug(message string, values ...any) {
	l.log.Debugw(message, values...)
}

func (l *ZapLogger) Printf(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}
