package cron

import (
	robfig "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// zapLogger adapts zap to the robfig/cron Logger interface
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewLogger returns a robfig/cron Logger backed by zap
func NewLogger(logger *zap.Logger) robfig.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return zapLogger{s: logger.Sugar()}
}

func (l zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l zapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
