package logging

import "go.uber.org/zap"

// ServiceLogger adapts a zap logger to the message-plus-key/value surface
// the core service and export worker log through.
type ServiceLogger struct {
	base *zap.SugaredLogger
}

// NewServiceLogger wraps logger for use by the service layer. A nil logger
// is replaced with a nop.
func NewServiceLogger(logger *zap.Logger) *ServiceLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceLogger{base: logger.Sugar()}
}

// Debug logs msg at debug level with alternating key/value args.
func (l *ServiceLogger) Debug(msg string, args ...any) { l.base.Debugw(msg, args...) }

// Info logs msg at info level with alternating key/value args.
func (l *ServiceLogger) Info(msg string, args ...any) { l.base.Infow(msg, args...) }

// Warn logs msg at warn level with alternating key/value args.
func (l *ServiceLogger) Warn(msg string, args ...any) { l.base.Warnw(msg, args...) }

// Error logs msg at error level with alternating key/value args.
func (l *ServiceLogger) Error(msg string, args ...any) { l.base.Errorw(msg, args...) }
