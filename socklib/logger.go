package socklib

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// SetLogger installs the logger used by every Conn and Server. A nil logger
// silences the package again.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// Logger returns the package logger, named after the calling component.
func Logger(name string) *zap.Logger {
	return logger.Load().Named(name)
}
