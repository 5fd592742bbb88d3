package logger

import "sync/atomic"

var defLogger atomic.Pointer[loggerBox]

// loggerBox lets an interface value be stored in an atomic.Pointer.
type loggerBox struct{ Logger }

func init() {
	defLogger.Store(&loggerBox{NewSlog(InfoLevel, false)})
}

// GetLogger returns the process-wide logger. Components use it when no
// logger is passed through their options.
func GetLogger() Logger {
	return defLogger.Load().Logger
}

// SetLogger replaces the process-wide logger. Components capture the logger
// at construction, so call it during startup.
func SetLogger(l Logger) {
	if l != nil {
		defLogger.Store(&loggerBox{l})
	}
}
