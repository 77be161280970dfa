// Package hslog threads a github.com/pion/logging leveled logger through
// the handshake core.
package hslog

import "github.com/pion/logging"

// Factory builds one named leveled logger per subsystem, same shape pion/dtls
// uses for its own internal loggerFactory.NewLogger("dtls") calls.
type Factory = logging.LoggerFactory

// Logger is the subset of logging.LeveledLogger the handshake core touches.
type Logger = logging.LeveledLogger

// NewDefaultFactory returns a factory that writes to stderr at the
// logging.LogLevelWarn default, same as logging.NewDefaultLoggerFactory().
func NewDefaultFactory() Factory {
	return logging.NewDefaultLoggerFactory()
}

// disabledFactory (built by NewDisabledFactory) is a convenience factory for tests and embedders who don't want
// handshake trace output at all.
type disabledFactory struct{}

type disabledLogger struct{}

func (disabledLogger) Trace(string)          {}
func (disabledLogger) Tracef(string, ...any)  {}
func (disabledLogger) Debug(string)          {}
func (disabledLogger) Debugf(string, ...any)  {}
func (disabledLogger) Info(string)           {}
func (disabledLogger) Infof(string, ...any)   {}
func (disabledLogger) Warn(string)           {}
func (disabledLogger) Warnf(string, ...any)   {}
func (disabledLogger) Error(string)          {}
func (disabledLogger) Errorf(string, ...any)  {}

func (disabledFactory) NewLogger(string) logging.LeveledLogger { return disabledLogger{} }

func NewDisabledFactory() Factory { return disabledFactory{} }
