package logger

import corelogger "github.com/groengemak/solgrid/core/logger"

// Alias the core interface for convenience.
// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger mirrors the core no-op implementation.
type NopLogger = corelogger.NopLogger

// New returns a Logger for the given component. The environment is detected
// via the APP_ENV variable.
func New(component string) Logger {
	return NewZerologLogger(component)
}
