package logging

// Logger is the logging surface used across the app.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// WithField returns a child logger that appends key=value to every line.
	WithField(key string, value interface{}) Logger
}
