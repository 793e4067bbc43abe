// Package logger defines the structured logging interface shared by the
// facilitator's verification, settlement and distribution services. The
// zero-value NoopLogger is the default; the server binary installs the
// zap-backed implementation.
package logger

// Logger records a message with structured fields. Field maps may be nil.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}
