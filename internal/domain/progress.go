package domain

import "time"

// Level is the severity attached to a progress message.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// ProgressEvent is a notification about a running deployment.
// It is informational only and never drives control flow.
type ProgressEvent struct {
	DeploymentID string
	Message      string
	Level        Level
	Time         time.Time
}

// ProgressSink receives progress events. Implementations must be safe for
// concurrent use since deployments report from their own goroutines.
type ProgressSink func(ProgressEvent)

// SinkFunc adapts a (message, level) callback into a ProgressSink.
func SinkFunc(fn func(message string, level Level)) ProgressSink {
	return func(e ProgressEvent) {
		fn(e.Message, e.Level)
	}
}

// Discard is a ProgressSink that drops every event.
func Discard(ProgressEvent) {}
