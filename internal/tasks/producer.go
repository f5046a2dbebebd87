package tasks

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshlink/internal/message"
)

// Publisher accepts outbound messages. queue.Queue satisfies it.
type Publisher interface {
	Enqueue(msg message.Message) error
}

// Recorder mirrors sensor samples to a time-series store.
type Recorder interface {
	RecordSample(sensorType string, value float64, at time.Time)
}

// Logger defines the logging interface used by producers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// sleep waits d on clk. It returns false when ctx ends first.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
