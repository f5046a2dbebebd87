package tasks

import "errors"

// Domain-specific errors for task configuration.
var (
	// ErrUnknownTask is returned for a task id that was never registered.
	ErrUnknownTask = errors.New("tasks: task not found")

	// ErrDuplicateTask is returned when a task name is registered twice.
	ErrDuplicateTask = errors.New("tasks: task already registered")
)

// Producer errors.
var (
	// ErrUnknownMetric is returned for a metric a reader cannot produce.
	ErrUnknownMetric = errors.New("tasks: unknown metric")

	// ErrSensorFailed is returned when a sensor keeps failing to read.
	ErrSensorFailed = errors.New("tasks: sensor read failed")
)
