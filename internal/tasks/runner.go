package tasks

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/multierr"
)

// RunFunc is the body of a long-running producer.
type RunFunc func(ctx context.Context) error

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Runner starts producers with their own cancellable contexts so one can be
// stopped without disturbing the others.
type Runner struct {
	mu     sync.Mutex
	tasks  map[string]*running
	failed error
	logger Logger
}

// NewRunner creates an empty Runner.
func NewRunner() *Runner {
	return &Runner{tasks: make(map[string]*running), logger: noopLogger{}}
}

// SetLogger sets the logger.
func (r *Runner) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Start runs fn under name in a child context of ctx.
func (r *Runner) Start(ctx context.Context, name string, fn RunFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &running{cancel: cancel, done: make(chan struct{})}
	r.tasks[name] = t

	go func() {
		defer close(t.done)
		err := fn(taskCtx)
		if err != nil {
			r.logger.Error("task stopped", "task", name, "error", err)
		} else {
			r.logger.Debug("task stopped", "task", name)
		}
		r.mu.Lock()
		t.err = err
		r.mu.Unlock()
	}()

	r.logger.Info("task started", "task", name)
	return nil
}

// Stop cancels the named task and waits for it. It reports whether the task
// was known.
func (r *Runner) Stop(name string) bool {
	r.mu.Lock()
	t, ok := r.tasks[name]
	delete(r.tasks, name)
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	<-t.done

	r.mu.Lock()
	r.failed = multierr.Append(r.failed, t.err)
	r.mu.Unlock()
	return true
}

// Running returns the names of started tasks that have not returned.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, t := range r.tasks {
		select {
		case <-t.done:
		default:
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// StopAll stops every task and returns their combined errors.
func (r *Runner) StopAll() error {
	r.mu.Lock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		r.Stop(name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.failed
	r.failed = nil
	return err
}
