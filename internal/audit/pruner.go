package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
)

// Logger defines the logging interface used by Pruner.
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

// PrunerOptions configures a Pruner.
type PrunerOptions struct {
	Repository Repository

	// Retention is the age beyond which entries are deleted. Required.
	Retention time.Duration

	// Schedule is a standard cron spec or descriptor. Default: "@daily".
	Schedule string

	Clock clock.Clock
}

// Pruner deletes expired entries on a cron schedule.
type Pruner struct {
	opts     PrunerOptions
	schedule cron.Schedule
	logger   Logger
}

// NewPruner creates a Pruner.
func NewPruner(opts PrunerOptions) (*Pruner, error) {
	if opts.Repository == nil || opts.Retention <= 0 {
		return nil, errors.New("audit: repository and positive retention are required")
	}
	if opts.Schedule == "" {
		opts.Schedule = "@daily"
	}
	sched, err := cron.ParseStandard(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("audit: prune schedule %q: %w", opts.Schedule, err)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Pruner{opts: opts, schedule: sched, logger: noopLogger{}}, nil
}

// SetLogger sets the logger.
func (p *Pruner) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// Prune deletes entries older than the retention period.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	return p.opts.Repository.Prune(ctx, p.opts.Clock.Now().Add(-p.opts.Retention))
}

// Run prunes at every schedule activation until ctx ends.
func (p *Pruner) Run(ctx context.Context) error {
	for {
		now := p.opts.Clock.Now()
		next := p.schedule.Next(now)
		if next.IsZero() {
			return nil
		}
		t := p.opts.Clock.Timer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		removed, err := p.Prune(ctx)
		switch {
		case err != nil:
			p.logger.Warn("audit prune failed", "error", err)
		case removed > 0:
			p.logger.Info("audit entries pruned", "removed", removed)
		}
	}
}
