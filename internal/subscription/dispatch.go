package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"

	"github.com/nerrad567/meshlink/internal/message"
)

// Run dispatches queued messages to their handlers until ctx is cancelled.
//
// Handlers run on a non-blocking worker pool of Options.Workers goroutines.
// When the pool is saturated the message is dropped and counted. Handler
// panics are recovered and counted; the topic keeps being served.
func (r *Registry) Run(ctx context.Context) error {
	pool, err := ants.NewPool(r.opts.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			r.panics.Add(1)
			r.logger.Error("dispatch worker panicked", "panic", p)
		}),
	)
	if err != nil {
		return fmt.Errorf("creating handler pool: %w", err)
	}
	defer func() {
		if err := pool.ReleaseTimeout(r.opts.HandlerTimeout); err != nil {
			r.logger.Warn("handler pool release", "error", err)
		}
	}()

	ticker := r.opts.Clock.Ticker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		r.dispatchAll(ctx, pool)
		select {
		case <-ctx.Done():
			return nil
		case <-r.notify:
		case <-ticker.C:
		}
	}
}

// dispatchAll starts one handler call for every idle topic with a queued message.
func (r *Registry) dispatchAll(ctx context.Context, pool *ants.Pool) {
	for _, e := range r.snapshot() {
		if !e.busy.CompareAndSwap(false, true) {
			continue
		}
		select {
		case msg := <-e.queue:
			err := pool.Submit(func() { r.invoke(ctx, e, msg) })
			if err != nil {
				e.busy.Store(false)
				r.rejected.Add(1)
				if errors.Is(err, ants.ErrPoolOverload) {
					r.logger.Warn("handler pool saturated, message dropped", "topic", e.topic)
				} else {
					r.logger.Error("submitting handler", "topic", e.topic, "error", err)
				}
			}
		default:
			e.busy.Store(false)
		}
	}
}

// invoke runs e's handler for msg and frees the topic for its next message.
func (r *Registry) invoke(ctx context.Context, e *Entry, msg message.Message) {
	defer func() {
		if p := recover(); p != nil {
			r.panics.Add(1)
			r.logger.Error("subscription handler panicked", "topic", e.topic, "panic", p)
		}
		e.busy.Store(false)
		r.signal()
	}()

	hctx, cancel := context.WithTimeout(ctx, r.opts.HandlerTimeout)
	defer cancel()

	if err := e.handler.Handle(hctx, msg); err != nil {
		r.failed.Add(1)
		r.logger.Warn("subscription handler failed", "topic", e.topic, "error", err)
		return
	}
	r.delivered.Add(1)
}
