package uplink

import (
	"fmt"
	"math"
	"time"

	"github.com/valyala/fastrand"
)

// Backoff produces limited exponential retry delays for one connect cycle.
//
// The n-th delay is Base*K^n capped at Max, plus a random jitter smaller than
// half of the growth to the next step. Delays therefore never decrease within
// a cycle. After MaxAttempts delays Next reports ErrBackoffExhausted until
// Reset starts a new cycle.
//
// Backoff is not safe for concurrent use; the uplink loop owns it.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	K           float64
	MaxAttempts int

	// Jitter disables randomisation when false.
	Jitter bool

	attempt int
	randn   func(n uint32) uint32
}

// NewBackoff returns a Backoff doubling from base up to max with jitter.
func NewBackoff(base, max time.Duration, maxAttempts int) *Backoff {
	return &Backoff{
		Base:        base,
		Max:         max,
		K:           2,
		MaxAttempts: maxAttempts,
		Jitter:      true,
		randn:       fastrand.Uint32n,
	}
}

// Next returns the delay before the next retry.
func (b *Backoff) Next() (time.Duration, error) {
	if b.MaxAttempts > 0 && b.attempt >= b.MaxAttempts {
		return 0, fmt.Errorf("%w after %d attempts", ErrBackoffExhausted, b.attempt)
	}

	step := b.step(b.attempt)
	delay := step
	if b.Jitter && step < b.Max {
		delay += b.jitter(step)
	}
	if delay > b.Max {
		delay = b.Max
	}

	b.attempt++
	return delay.Round(time.Millisecond), nil
}

// Attempt returns the number of delays handed out in this cycle.
func (b *Backoff) Attempt() int { return b.attempt }

// Reset starts a new cycle.
func (b *Backoff) Reset() { b.attempt = 0 }

func (b *Backoff) step(n int) time.Duration {
	k := b.K
	if k < 1 {
		k = 2
	}
	d := float64(b.Base) * math.Pow(k, float64(n))
	if d >= float64(b.Max) || math.IsInf(d, 0) {
		return b.Max
	}
	return time.Duration(d)
}

// jitter returns a random duration below half the gap to the next step,
// at millisecond resolution.
func (b *Backoff) jitter(step time.Duration) time.Duration {
	k := b.K
	if k < 1 {
		k = 2
	}
	span := time.Duration(float64(step)*(k-1)) / 2
	ms := span / time.Millisecond
	if ms <= 0 || ms > math.MaxUint32 {
		return 0
	}
	randn := b.randn
	if randn == nil {
		randn = fastrand.Uint32n
	}
	return time.Duration(randn(uint32(ms))) * time.Millisecond
}
