package uplink

import (
	"context"
	"fmt"
)

type opKind int

const (
	opSubscribe opKind = iota + 1
	opUnsubscribe
)

func (k opKind) String() string {
	if k == opSubscribe {
		return "subscribe"
	}
	return "unsubscribe"
}

// operation is a subscribe or unsubscribe request travelling from a caller
// to the uplink loop, completed when the matching acknowledgement arrives.
// Several operations may be outstanding at once; the loop keys them by
// packet identifier.
type operation struct {
	kind    opKind
	filters []string

	// internal operations (subscription restore) have no waiter and are
	// not reported back to anyone.
	internal bool

	done    chan struct{}
	granted []byte
	err     error
}

func newOperation(kind opKind, filters []string) *operation {
	return &operation{
		kind:    kind,
		filters: append([]string(nil), filters...),
		done:    make(chan struct{}),
	}
}

// complete resolves the operation. Only the first call has an effect.
func (op *operation) complete(granted []byte, err error) {
	select {
	case <-op.done:
		return
	default:
	}
	op.granted = granted
	op.err = err
	close(op.done)
}

// wait blocks until the operation completes or ctx ends.
func (op *operation) wait(ctx context.Context) error {
	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
		return fmt.Errorf("%s %v: %w", op.kind, op.filters, ctx.Err())
	}
}
