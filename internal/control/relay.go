package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/meshlink/internal/relay"
)

// MaxOnTime is the longest pulse a relay write may request.
const MaxOnTime = 24 * time.Hour

// RelayProcessor reads and switches relays.
type RelayProcessor struct {
	bank *relay.Bank
}

// NewRelayProcessor creates a processor over bank.
func NewRelayProcessor(bank *relay.Bank) *RelayProcessor {
	return &RelayProcessor{bank: bank}
}

// Type implements Processor.
func (p *RelayProcessor) Type() string { return TypeRelay }

type relayWrite struct {
	RelayID  *int  `json:"relay_id"`
	State    *int  `json:"state"`
	OnTimeMS int64 `json:"on_time_ms"`
}

// RelayState is the payload of a write response.
type RelayState struct {
	RelayID int `json:"relay_id"`
	State   int `json:"state"`
}

// Process implements Processor.
func (p *RelayProcessor) Process(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case ActionRead:
		return p.bank.List(ctx)

	case ActionWrite:
		if !req.HasPayload() {
			return nil, fmt.Errorf("%w: missing payload", ErrMalformedRequest)
		}
		var body relayWrite
		if err := json.Unmarshal(req.Payload, &body); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		if body.RelayID == nil || body.State == nil {
			return nil, fmt.Errorf("%w: relay_id and state are required", ErrMalformedRequest)
		}
		if body.OnTimeMS < 0 || body.OnTimeMS > MaxOnTime.Milliseconds() {
			return nil, fmt.Errorf("%w: on_time_ms must be between 0 and %d",
				ErrMalformedRequest, MaxOnTime.Milliseconds())
		}
		onTime := time.Duration(body.OnTimeMS) * time.Millisecond
		r, err := p.bank.Set(ctx, *body.RelayID, *body.State, onTime)
		if err != nil {
			return nil, err
		}
		return RelayState{RelayID: r.ID, State: r.State}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}
