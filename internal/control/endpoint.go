package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshlink/internal/audit"
	"github.com/nerrad567/meshlink/internal/message"
	"github.com/nerrad567/meshlink/internal/subscription"
)

// Processor executes one request type.
type Processor interface {
	// Type is the request type the processor accepts.
	Type() string

	// Process returns the response payload. Errors are reported to the
	// dashboard as status payloads.
	Process(ctx context.Context, req Request) (any, error)
}

// Publisher accepts outbound messages.
type Publisher interface {
	Enqueue(msg message.Message) error
}

// AuditLog records write requests.
type AuditLog interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// Logger defines the logging interface used by Endpoint.
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

// EndpointOptions configures an Endpoint.
type EndpointOptions struct {
	// ClientID is this node's broker client id. Requests carrying it as
	// sender are ignored.
	ClientID string

	// ResponseTopic receives every response.
	ResponseTopic string

	// Processor handles accepted requests. Required.
	Processor Processor

	// Output receives responses. Required.
	Output Publisher

	// Envelope stamps responses with the node identity.
	Envelope message.Envelope

	// Firmware, when set, is reported in every response.
	Firmware string

	// Audit, when set, receives every write request handled.
	Audit AuditLog

	// Clock stamps responses. Default: wall clock.
	Clock clock.Clock
}

// Endpoint is a subscription.Handler for one control topic.
type Endpoint struct {
	opts   EndpointOptions
	logger Logger
}

var _ subscription.Handler = (*Endpoint)(nil)

// NewEndpoint creates an Endpoint.
func NewEndpoint(opts EndpointOptions) (*Endpoint, error) {
	if opts.Processor == nil || opts.Output == nil {
		return nil, errors.New("control: processor and output are required")
	}
	if opts.ResponseTopic == "" {
		return nil, errors.New("control: response topic is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Endpoint{opts: opts, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for the endpoint.
func (e *Endpoint) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	e.logger = logger
}

// Handle implements subscription.Handler.
func (e *Endpoint) Handle(ctx context.Context, msg message.Message) error {
	req, err := DecodeRequest(msg.Payload())
	if req.SenderClientID == e.opts.ClientID {
		e.logger.Debug("ignoring own control request", "topic", msg.Topic(), "action", req.Action)
		return nil
	}
	if err != nil {
		e.logger.Warn("malformed control request", "topic", msg.Topic(), "error", err)
		return e.respond(req.Action, errorStatus(err))
	}

	if req.Type != e.opts.Processor.Type() {
		return e.respond(req.Action, errorStatus(fmt.Errorf("%w: %q", ErrUnknownType, req.Type)))
	}

	payload, err := e.opts.Processor.Process(ctx, req)
	if req.Action == ActionWrite {
		e.record(ctx, msg.Topic(), req, err)
	}
	if err != nil {
		e.logger.Warn("control request failed",
			"type", req.Type,
			"action", req.Action,
			"sender", req.SenderClientID,
			"error", err,
		)
		return e.respond(req.Action, errorStatus(err))
	}

	e.logger.Info("control request handled",
		"type", req.Type,
		"action", req.Action,
		"sender", req.SenderClientID,
	)
	return e.respond(req.Action, payload)
}

func (e *Endpoint) record(ctx context.Context, topic string, req Request, procErr error) {
	if e.opts.Audit == nil {
		return
	}
	entry := &audit.Entry{
		Type:      req.Type,
		Action:    req.Action,
		Sender:    req.SenderClientID,
		Topic:     topic,
		Status:    StatusOK,
		Payload:   req.Payload,
		CreatedAt: e.opts.Clock.Now(),
	}
	if procErr != nil {
		entry.Status = StatusError
		entry.Detail = procErr.Error()
	}
	if err := e.opts.Audit.Create(ctx, entry); err != nil {
		e.logger.Warn("recording control write", "type", req.Type, "error", err)
	}
}

func (e *Endpoint) respond(action string, payload any) error {
	resp := Response{
		Type:           e.opts.Processor.Type(),
		Action:         action,
		SenderClientID: e.opts.ClientID,
		Payload:        payload,
	}
	if e.opts.Firmware != "" {
		resp.Firmware = &Firmware{Version: e.opts.Firmware}
	}

	out, err := e.opts.Envelope.Build(e.opts.ResponseTopic, resp, e.opts.Clock.Now())
	if err != nil {
		return fmt.Errorf("building %s response: %w", resp.Type, err)
	}
	if err := e.opts.Output.Enqueue(out); err != nil {
		return fmt.Errorf("queueing %s response: %w", resp.Type, err)
	}
	return nil
}
