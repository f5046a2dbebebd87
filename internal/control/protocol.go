package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/meshlink/internal/relay"
	"github.com/nerrad567/meshlink/internal/tasks"
)

// Request types and actions.
const (
	TypeConfig = "config"
	TypeRelay  = "relay"

	ActionRead  = "read"
	ActionWrite = "write"
)

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Messages reported to the dashboard.
const (
	MsgParseError    = "Error parsing JSON"
	MsgUnknownAction = "Unknown Action"
	MsgUnknownType   = "Unknown Type"
	MsgTaskNotFound  = "Task not found"
	MsgRelayNotFound = "Relay not found"
	MsgInvalidState  = "Invalid state"
	MsgInternal      = "Internal error"
)

// Request is an inbound control message.
type Request struct {
	Action         string          `json:"action" validate:"required,max=16"`
	SenderClientID string          `json:"sender_client_id" validate:"required,max=64"`
	Type           string          `json:"type" validate:"required,max=16"`
	Payload        json.RawMessage `json:"payload"`
}

// HasPayload reports whether the request carries a non-null payload.
func (r Request) HasPayload() bool {
	return len(r.Payload) > 0 && string(r.Payload) != "null"
}

// Firmware identifies the running build in config responses.
type Firmware struct {
	Version string `json:"version"`
}

// Response is an outbound control message, before enveloping.
type Response struct {
	Type           string    `json:"type"`
	Action         string    `json:"action"`
	SenderClientID string    `json:"sender_client_id"`
	Firmware       *Firmware `json:"firmware,omitempty"`
	Payload        any       `json:"payload"`
}

// Status is the payload of a failed request, or one item of a batch result.
type Status struct {
	TaskID  *int   `json:"task_id,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// errorStatus renders err as a dashboard error payload.
func errorStatus(err error) Status {
	return Status{Status: StatusError, Message: messageFor(err)}
}

func messageFor(err error) string {
	switch {
	case errors.Is(err, ErrMalformedRequest):
		return MsgParseError
	case errors.Is(err, ErrUnknownAction):
		return MsgUnknownAction
	case errors.Is(err, ErrUnknownType):
		return MsgUnknownType
	case errors.Is(err, tasks.ErrUnknownTask):
		return MsgTaskNotFound
	case errors.Is(err, relay.ErrUnknownRelay):
		return MsgRelayNotFound
	case errors.Is(err, relay.ErrInvalidState):
		return MsgInvalidState
	default:
		return MsgInternal
	}
}

var validate = validator.New()

// DecodeRequest parses and validates a control message.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if err := validate.Struct(req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	return req, nil
}

// Flag is a 0/1 value that also accepts JSON booleans.
type Flag int

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	switch s := string(data); s {
	case "true":
		*f = 1
	case "false", "null":
		*f = 0
	default:
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("flag %s: %w", s, err)
		}
		*f = Flag(n)
	}
	return nil
}
