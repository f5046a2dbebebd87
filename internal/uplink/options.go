package uplink

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Defaults for Options fields left at zero.
const (
	defaultQoS            = 1
	defaultConnackTimeout = 1 * time.Second
	defaultAckTimeout     = 5 * time.Second
	defaultProcessWindow  = 500 * time.Millisecond
	defaultLoopInterval   = 200 * time.Millisecond
	defaultBaseDelay      = 500 * time.Millisecond
	defaultMaxDelay       = 5 * time.Second
	defaultMaxAttempts    = 5
	defaultIdleDelay      = 1 * time.Second
	defaultOpsBuffer      = 16

	sessionKeyPrefix = "uplink/session/"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Manager.
type Options struct {
	// ClientID names the broker session; it keys the stored session flag.
	ClientID string

	// Session is the broker transport. Required.
	Session Session

	// Source is the outbound publish queue. Required.
	Source Source

	// Sink receives inbound publishes. Optional; inbound traffic is
	// logged and dropped without it.
	Sink InboundSink

	// Store remembers that a broker session exists. Optional; without it
	// the flag lives in memory for the process lifetime.
	Store KeyValueStore

	// Clock drives every wait. Default: wall clock.
	Clock clock.Clock

	// QoS used for queued publishes and subscriptions. Default: 1.
	QoS byte

	// AtMostOnce forces QoS 0, which the zero value of QoS cannot express.
	AtMostOnce bool

	// MaxInflight is the slot table capacity K. Default: 5.
	MaxInflight int

	// ConnackTimeout bounds the session-open handshake. Default: 1s.
	ConnackTimeout time.Duration

	// AckTimeout bounds subscribe and unsubscribe waits. Default: 5s.
	AckTimeout time.Duration

	// ProcessWindow is how long each loop iteration services inbound
	// events. Default: 500ms.
	ProcessWindow time.Duration

	// LoopInterval is the pause at the end of each iteration. Default: 200ms.
	LoopInterval time.Duration

	// Reconnect backoff: BaseDelay doubling up to MaxDelay, MaxAttempts
	// retries per cycle, IdleDelay between cycles.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	IdleDelay   time.Duration
}

func (o *Options) applyDefaults() {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	switch {
	case o.AtMostOnce:
		o.QoS = 0
	case o.QoS == 0:
		o.QoS = defaultQoS
	}
	if o.MaxInflight <= 0 {
		o.MaxInflight = DefaultMaxInflight
	}
	if o.ConnackTimeout <= 0 {
		o.ConnackTimeout = defaultConnackTimeout
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = defaultAckTimeout
	}
	if o.ProcessWindow <= 0 {
		o.ProcessWindow = defaultProcessWindow
	}
	if o.LoopInterval <= 0 {
		o.LoopInterval = defaultLoopInterval
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultMaxDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.IdleDelay <= 0 {
		o.IdleDelay = defaultIdleDelay
	}
}
