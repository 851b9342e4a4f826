package halcore

import (
	"context"
	"time"

	"periph.io/x/conn/v3/analog"

	"tdsnode/errcode"
)

// Reading is one datum for one capability kind.
type Reading struct {
	Kind    string // "tds", "voltage"
	Payload any    // JSON-serialisable
	TS      time.Time
}

// Sample is a batch collected together.
type Sample []Reading

// CapInfo describes one capability's retained info document.
type CapInfo struct {
	Kind string
	Info any
}

// Adaptor abstracts a concrete device/driver. Must not own goroutines or the bus.
type Adaptor interface {
	ID() string
	Capabilities() []CapInfo
	// Split-phase measurement cycle.
	Trigger(ctx context.Context) (collectAfter time.Duration, err error)
	Collect(ctx context.Context) (Sample, error)
	// Optional pass-through control for device-specific methods.
	Control(kind, method string, payload any) (result any, err error)
	// Close releases hardware. It is called once, from the HAL loop.
	Close() error
}

// WorkerConfig centralises timings and limits.
type WorkerConfig struct {
	TriggerTimeout time.Duration
	CollectTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
	InputQueueSize int
}

// MeasureReq asks a worker to service an adaptor.
type MeasureReq struct {
	ID      string
	Adaptor Adaptor
	Prio    bool // true for "read_now"
}

// Result emitted by a worker.
type Result struct {
	ID     string
	Sample Sample
	Err    error
}

var (
	// ErrNotReady signals the worker to retry Collect after backoff.
	ErrNotReady error = errcode.Busy
	// ErrUnsupported for adaptor Control pass-through.
	ErrUnsupported error = errcode.Unsupported
)

// ADCFactory supplies analog pins by the board's channel numbering.
type ADCFactory interface {
	ByNumber(n int) (analog.PinADC, bool)
}

// ADCChannels hands out exclusive ownership of analog pins to devices.
type ADCChannels interface {
	ClaimADC(owner string, pin int) (analog.PinADC, error)
	ReleaseADC(owner string, pin int)
}
