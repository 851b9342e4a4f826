package errcode

import "github.com/pkg/errors"

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK                Code = "ok"
	Busy              Code = "busy"
	Unsupported       Code = "unsupported"
	InvalidParams     Code = "invalid_params"
	InvalidPayload    Code = "invalid_payload"
	InvalidPeriod     Code = "invalid_period"
	InvalidTopic      Code = "invalid_topic"
	UnknownCapability Code = "unknown_capability"
	HALNotReady       Code = "hal_not_ready"

	UnknownPin     Code = "unknown_pin"
	PinInUse       Code = "pin_in_use"
	PinUnavailable Code = "pin_unavailable"
	SampleTimeout  Code = "sample_timeout"
	NotInitialized Code = "not_initialized"
	Initialized    Code = "already_initialized"
	OutOfRange     Code = "out_of_range"
	Rejected       Code = "calibration_rejected"

	Error Code = "error" // generic fallback
)

// E keeps an operation name, a message and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.X) match an *E carrying X.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap returns an *E with code c around err.
func Wrap(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}
