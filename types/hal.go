package types

import "time"

// ------------------------
// HAL configuration (published on config/hal)
// ------------------------

type HALConfig struct {
	Devices []HALDevice `json:"devices" yaml:"devices" mapstructure:"devices"`
}

type HALDevice struct {
	ID     string         `json:"id" yaml:"id" mapstructure:"id"`             // logical device id, e.g. "tank_tds"
	Type   string         `json:"type" yaml:"type" mapstructure:"type"`       // e.g. "gravity_tds"
	Params map[string]any `json:"params" yaml:"params" mapstructure:"params"` // device-specific params
}

// ------------------------
// Common HAL state (retained)
// ------------------------

type HALState struct {
	Level  string    `json:"level"`  // "idle", "ready", "stopped", "error"
	Status string    `json:"status"` // freeform short code
	Error  string    `json:"error,omitempty"`
	TS     time.Time `json:"ts"`
}

// Link is the link/state reported for a capability.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type CapabilityState struct {
	Link  Link      `json:"link"`
	TS    time.Time `json:"ts"`
	Error string    `json:"error,omitempty"` // machine-readable short code
}

// ------------------------
// Generic controls and replies
// ------------------------

type ReadNowAck struct {
	OK bool `json:"ok"`
}

type SetRate struct {
	Period time.Duration `json:"period"`
}

type SetRateAck struct {
	OK     bool          `json:"ok"`
	Period time.Duration `json:"period"`
}

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
