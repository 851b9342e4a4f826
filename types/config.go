package types

import "time"

// TelemetryConfig is published on config/telemetry.
type TelemetryConfig struct {
	MQTT *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt" mapstructure:"mqtt"`
}

type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker" mapstructure:"broker"` // tcp://host:1883
	ClientID string `json:"client_id" yaml:"client_id" mapstructure:"client_id"`
	Username string `json:"username,omitempty" yaml:"username" mapstructure:"username"`
	Password string `json:"-" yaml:"password" mapstructure:"password"`
	Prefix   string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
	QoS      byte   `json:"qos" yaml:"qos" mapstructure:"qos"`
	// Retain marks forwarded state messages retained on the broker.
	Retain bool `json:"retain" yaml:"retain" mapstructure:"retain"`
}

// HTTPConfig is published on config/http.
type HTTPConfig struct {
	Addr           string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`
}
