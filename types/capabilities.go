package types

// Capability kinds published under hal/capability/<kind>/<n>/...
const (
	KindTDS         = "tds"
	KindVoltage     = "voltage"
	KindTemperature = "temperature"
	KindPH          = "ph"
)

// Measurement metadata carried in the retained info document.
const (
	UnitPPM     = "ppm"
	UnitVolt    = "V"
	UnitCelsius = "°C"
	UnitPH      = "pH"

	DeviceClassWater   = "water"
	DeviceClassVoltage = "voltage"
	DeviceClassPH      = "ph"

	StateClassMeasurement = "measurement"
)

// Info is the retained document on hal/capability/<kind>/<n>/info.
type Info struct {
	SchemaVersion    int    `json:"schema_version"`
	Driver           string `json:"driver"`
	Name             string `json:"name,omitempty"`
	Pin              int    `json:"pin"`
	Unit             string `json:"unit"`
	DeviceClass      string `json:"device_class,omitempty"`
	StateClass       string `json:"state_class,omitempty"`
	AccuracyDecimals int    `json:"accuracy_decimals"`
}
