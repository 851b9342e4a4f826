package types

import "time"

// ------------------------
// Water quality values (retained on .../value)
// ------------------------

// TDSValue is one concentration reading. When Valid is false the sample was
// out of range and PPM carries no meaning.
type TDSValue struct {
	PPM     *float64  `json:"ppm,omitempty"` // nil when the sample is no reading
	Valid   bool      `json:"valid"`
	Voltage float64   `json:"voltage"`
	TempC   float64   `json:"temp_c"`
	TS      time.Time `json:"ts"`
}

type VoltageValue struct {
	Volts float64   `json:"volts"`
	Raw   int32     `json:"raw"`
	TS    time.Time `json:"ts"`
}

// TemperatureValue is what a temperature capability publishes; TDS devices
// follow it for compensation.
type TemperatureValue struct {
	Celsius float64   `json:"celsius"`
	TS      time.Time `json:"ts"`
}

// ------------------------
// TDS controls
// ------------------------

// TDSCalibrate asks a probe sitting in a buffer solution to derive its K value.
// Zero BufferPPM means the 707 ppm (1413 µS/cm) reference buffer.
type TDSCalibrate struct {
	BufferPPM float64 `json:"buffer_ppm"`
}

type TDSCalibrateAck struct {
	OK     bool    `json:"ok"`
	KValue float64 `json:"k_value"`
}

// PHValue is one acidity reading; PH is nil when the sample is no reading.
type PHValue struct {
	PH         *float64  `json:"ph,omitempty"`
	Valid      bool      `json:"valid"`
	MilliVolts float64   `json:"mv"`
	TS         time.Time `json:"ts"`
}

// ------------------------
// pH controls (calibrate_acid, calibrate_neutral, calibrate_base)
// ------------------------

// PHCalibrate records the probe voltage in a buffer solution. Zero BufferPH
// means 4.0, 7.0 or 10.0 depending on the point.
type PHCalibrate struct {
	BufferPH float64 `json:"buffer_ph"`
}

type PHCalibrateAck struct {
	OK         bool    `json:"ok"`
	Point      string  `json:"point"`
	BufferPH   float64 `json:"buffer_ph"`
	MilliVolts float64 `json:"mv"`
}
