package gravitytds

import "sync/atomic"

// ReferenceTempC is the temperature conductivity readings are normalised to.
const ReferenceTempC = 25.0

// TemperatureSource supplies the water temperature used for compensation.
// ok is false while no temperature is known.
type TemperatureSource interface {
	Celsius() (c float64, ok bool)
}

// FixedTemperature always reports the same temperature.
type FixedTemperature float64

func (f FixedTemperature) Celsius() (float64, bool) { return float64(f), true }

// FahrenheitToCelsius converts a °F reading.
func FahrenheitToCelsius(f float64) float64 { return (f - 32.0) / 1.8 }

// TrackedTemperature holds the latest value pushed by another sensor.
type TrackedTemperature struct {
	v          atomic.Pointer[float64]
	fahrenheit bool
}

// NewTrackedTemperature returns an empty tracker; set fahrenheit when the
// feeding sensor reports °F.
func NewTrackedTemperature(fahrenheit bool) *TrackedTemperature {
	return &TrackedTemperature{fahrenheit: fahrenheit}
}

// Set records a new reading in the feeding sensor's unit.
func (t *TrackedTemperature) Set(v float64) {
	if t.fahrenheit {
		v = FahrenheitToCelsius(v)
	}
	t.v.Store(&v)
}

func (t *TrackedTemperature) Celsius() (float64, bool) {
	p := t.v.Load()
	if p == nil {
		return 0, false
	}
	return *p, true
}
