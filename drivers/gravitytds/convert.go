package gravitytds

import (
	"math"

	"github.com/pkg/errors"
)

// Converter turns a probe voltage into a TDS concentration. Implementations
// must be deterministic and non-decreasing in volts for a fixed temperature.
type Converter interface {
	PPM(volts, tempC float64) (float64, error)
}

var errCompensation = errors.New("temperature outside compensation range")

// compensation is the 2 %/°C conductivity correction to 25 °C.
func compensation(tempC float64) (float64, error) {
	c := 1.0 + 0.02*(tempC-25.0)
	if c <= 0 || math.IsNaN(c) {
		return 0, errors.Wrapf(errCompensation, "%.1f °C", tempC)
	}
	return c, nil
}

// ECRaw is the DFRobot probe response curve (µS/cm before K and temperature).
// Its derivative has no real roots, so it is strictly increasing.
func ECRaw(v float64) float64 {
	return 133.42*v*v*v - 255.86*v*v + 857.39*v
}

// DFRobot is the Gravity TDS meter conversion:
//
//	ec   = ECRaw(v) * K
//	ec25 = ec / (1 + 0.02 (T - 25))
//	ppm  = ec25 * Factor
type DFRobot struct {
	K      float64
	Factor float64
}

func (d DFRobot) PPM(volts, tempC float64) (float64, error) {
	comp, err := compensation(tempC)
	if err != nil {
		return 0, err
	}
	return ECRaw(volts) * d.K / comp * d.Factor, nil
}

// Linear is a straight-line calibration, ppm = Slope*v + Offset, compensated to 25 °C.
type Linear struct {
	Slope  float64
	Offset float64
}

func (l Linear) PPM(volts, tempC float64) (float64, error) {
	comp, err := compensation(tempC)
	if err != nil {
		return 0, err
	}
	return (l.Slope*volts + l.Offset) / comp, nil
}
