package gravityph

import (
	"math"

	"github.com/pkg/errors"
)

// labNeutralMV is the probe output at pH 7 on a lab bench; the board's
// amplifier divides the electrode swing by three around it.
const labNeutralMV = 1500.0

// Point names accepted by Calibrate.
const (
	PointAcid    = "acid"
	PointNeutral = "neutral"
	PointBase    = "base"
)

// Default buffer solutions for each point.
const (
	DefaultAcidPH    = 4.0
	DefaultNeutralPH = 7.0
	DefaultBasePH    = 10.0
)

// Point pairs a buffer pH with the voltage the probe read in it.
type Point struct {
	PH         float64 `json:"ph"`
	MilliVolts float64 `json:"mv"`
}

func (p Point) set() bool { return p.MilliVolts > 0 }

// Calibration holds the three buffer points. Base is optional; until it is
// recorded the acid/neutral line is extended over the whole range.
type Calibration struct {
	Acid    Point `json:"acid"`
	Neutral Point `json:"neutral"`
	Base    Point `json:"base"`
}

// DefaultCalibration matches a new probe.
func DefaultCalibration() Calibration {
	return Calibration{
		Acid:    Point{PH: DefaultAcidPH, MilliVolts: 2032.44},
		Neutral: Point{PH: DefaultNeutralPH, MilliVolts: labNeutralMV},
	}
}

// PH converts a probe voltage in millivolts.
func (c Calibration) PH(mV float64) (float64, error) {
	other := c.Acid
	if c.Base.set() && mV < c.Neutral.MilliVolts {
		other = c.Base
	}
	n := (c.Neutral.MilliVolts - labNeutralMV) / 3
	o := (other.MilliVolts - labNeutralMV) / 3
	if n == o {
		return 0, errors.New("calibration points share one voltage")
	}
	slope := (c.Neutral.PH - other.PH) / (n - o)
	intercept := c.Neutral.PH - slope*n
	ph := slope*(mV-labNeutralMV)/3 + intercept
	if math.IsNaN(ph) || math.IsInf(ph, 0) {
		return 0, errors.Errorf("no pH for %.1f mV", mV)
	}
	return ph, nil
}

// with returns c with point replaced.
func (c Calibration) with(point string, p Point) (Calibration, error) {
	switch point {
	case PointAcid:
		c.Acid = p
	case PointNeutral:
		c.Neutral = p
	case PointBase:
		c.Base = p
	default:
		return c, errors.Errorf("unknown calibration point %q", point)
	}
	return c, c.Validate()
}

// Validate enforces the electrode's ordering: output falls as pH rises.
func (c Calibration) Validate() error {
	if c.Acid.PH >= c.Neutral.PH {
		return errors.Errorf("acid buffer pH %g must be below neutral %g", c.Acid.PH, c.Neutral.PH)
	}
	if c.Acid.MilliVolts <= c.Neutral.MilliVolts {
		return errors.Errorf("acid reading %.1f mV must be above neutral %.1f mV", c.Acid.MilliVolts, c.Neutral.MilliVolts)
	}
	if !c.Base.set() {
		return nil
	}
	if c.Base.PH <= c.Neutral.PH {
		return errors.Errorf("base buffer pH %g must be above neutral %g", c.Base.PH, c.Neutral.PH)
	}
	if c.Base.MilliVolts >= c.Neutral.MilliVolts {
		return errors.Errorf("base reading %.1f mV must be below neutral %.1f mV", c.Base.MilliVolts, c.Neutral.MilliVolts)
	}
	return nil
}

func defaultBuffer(point string) float64 {
	switch point {
	case PointAcid:
		return DefaultAcidPH
	case PointBase:
		return DefaultBasePH
	default:
		return DefaultNeutralPH
	}
}
