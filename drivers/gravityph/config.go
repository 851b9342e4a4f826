package gravityph

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Defaults for a DFRobot Gravity pH V2 probe on a 3.3 V, 12-bit ADC.
const (
	DefaultUpdateInterval   = 15 * time.Second
	DefaultReferenceVoltage = 3.3
	DefaultResolutionBits   = 12
	DefaultSampleTimeout    = 200 * time.Millisecond

	AccuracyDecimals = 2
)

type Config struct {
	Pin              int
	UpdateInterval   time.Duration
	ReferenceVoltage float64
	ResolutionBits   int
	SampleTimeout    time.Duration
}

func (c Config) WithDefaults() Config {
	if c.UpdateInterval == 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.ReferenceVoltage == 0 {
		c.ReferenceVoltage = DefaultReferenceVoltage
	}
	if c.ResolutionBits == 0 {
		c.ResolutionBits = DefaultResolutionBits
	}
	if c.SampleTimeout == 0 {
		c.SampleTimeout = DefaultSampleTimeout
	}
	return c
}

// Validate reports every problem with c, prefixed by path.
func (c Config) Validate(path string) error {
	var errs error
	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.Errorf(format, args...)))
	}
	if c.Pin < 0 {
		fail("pin must be non-negative, got %d", c.Pin)
	}
	if c.UpdateInterval <= 0 {
		fail("update_interval must be positive, got %s", c.UpdateInterval)
	}
	if c.ReferenceVoltage <= 0 || c.ReferenceVoltage > 5.5 {
		fail("reference_voltage must be in (0, 5.5], got %g", c.ReferenceVoltage)
	}
	if c.ResolutionBits < 8 || c.ResolutionBits > 16 {
		fail("resolution_bits must be in [8, 16], got %d", c.ResolutionBits)
	}
	if c.SampleTimeout <= 0 {
		fail("sample_timeout must be positive, got %s", c.SampleTimeout)
	} else if c.UpdateInterval > 0 && c.SampleTimeout >= c.UpdateInterval {
		fail("sample_timeout %s must be shorter than update_interval %s", c.SampleTimeout, c.UpdateInterval)
	}
	return errs
}

func (c Config) maxCount() int32 { return int32(1)<<c.ResolutionBits - 1 }

func (c Config) millivolts(raw int32) float64 {
	return float64(raw) * c.ReferenceVoltage * 1000 / float64(int64(1)<<c.ResolutionBits)
}
