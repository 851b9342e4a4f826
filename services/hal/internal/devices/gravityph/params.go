package gravityph

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	drv "tdsnode/drivers/gravityph"
	"tdsnode/types"
)

// Params is the params block of a gravity_ph device.
type Params struct {
	Pin               *int             `json:"pin" jsonschema:"minimum=0,description=ADC channel the probe is wired to"`
	UpdateInterval    time.Duration    `json:"update_interval,omitempty" jsonschema:"description=polling period (e.g. 15s)"`
	Name              string           `json:"name,omitempty"`
	UnitOfMeasurement string           `json:"unit_of_measurement,omitempty" jsonschema:"enum=pH"`
	ReferenceVoltage  float64          `json:"reference_voltage,omitempty" jsonschema:"minimum=0,exclusiveMinimum=true,maximum=5.5"`
	ResolutionBits    int              `json:"resolution_bits,omitempty" jsonschema:"minimum=8,maximum=16"`
	SampleTimeout     time.Duration    `json:"sample_timeout,omitempty"`
	Calibration       *drv.Calibration `json:"calibration,omitempty" jsonschema:"description=initial buffer points; a stored calibration replaces them"`
}

func (p Params) driverConfig() drv.Config {
	pin := 0
	if p.Pin != nil {
		pin = *p.Pin
	}
	return drv.Config{
		Pin:              pin,
		UpdateInterval:   p.UpdateInterval,
		ReferenceVoltage: p.ReferenceVoltage,
		ResolutionBits:   p.ResolutionBits,
		SampleTimeout:    p.SampleTimeout,
	}
}

func (p Params) Validate(path string) error {
	var errs error
	if p.Pin == nil {
		errs = utils.NewConfigValidationFieldRequiredError(path, "pin")
	}
	errs = multierr.Append(errs, p.driverConfig().WithDefaults().Validate(path))
	if p.UnitOfMeasurement != "" && p.UnitOfMeasurement != types.UnitPH {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path,
			errors.Errorf("unit_of_measurement is fixed to %q, got %q", types.UnitPH, p.UnitOfMeasurement)))
	}
	if p.Calibration != nil {
		if err := p.Calibration.Validate(); err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.Wrap(err, "calibration")))
		}
	}
	return errs
}
