package gravitytds

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	drv "tdsnode/drivers/gravitytds"
	"tdsnode/types"
)

// Params is the params block of a gravity_tds device.
type Params struct {
	Pin               *int               `json:"pin" jsonschema:"minimum=0,description=ADC channel the probe is wired to"`
	UpdateInterval    time.Duration      `json:"update_interval,omitempty" jsonschema:"description=polling period (e.g. 60s)"`
	Name              string             `json:"name,omitempty"`
	UnitOfMeasurement string             `json:"unit_of_measurement,omitempty" jsonschema:"enum=ppm"`
	ReferenceVoltage  float64            `json:"reference_voltage,omitempty" jsonschema:"minimum=0,exclusiveMinimum=true,maximum=5.5"`
	ResolutionBits    int                `json:"resolution_bits,omitempty" jsonschema:"minimum=8,maximum=16"`
	SampleTimeout     time.Duration      `json:"sample_timeout,omitempty"`
	KValue            float64            `json:"k_value,omitempty"`
	TDSFactor         float64            `json:"tds_factor,omitempty"`
	Temperature       *TemperatureParams `json:"temperature,omitempty"`
	Converter         *ConverterParams   `json:"converter,omitempty"`
	Filters           []FilterParams     `json:"filters,omitempty"`
}

// TemperatureParams selects the compensation temperature.
type TemperatureParams struct {
	Source     string   `json:"source" jsonschema:"enum=fixed,enum=bus"`
	Celsius    *float64 `json:"celsius,omitempty"`
	Capability *int     `json:"capability,omitempty" jsonschema:"description=temperature capability id to follow"`
	Fahrenheit bool     `json:"fahrenheit,omitempty" jsonschema:"description=bare numeric values on the bus are in °F"`
}

// ConverterParams selects the voltage to ppm curve.
type ConverterParams struct {
	Type   string  `json:"type" jsonschema:"enum=dfrobot,enum=linear"`
	Slope  float64 `json:"slope,omitempty"`
	Offset float64 `json:"offset,omitempty"`
}

// FilterParams is one output filter; exactly one field may be set.
type FilterParams struct {
	Median         int          `json:"median,omitempty" jsonschema:"minimum=1"`
	SlidingAverage int          `json:"sliding_average,omitempty" jsonschema:"minimum=1"`
	Offset         *float64     `json:"offset,omitempty"`
	Multiply       *float64     `json:"multiply,omitempty"`
	Clamp          *ClampParams `json:"clamp,omitempty"`
}

type ClampParams struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// driverConfig maps params onto the driver config.
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
		KValue:           p.KValue,
		TDSFactor:        p.TDSFactor,
	}
}

// Validate returns every problem with p.
func (p Params) Validate(path string) error {
	var errs error
	if p.Pin == nil {
		errs = utils.NewConfigValidationFieldRequiredError(path, "pin")
	}
	errs = multierr.Append(errs, p.driverConfig().WithDefaults().Validate(path))
	invalid := func(format string, args ...any) {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.Errorf(format, args...)))
	}

	if p.UnitOfMeasurement != "" && p.UnitOfMeasurement != types.UnitPPM {
		invalid("unit_of_measurement is fixed to %q, got %q", types.UnitPPM, p.UnitOfMeasurement)
	}
	if t := p.Temperature; t != nil {
		switch t.Source {
		case "", "fixed":
		case "bus":
			if t.Capability == nil || *t.Capability < 0 {
				invalid("temperature.capability is required for source bus")
			}
		default:
			invalid("temperature.source must be fixed or bus, got %q", t.Source)
		}
	}
	if c := p.Converter; c != nil {
		switch c.Type {
		case "", "dfrobot":
		case "linear":
			if c.Slope <= 0 {
				invalid("converter.slope must be positive, got %g", c.Slope)
			}
		default:
			invalid("converter.type must be dfrobot or linear, got %q", c.Type)
		}
	}
	for i, f := range p.Filters {
		if err := f.validate(); err != nil {
			invalid("filters.%d: %v", i, err)
		}
	}
	return errs
}

func (f FilterParams) validate() error {
	set := 0
	if f.Median != 0 {
		set++
		if f.Median < 1 {
			return errors.Errorf("median window must be at least 1, got %d", f.Median)
		}
	}
	if f.SlidingAverage != 0 {
		set++
		if f.SlidingAverage < 1 {
			return errors.Errorf("sliding_average window must be at least 1, got %d", f.SlidingAverage)
		}
	}
	if f.Offset != nil {
		set++
	}
	if f.Multiply != nil {
		set++
	}
	if f.Clamp != nil {
		set++
		if f.Clamp.Min == nil && f.Clamp.Max == nil {
			return errors.New("clamp needs min or max")
		}
		if f.Clamp.Min != nil && f.Clamp.Max != nil && *f.Clamp.Min > *f.Clamp.Max {
			return errors.Errorf("clamp min %g above max %g", *f.Clamp.Min, *f.Clamp.Max)
		}
	}
	if set != 1 {
		return errors.Errorf("exactly one filter kind per entry, got %d", set)
	}
	return nil
}
