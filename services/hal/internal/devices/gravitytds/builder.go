// Package gravitytds registers the gravity_tds device type with the HAL.
package gravitytds

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	drv "tdsnode/drivers/gravitytds"
	"tdsnode/errcode"
	"tdsnode/services/hal/internal/consts"
	"tdsnode/services/hal/internal/registry"
	"tdsnode/services/hal/internal/util"
)

// Type is the device type name used in config.
const Type = "gravity_tds"

func init() { registry.RegisterBuilder(Type, builder{}) }

type builder struct{}

func decode(params any) (Params, error) {
	var p Params
	if params == nil {
		return p, nil
	}
	if err := util.DecodeParams(params, &p); err != nil {
		return p, errcode.Wrap(errcode.InvalidParams, "gravity_tds.params", err)
	}
	return p, nil
}

func (builder) Validate(path string, params any) error {
	p, err := decode(params)
	if err != nil {
		return err
	}
	return p.Validate(path)
}

func (builder) ParamsSchema() any { return &Params{} }

func (builder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	p, err := decode(in.Params)
	if err != nil {
		return registry.BuildOutput{}, err
	}
	if err := p.Validate(in.DeviceID); err != nil {
		return registry.BuildOutput{}, errcode.Wrap(errcode.InvalidParams, "gravity_tds.build", err)
	}
	if in.ADCs == nil {
		return registry.BuildOutput{}, errcode.Wrap(errcode.PinUnavailable, "gravity_tds.build", errors.New("no adc channels"))
	}

	log := in.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &Adaptor{
		id:      in.DeviceID,
		name:    p.Name,
		pin:     *p.Pin,
		filters: newPipeline(p.Filters),
		log:     log.With("device", in.DeviceID),
	}
	opts := []drv.Option{drv.WithLogger(log), drv.WithSink(a.onReading)}
	if in.Clock != nil {
		opts = append(opts, drv.WithClock(in.Clock))
	}
	if in.StateDir != "" {
		opts = append(opts, drv.WithKStore(newFileKStore(in.StateDir)))
	}
	if c := p.Converter; c != nil && c.Type == "linear" {
		opts = append(opts, drv.WithConverter(drv.Linear{Slope: c.Slope, Offset: c.Offset}))
	}
	if t := p.Temperature; t != nil {
		switch {
		case t.Source == "bus" && in.Conn != nil:
			a.temp = followTemperature(in.Conn, *t.Capability, t.Fahrenheit)
			opts = append(opts, drv.WithTemperature(a.temp))
		case t.Celsius != nil:
			opts = append(opts, drv.WithTemperature(drv.FixedTemperature(*t.Celsius)))
		}
	}

	a.dev = drv.New(in.DeviceID, in.ADCs, opts...)
	if err := a.dev.Initialize(p.driverConfig()); err != nil {
		if a.temp != nil {
			a.temp.close()
		}
		return registry.BuildOutput{}, err
	}
	return registry.BuildOutput{
		Adaptor:     a,
		ResourceID:  consts.ResADC,
		SampleEvery: a.dev.UpdateInterval(),
	}, nil
}
