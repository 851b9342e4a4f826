// Package gravityph registers the gravity_ph device type with the HAL.
package gravityph

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	drv "tdsnode/drivers/gravityph"
	"tdsnode/errcode"
	"tdsnode/services/hal/internal/consts"
	"tdsnode/services/hal/internal/registry"
	"tdsnode/services/hal/internal/util"
)

const Type = "gravity_ph"

func init() { registry.RegisterBuilder(Type, builder{}) }

type builder struct{}

func decode(params any) (Params, error) {
	var p Params
	if params == nil {
		return p, nil
	}
	if err := util.DecodeParams(params, &p); err != nil {
		return p, errcode.Wrap(errcode.InvalidParams, "gravity_ph.params", err)
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
		return registry.BuildOutput{}, errcode.Wrap(errcode.InvalidParams, "gravity_ph.build", err)
	}
	if in.ADCs == nil {
		return registry.BuildOutput{}, errcode.Wrap(errcode.PinUnavailable, "gravity_ph.build", errors.New("no adc channels"))
	}

	log := in.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &Adaptor{id: in.DeviceID, name: p.Name, pin: *p.Pin}
	opts := []drv.Option{drv.WithLogger(log), drv.WithSink(a.onReading)}
	if in.Clock != nil {
		opts = append(opts, drv.WithClock(in.Clock))
	}
	if in.StateDir != "" {
		opts = append(opts, drv.WithStore(newFileStore(in.StateDir)))
	}
	if p.Calibration != nil {
		opts = append(opts, drv.WithCalibration(*p.Calibration))
	}

	a.dev = drv.New(in.DeviceID, in.ADCs, opts...)
	if err := a.dev.Initialize(p.driverConfig()); err != nil {
		return registry.BuildOutput{}, err
	}
	return registry.BuildOutput{
		Adaptor:     a,
		ResourceID:  consts.ResADC,
		SampleEvery: a.dev.UpdateInterval(),
	}, nil
}
