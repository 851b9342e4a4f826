package gravityph

import (
	"context"
	"math"
	"sync"
	"time"

	drv "tdsnode/drivers/gravityph"
	"tdsnode/errcode"
	"tdsnode/services/hal/internal/consts"
	"tdsnode/services/hal/internal/halcore"
	"tdsnode/services/hal/internal/util"
	"tdsnode/types"
)

const voltageDecimals = 3

// Adaptor publishes a pH probe as "ph" plus its raw "voltage".
type Adaptor struct {
	id   string
	name string
	pin  int
	dev  *drv.Driver

	mu     sync.Mutex
	sample halcore.Sample
}

var _ halcore.Adaptor = (*Adaptor)(nil)

func (a *Adaptor) ID() string { return a.id }

func (a *Adaptor) Capabilities() []halcore.CapInfo {
	return []halcore.CapInfo{
		{Kind: types.KindPH, Info: types.Info{
			SchemaVersion:    1,
			Driver:           Type,
			Name:             a.name,
			Pin:              a.pin,
			Unit:             a.dev.Unit(),
			DeviceClass:      a.dev.DeviceClass(),
			StateClass:       a.dev.StateClass(),
			AccuracyDecimals: a.dev.AccuracyDecimals(),
		}},
		{Kind: types.KindVoltage, Info: types.Info{
			SchemaVersion:    1,
			Driver:           Type,
			Name:             a.name,
			Pin:              a.pin,
			Unit:             types.UnitVolt,
			DeviceClass:      types.DeviceClassVoltage,
			StateClass:       types.StateClassMeasurement,
			AccuracyDecimals: voltageDecimals,
		}},
	}
}

func (a *Adaptor) Trigger(ctx context.Context) (time.Duration, error) { return 0, nil }

func (a *Adaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	if _, err := a.dev.Poll(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.sample
	a.sample = nil
	return s, nil
}

func (a *Adaptor) onReading(r drv.Reading) {
	v := types.PHValue{Valid: r.Valid, MilliVolts: round(r.MilliVolts, 1), TS: r.Timestamp}
	if r.Valid {
		ph := round(r.PH, a.dev.AccuracyDecimals())
		v.PH = &ph
	}
	a.mu.Lock()
	a.sample = halcore.Sample{
		{Kind: types.KindPH, Payload: v, TS: r.Timestamp},
		{Kind: types.KindVoltage, Payload: types.VoltageValue{
			Volts: round(r.MilliVolts/1000, voltageDecimals),
			Raw:   r.Raw,
			TS:    r.Timestamp,
		}, TS: r.Timestamp},
	}
	a.mu.Unlock()
}

var points = map[string]string{
	consts.CtrlCalibrateAcid:    drv.PointAcid,
	consts.CtrlCalibrateNeutral: drv.PointNeutral,
	consts.CtrlCalibrateBase:    drv.PointBase,
}

func (a *Adaptor) Control(kind, method string, payload any) (any, error) {
	point, ok := points[method]
	if kind != types.KindPH || !ok {
		return nil, halcore.ErrUnsupported
	}
	var req types.PHCalibrate
	switch p := payload.(type) {
	case nil:
	case types.PHCalibrate:
		req = p
	default:
		if err := util.DecodeParams(p, &req); err != nil {
			return nil, errcode.Wrap(errcode.InvalidPayload, "gravity_ph."+method, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*a.dev.Config().SampleTimeout)
	defer cancel()
	pt, err := a.dev.Calibrate(ctx, point, req.BufferPH)
	if err != nil {
		return nil, err
	}
	return types.PHCalibrateAck{OK: true, Point: point, BufferPH: pt.PH, MilliVolts: round(pt.MilliVolts, 1)}, nil
}

func (a *Adaptor) Close() error { return a.dev.Shutdown() }

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
