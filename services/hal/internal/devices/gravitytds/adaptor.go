package gravitytds

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	drv "tdsnode/drivers/gravitytds"
	"tdsnode/errcode"
	"tdsnode/services/hal/internal/consts"
	"tdsnode/services/hal/internal/halcore"
	"tdsnode/services/hal/internal/util"
	"tdsnode/types"
)

const (
	driverName      = "gravity_tds"
	voltageDecimals = 3
)

// Adaptor publishes a probe as two capabilities: "tds" and its raw "voltage".
type Adaptor struct {
	id      string
	name    string
	pin     int
	dev     *drv.Driver
	temp    *busTemperature // nil unless following the bus
	filters pipeline
	log     *zap.SugaredLogger

	mu     sync.Mutex
	sample halcore.Sample // filled by the driver sink during Collect
}

var _ halcore.Adaptor = (*Adaptor)(nil)

func (a *Adaptor) ID() string { return a.id }

func (a *Adaptor) Capabilities() []halcore.CapInfo {
	return []halcore.CapInfo{
		{Kind: types.KindTDS, Info: types.Info{
			SchemaVersion:    1,
			Driver:           driverName,
			Name:             a.name,
			Pin:              a.pin,
			Unit:             a.dev.Unit(),
			DeviceClass:      a.dev.DeviceClass(),
			StateClass:       a.dev.StateClass(),
			AccuracyDecimals: a.dev.AccuracyDecimals(),
		}},
		{Kind: types.KindVoltage, Info: types.Info{
			SchemaVersion:    1,
			Driver:           driverName,
			Name:             a.name,
			Pin:              a.pin,
			Unit:             types.UnitVolt,
			DeviceClass:      types.DeviceClassVoltage,
			StateClass:       types.StateClassMeasurement,
			AccuracyDecimals: voltageDecimals,
		}},
	}
}

// Trigger is a no-op: the probe has no conversion to start.
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

// onReading is the driver sink.
func (a *Adaptor) onReading(r drv.Reading) {
	tds := types.TDSValue{
		Valid:   r.Valid,
		Voltage: round(r.Voltage, voltageDecimals),
		TempC:   r.TemperatureC,
		TS:      r.Timestamp,
	}
	if r.Valid {
		if ppm, ok := a.filters.apply(r.PPM); ok {
			v := round(ppm, a.dev.AccuracyDecimals())
			tds.PPM = &v
		} else {
			tds.Valid = false
			a.log.Debugw("reading held back by filters", "ppm", r.PPM)
		}
	}

	a.mu.Lock()
	a.sample = halcore.Sample{
		{Kind: types.KindTDS, Payload: tds, TS: r.Timestamp},
		{Kind: types.KindVoltage, Payload: types.VoltageValue{
			Volts: tds.Voltage,
			Raw:   r.Raw,
			TS:    r.Timestamp,
		}, TS: r.Timestamp},
	}
	a.mu.Unlock()
}

func (a *Adaptor) Control(kind, method string, payload any) (any, error) {
	if kind != types.KindTDS || method != consts.CtrlCalibrate {
		return nil, halcore.ErrUnsupported
	}
	var req types.TDSCalibrate
	switch p := payload.(type) {
	case nil:
	case types.TDSCalibrate:
		req = p
	default:
		if err := util.DecodeParams(p, &req); err != nil {
			return nil, errcode.Wrap(errcode.InvalidPayload, "gravity_tds.calibrate", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*a.dev.Config().SampleTimeout)
	defer cancel()
	k, err := a.dev.Calibrate(ctx, req.BufferPPM)
	if err != nil {
		return nil, err
	}
	return types.TDSCalibrateAck{OK: true, KValue: k}, nil
}

func (a *Adaptor) Close() error {
	if a.temp != nil {
		a.temp.close()
	}
	return a.dev.Shutdown()
}
