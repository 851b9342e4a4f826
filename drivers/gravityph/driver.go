// Package gravityph drives a DFRobot Gravity analog pH probe (V2 board).
//
// Like gravitytds it owns one ADC channel and is polled by a host scheduler.
// Readings are converted through a three point buffer calibration that can be
// re-recorded at run time and persisted through a CalibrationStore.
package gravityph

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/analog"

	"tdsnode/errcode"
	"tdsnode/types"
)

var (
	ErrNotInitialized     error = errcode.NotInitialized
	ErrAlreadyInitialized error = errcode.Initialized
)

// ADCChannels hands out exclusive ownership of analog pins.
type ADCChannels interface {
	ClaimADC(owner string, pin int) (analog.PinADC, error)
	ReleaseADC(owner string, pin int)
}

// Reading is one converted sample. PH is meaningful only when Valid.
type Reading struct {
	Raw        int32
	MilliVolts float64
	PH         float64
	Valid      bool
	Timestamp  time.Time
}

type Sink func(Reading)

// CalibrationStore persists calibrations per device.
type CalibrationStore interface {
	LoadCalibration(id string) (Calibration, bool, error)
	SaveCalibration(id string, c Calibration) error
}

type Option func(*Driver)

func WithLogger(l *zap.SugaredLogger) Option { return func(d *Driver) { d.log = l } }
func WithClock(c clock.Clock) Option         { return func(d *Driver) { d.clk = c } }
func WithStore(s CalibrationStore) Option    { return func(d *Driver) { d.store = s } }
func WithSink(s Sink) Option                 { return func(d *Driver) { d.sink = s } }
func WithCalibration(c Calibration) Option   { return func(d *Driver) { d.cal = c } }

type Driver struct {
	id       string
	channels ADCChannels
	log      *zap.SugaredLogger
	clk      clock.Clock
	store    CalibrationStore
	sink     Sink

	mu       sync.Mutex
	cfg      Config
	cal      Calibration
	pin      analog.PinADC
	inflight atomic.Bool
}

func New(id string, channels ADCChannels, opts ...Option) *Driver {
	d := &Driver{
		id:       id,
		channels: channels,
		log:      zap.NewNop().Sugar(),
		clk:      clock.New(),
		cal:      DefaultCalibration(),
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.With("device", id)
	return d
}

func (d *Driver) ID() string { return d.id }

// Initialize validates cfg, claims the channel and loads any stored calibration.
func (d *Driver) Initialize(cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(d.id); err != nil {
		return errcode.Wrap(errcode.InvalidParams, "gravityph.initialize", err)
	}
	if err := d.cal.Validate(); err != nil {
		return errcode.Wrap(errcode.InvalidParams, "gravityph.initialize", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pin != nil {
		return ErrAlreadyInitialized
	}
	pin, err := d.channels.ClaimADC(d.id, cfg.Pin)
	if err != nil {
		return errcode.Wrap(errcode.PinUnavailable, "gravityph.initialize", err)
	}
	if d.store != nil {
		c, ok, err := d.store.LoadCalibration(d.id)
		if err == nil && ok {
			err = c.Validate()
		}
		switch {
		case err != nil:
			d.log.Warnw("stored calibration unusable; using configured points", "error", err)
		case ok:
			d.cal = c
		}
	}

	d.cfg = cfg
	d.pin = pin
	d.log.Infow("ph probe ready", "pin", cfg.Pin, "acid_mv", d.cal.Acid.MilliVolts,
		"neutral_mv", d.cal.Neutral.MilliVolts, "base_mv", d.cal.Base.MilliVolts)
	return nil
}

func (d *Driver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pin == nil {
		return nil
	}
	d.channels.ReleaseADC(d.id, d.cfg.Pin)
	d.pin = nil
	return nil
}

func (d *Driver) Poll(ctx context.Context) (Reading, error) {
	d.mu.Lock()
	r, err := d.pollLocked(ctx)
	sink := d.sink
	d.mu.Unlock()

	if err != nil {
		d.log.Warnw("ph poll failed", "code", errcode.Of(err), "error", err)
		return Reading{}, err
	}
	if sink != nil {
		sink(r)
	}
	return r, nil
}

func (d *Driver) pollLocked(ctx context.Context) (Reading, error) {
	if d.pin == nil {
		return Reading{}, ErrNotInitialized
	}
	raw, err := d.sampleLocked(ctx)
	if err != nil {
		return Reading{}, err
	}
	r := Reading{Raw: raw, MilliVolts: d.cfg.millivolts(raw), Timestamp: d.clk.Now()}
	if raw < 0 || raw > d.cfg.maxCount() {
		d.log.Debugw("raw sample out of range", "raw", raw)
		return r, nil
	}
	ph, err := d.cal.PH(r.MilliVolts)
	if err != nil || ph < 0 || ph > 14 {
		d.log.Debugw("no ph for sample", "mv", r.MilliVolts, "ph", ph, "error", err)
		return r, nil
	}
	r.PH, r.Valid = ph, true
	return r, nil
}

// sampleLocked performs one bounded read; a stuck read blocks later samples
// until it returns.
func (d *Driver) sampleLocked(ctx context.Context) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !d.inflight.CompareAndSwap(false, true) {
		return 0, errcode.Wrap(errcode.SampleTimeout, "gravityph.sample", errors.New("previous sample still outstanding"))
	}

	type result struct {
		s   analog.Sample
		err error
	}
	done := make(chan result, 1)
	pin := d.pin
	go func() {
		s, err := pin.Read()
		d.inflight.Store(false)
		done <- result{s, err}
	}()

	t := d.clk.Timer(d.cfg.SampleTimeout)
	defer t.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			return 0, errors.Wrapf(r.err, "reading adc pin %d", d.cfg.Pin)
		}
		return r.s.Raw, nil
	case <-t.C:
		return 0, errcode.Wrap(errcode.SampleTimeout, "gravityph.sample",
			errors.Errorf("no response from pin %d within %s", d.cfg.Pin, d.cfg.SampleTimeout))
	case <-ctx.Done():
		return 0, errors.Wrapf(ctx.Err(), "reading adc pin %d", d.cfg.Pin)
	}
}

// Calibrate records the probe voltage in a buffer of bufferPH as point
// (acid, neutral or base). Zero bufferPH selects the point's usual buffer.
// The new calibration applies at once and is persisted when a store is set.
func (d *Driver) Calibrate(ctx context.Context, point string, bufferPH float64) (Point, error) {
	if bufferPH == 0 {
		bufferPH = defaultBuffer(point)
	}
	if bufferPH <= 0 || bufferPH >= 14 {
		return Point{}, errcode.Wrap(errcode.Rejected, "gravityph.calibrate", errors.Errorf("buffer pH %g outside (0, 14)", bufferPH))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pin == nil {
		return Point{}, ErrNotInitialized
	}
	raw, err := d.sampleLocked(ctx)
	if err != nil {
		return Point{}, err
	}
	p := Point{PH: bufferPH, MilliVolts: d.cfg.millivolts(raw)}
	cal, err := d.cal.with(point, p)
	if err != nil {
		return Point{}, errcode.Wrap(errcode.Rejected, "gravityph.calibrate", err)
	}
	d.cal = cal
	d.log.Infow("ph probe calibrated", "point", point, "buffer_ph", bufferPH, "mv", p.MilliVolts)

	if d.store != nil {
		if err := d.store.SaveCalibration(d.id, cal); err != nil {
			return p, errors.Wrap(err, "persisting calibration")
		}
	}
	return p, nil
}

func (d *Driver) Calibration() Calibration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal
}

func (d *Driver) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *Driver) UpdateInterval() time.Duration { return d.Config().UpdateInterval }
func (d *Driver) Unit() string                  { return types.UnitPH }
func (d *Driver) AccuracyDecimals() int         { return AccuracyDecimals }
func (d *Driver) DeviceClass() string           { return types.DeviceClassPH }
func (d *Driver) StateClass() string            { return types.StateClassMeasurement }
