// Package gravitytds drives a DFRobot Gravity analog TDS probe.
//
// The driver owns one ADC channel and has no timer of its own: a host
// scheduler calls Poll at most once per UpdateInterval. Each successful Poll
// samples the channel once, converts counts to volts and volts to ppm, and
// hands the Reading to the registered Sink.
//
//	d := gravitytds.New("tank", channels)
//	if err := d.Initialize(gravitytds.Config{Pin: 26}); err != nil { ... }
//	r, err := d.Poll(ctx)
//	_ = d.Shutdown()
package gravitytds

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/analog"
	"tinygo.org/x/drivers"

	"tdsnode/errcode"
	"tdsnode/types"
)

// Errors returned by the driver. They are errcode values so that the HAL can
// publish them unchanged; match with errors.Is.
var (
	ErrPinUnavailable      error = errcode.PinUnavailable
	ErrSampleTimeout       error = errcode.SampleTimeout
	ErrNotInitialized      error = errcode.NotInitialized
	ErrAlreadyInitialized  error = errcode.Initialized
	ErrCalibrationRejected error = errcode.Rejected
)

// ADCChannels hands out exclusive ownership of analog pins.
type ADCChannels interface {
	ClaimADC(owner string, pin int) (analog.PinADC, error)
	ReleaseADC(owner string, pin int)
}

// Reading is produced fresh on every poll. PPM is meaningful only when Valid.
type Reading struct {
	Raw          int32
	Voltage      float64
	PPM          float64
	Valid        bool
	TemperatureC float64
	Timestamp    time.Time
}

// Sink receives every successful reading.
type Sink func(Reading)

// Measurable describes the published quantity.
type Measurable interface {
	Unit() string
	AccuracyDecimals() int
	DeviceClass() string
	StateClass() string
}

// Pollable is driven by a host scheduler.
type Pollable interface {
	UpdateInterval() time.Duration
	Poll(ctx context.Context) (Reading, error)
}

// VoltageSampling exposes the raw channel voltage.
type VoltageSampling interface {
	SampleVoltage(ctx context.Context) (float64, error)
}

var (
	_ Measurable      = (*Driver)(nil)
	_ Pollable        = (*Driver)(nil)
	_ VoltageSampling = (*Driver)(nil)
	_ drivers.Sensor  = (*Driver)(nil)
)

// KStore persists calibrated K values per device.
type KStore interface {
	LoadK(id string) (float64, bool, error)
	SaveK(id string, k float64) error
}

// Option configures a Driver at construction.
type Option func(*Driver)

func WithLogger(l *zap.SugaredLogger) Option     { return func(d *Driver) { d.log = l } }
func WithClock(c clock.Clock) Option             { return func(d *Driver) { d.clk = c } }
func WithConverter(c Converter) Option           { return func(d *Driver) { d.conv = c } }
func WithTemperature(t TemperatureSource) Option { return func(d *Driver) { d.temp = t } }
func WithKStore(s KStore) Option                 { return func(d *Driver) { d.kstore = s } }
func WithSink(s Sink) Option                     { return func(d *Driver) { d.sink = s } }

type Driver struct {
	id       string
	channels ADCChannels
	log      *zap.SugaredLogger
	clk      clock.Clock
	temp     TemperatureSource
	kstore   KStore
	sink     Sink

	// mu serialises hardware access between Poll, Calibrate and Shutdown.
	mu       sync.Mutex
	cfg      Config
	conv     Converter
	pin      analog.PinADC
	inflight atomic.Bool

	last Reading // refreshed by Update only
}

// New returns an unbound driver for device id.
func New(id string, channels ADCChannels, opts ...Option) *Driver {
	d := &Driver{
		id:       id,
		channels: channels,
		log:      zap.NewNop().Sugar(),
		clk:      clock.New(),
		temp:     FixedTemperature(ReferenceTempC),
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.With("device", id)
	return d
}

func (d *Driver) ID() string { return d.id }

// SetSink replaces the reading sink; nil disables emission.
func (d *Driver) SetSink(s Sink) {
	d.mu.Lock()
	d.sink = s
	d.mu.Unlock()
}

// Initialize validates cfg and claims the ADC channel.
func (d *Driver) Initialize(cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(d.id); err != nil {
		return errcode.Wrap(errcode.InvalidParams, "gravitytds.initialize", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pin != nil {
		return ErrAlreadyInitialized
	}
	pin, err := d.channels.ClaimADC(d.id, cfg.Pin)
	if err != nil {
		return errcode.Wrap(errcode.PinUnavailable, "gravitytds.initialize", err)
	}

	if d.conv == nil {
		d.conv = DFRobot{K: cfg.KValue, Factor: cfg.TDSFactor}
	}
	if d.kstore != nil {
		if k, ok, err := d.kstore.LoadK(d.id); err != nil {
			d.log.Warnw("loading k value failed; using configured value", "error", err)
		} else if ok {
			if conv, isDF := d.conv.(DFRobot); isDF {
				conv.K = k
				d.conv = conv
				cfg.KValue = k
			}
		}
	}

	d.cfg = cfg
	d.pin = pin
	d.log.Infow("tds probe ready", "pin", cfg.Pin, "vref", cfg.ReferenceVoltage,
		"bits", cfg.ResolutionBits, "k", cfg.KValue)
	return nil
}

// Shutdown releases the channel. Calling it again is a no-op.
func (d *Driver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pin == nil {
		return nil
	}
	d.channels.ReleaseADC(d.id, d.cfg.Pin)
	d.pin = nil
	d.log.Debugw("tds probe released", "pin", d.cfg.Pin)
	return nil
}

// Poll takes one sample and converts it. See the package comment.
func (d *Driver) Poll(ctx context.Context) (Reading, error) {
	d.mu.Lock()
	r, err := d.pollLocked(ctx)
	sink := d.sink
	d.mu.Unlock()

	if err != nil {
		d.log.Warnw("tds poll failed", "code", errcode.Of(err), "error", err)
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

	tempC, ok := d.temp.Celsius()
	if !ok {
		tempC = ReferenceTempC
	}
	r := Reading{
		Raw:          raw,
		Voltage:      d.cfg.volts(raw),
		TemperatureC: tempC,
		Timestamp:    d.clk.Now(),
	}
	if raw < 0 || raw > d.cfg.maxCount() {
		d.log.Debugw("raw sample out of range", "raw", raw, "max", d.cfg.maxCount())
		return r, nil
	}
	ppm, err := d.conv.PPM(r.Voltage, tempC)
	switch {
	case err != nil:
		d.log.Debugw("conversion rejected sample", "volts", r.Voltage, "error", err)
	case math.IsNaN(ppm) || math.IsInf(ppm, 0) || ppm < 0:
		d.log.Debugw("conversion out of range", "volts", r.Voltage, "ppm", ppm)
	default:
		r.PPM, r.Valid = ppm, true
	}
	return r, nil
}

// sampleLocked performs one bounded hardware read. A read that outlives the
// timeout is left to finish in the background; until it does, later samples
// fail fast instead of stacking reads on the same channel.
func (d *Driver) sampleLocked(ctx context.Context) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !d.inflight.CompareAndSwap(false, true) {
		return 0, errcode.Wrap(errcode.SampleTimeout, "gravitytds.sample", errors.New("previous sample still outstanding"))
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
		return 0, errcode.Wrap(errcode.SampleTimeout, "gravitytds.sample",
			errors.Errorf("no response from pin %d within %s", d.cfg.Pin, d.cfg.SampleTimeout))
	case <-ctx.Done():
		return 0, errors.Wrapf(ctx.Err(), "reading adc pin %d", d.cfg.Pin)
	}
}

// SampleVoltage reads the channel voltage without converting or emitting.
func (d *Driver) SampleVoltage(ctx context.Context) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pin == nil {
		return 0, ErrNotInitialized
	}
	raw, err := d.sampleLocked(ctx)
	if err != nil {
		return 0, err
	}
	return d.cfg.volts(raw), nil
}

// Update implements drivers.Sensor. Voltage refreshes the cached reading
// returned by Last; other measurements are ignored.
func (d *Driver) Update(which drivers.Measurement) error {
	if which&drivers.Voltage == 0 {
		return nil
	}
	d.mu.Lock()
	timeout := d.cfg.SampleTimeout
	d.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()
	r, err := d.Poll(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.last = r
	d.mu.Unlock()
	return nil
}

// Last returns the reading cached by the most recent Update.
func (d *Driver) Last() Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Config returns the configuration captured by Initialize.
func (d *Driver) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *Driver) UpdateInterval() time.Duration { return d.Config().UpdateInterval }
func (d *Driver) Unit() string                  { return types.UnitPPM }
func (d *Driver) AccuracyDecimals() int         { return AccuracyDecimals }
func (d *Driver) DeviceClass() string           { return types.DeviceClassWater }
func (d *Driver) StateClass() string            { return types.StateClassMeasurement }
