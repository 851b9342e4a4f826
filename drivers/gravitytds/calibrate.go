package gravitytds

import (
	"context"

	"github.com/pkg/errors"

	"tdsnode/errcode"
	"tdsnode/x/mathx"
)

// Accepted K range and raw EC ceiling for a buffer calibration.
const (
	minKValue = 0.25
	maxKValue = 4.0
	maxRawEC  = 2000.0
)

// Calibrate derives the probe K value from a sample taken in a buffer
// solution of bufferPPM (zero means DefaultBufferPPM). The new K takes
// effect immediately and is persisted when a KStore is configured.
func (d *Driver) Calibrate(ctx context.Context, bufferPPM float64) (float64, error) {
	if bufferPPM == 0 {
		bufferPPM = DefaultBufferPPM
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pin == nil {
		return 0, ErrNotInitialized
	}
	conv, ok := d.conv.(DFRobot)
	if !ok {
		return 0, errcode.Wrap(errcode.Unsupported, "gravitytds.calibrate", errors.New("converter has no k value"))
	}

	raw, err := d.sampleLocked(ctx)
	if err != nil {
		return 0, err
	}
	v := d.cfg.volts(raw)
	tempC, ok := d.temp.Celsius()
	if !ok {
		tempC = ReferenceTempC
	}
	comp, err := compensation(tempC)
	if err != nil {
		return 0, errcode.Wrap(errcode.Rejected, "gravitytds.calibrate", err)
	}

	rawEC := bufferPPM / conv.Factor * comp
	ec := ECRaw(v)
	if ec <= 0 || !mathx.Inside(rawEC, 0, maxRawEC) {
		return 0, errcode.Wrap(errcode.Rejected, "gravitytds.calibrate",
			errors.Errorf("buffer %.1f ppm at %.3f V is outside the probe range", bufferPPM, v))
	}
	k := rawEC / ec
	if !mathx.Inside(k, minKValue, maxKValue) {
		return 0, errcode.Wrap(errcode.Rejected, "gravitytds.calibrate",
			errors.Errorf("k value %.3f outside (%g, %g)", k, minKValue, maxKValue))
	}

	conv.K = k
	d.conv = conv
	d.cfg.KValue = k
	d.log.Infow("tds probe calibrated", "buffer_ppm", bufferPPM, "volts", v, "temp_c", tempC, "k", k)

	if d.kstore != nil {
		if err := d.kstore.SaveK(d.id, k); err != nil {
			return k, errors.Wrap(err, "persisting k value")
		}
	}
	return k, nil
}
