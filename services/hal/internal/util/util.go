package util

import (
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"tdsnode/x/mathx"
)

func ResetTimer(t *clock.Timer, d time.Duration) {
	if d < 0 {
		d = 0
	}
	if !t.Stop() {
		DrainTimer(t)
	}
	t.Reset(d)
}

func DrainTimer(t *clock.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// DecodeParams decodes a loosely typed params map into dst. Durations may be
// given as strings ("60s") or nanoseconds; unknown keys are errors.
func DecodeParams[T any](src any, dst *T) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           dst,
		TagName:          "json",
	})
	if err != nil {
		return errors.Wrap(err, "building params decoder")
	}
	return dec.Decode(src)
}

// AtLeast raises d to floor; longer durations pass unchanged.
func AtLeast(d, floor time.Duration) time.Duration {
	return mathx.Max(d, floor)
}

// WriteFileAtomic replaces path through a temp file in the same directory so
// readers never see a partial document.
func WriteFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating state dir")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "replacing %s", path)
}
