// Package hal owns the board's analog channels and publishes every
// configured device as bus capabilities under hal/capability/...
package hal

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.viam.com/utils"

	"tdsnode/bus"
	"tdsnode/services/hal/internal/consts"
	_ "tdsnode/services/hal/internal/devices/gravityph"
	_ "tdsnode/services/hal/internal/devices/gravitytds"
	"tdsnode/services/hal/internal/halcore"
	"tdsnode/services/hal/internal/platform"
	"tdsnode/services/hal/internal/registry"
	"tdsnode/services/hal/internal/resources"
	"tdsnode/services/hal/internal/service"
	"tdsnode/types"
)

// ADCFactory supplies analog pins by number.
type ADCFactory = halcore.ADCFactory

// Sample is the batch of readings one measurement produces.
type Sample = halcore.Sample

// SimADC is the simulated channel bank used when no ADC hardware is configured.
type SimADC = platform.SimADC

func NewSimADC(pins ...int) *SimADC { return platform.NewSimADC(pins...) }

// OpenADC opens the channels board describes.
func OpenADC(board types.BoardConfig, log *zap.SugaredLogger) (ADCFactory, error) {
	return platform.OpenADC(board, log)
}

// Options configure Run. Either ADC or Board selects the channels.
type Options struct {
	ADC      ADCFactory
	Board    types.BoardConfig
	Log      *zap.SugaredLogger
	Clock    clock.Clock
	StateDir string        // calibration persistence; "" disables
	Jitter   time.Duration // added to every polling interval
}

func (o *Options) defaults() error {
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.ADC == nil {
		adc, err := platform.OpenADC(o.Board, o.Log)
		if err != nil {
			return err
		}
		o.ADC = adc
	}
	return nil
}

// Run serves the HAL until ctx is cancelled. Device configuration arrives on
// config/hal; see the package comment for the published topics.
func Run(ctx context.Context, conn *bus.Connection, opts Options) error {
	if err := opts.defaults(); err != nil {
		return errors.Wrap(err, "opening adc")
	}
	s := service.New(conn, resources.NewADCRegistry(opts.ADC), service.Options{
		Clock:    opts.Clock,
		Log:      opts.Log.Named("hal"),
		StateDir: opts.StateDir,
		Jitter:   opts.Jitter,
	})
	s.Run(ctx)
	return nil
}

// DeviceTypes lists the device types this build can drive.
func DeviceTypes() []string { return registry.Types() }

// ParamsSchema returns a value whose type describes typ's params.
func ParamsSchema(typ string) (any, bool) {
	b, ok := registry.Lookup(typ)
	if !ok {
		return nil, false
	}
	s, ok := b.(registry.Schema)
	if !ok {
		return nil, false
	}
	return s.ParamsSchema(), true
}

// ValidateConfig reports every problem in cfg without touching hardware.
func ValidateConfig(cfg types.HALConfig) error {
	var errs error
	ids := map[string]string{}
	pins := map[int]string{}

	for i, d := range cfg.Devices {
		path := fmt.Sprintf("%s.devices.%d", consts.TokHAL, i)
		if d.ID == "" {
			errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "id"))
		} else if prev, dup := ids[d.ID]; dup {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path,
				errors.Errorf("duplicate device id %q (also at %s)", d.ID, prev)))
		} else {
			ids[d.ID] = path
		}

		if d.Type == "" {
			errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "type"))
			continue
		}
		b, ok := registry.Lookup(d.Type)
		if !ok {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path,
				errors.Errorf("unknown device type %q", d.Type)))
			continue
		}
		if v, ok := b.(registry.Validator); ok {
			errs = multierr.Append(errs, v.Validate(path+".params", d.Params))
		}

		var pinned struct {
			Pin *int `mapstructure:"pin"`
		}
		if err := mapstructure.WeakDecode(d.Params, &pinned); err == nil && pinned.Pin != nil {
			if prev, dup := pins[*pinned.Pin]; dup {
				errs = multierr.Append(errs, utils.NewConfigValidationError(path,
					errors.Errorf("pin %d already used by %s", *pinned.Pin, prev)))
			} else {
				pins[*pinned.Pin] = d.ID
			}
		}
	}
	return errs
}

// Probe builds dev with the same options Run would use, takes one
// measurement and releases the pin.
func Probe(ctx context.Context, dev types.HALDevice, opts Options) (Sample, error) {
	b, ok := registry.Lookup(dev.Type)
	if !ok {
		return nil, errors.Errorf("unknown device type %q", dev.Type)
	}
	if err := opts.defaults(); err != nil {
		return nil, errors.Wrap(err, "opening adc")
	}
	out, err := b.Build(registry.BuildInput{
		Ctx:      ctx,
		ADCs:     resources.NewADCRegistry(opts.ADC),
		Log:      opts.Log,
		Clock:    opts.Clock,
		StateDir: opts.StateDir,
		DeviceID: dev.ID,
		Type:     dev.Type,
		Params:   dev.Params,
	})
	if err != nil {
		return nil, err
	}
	defer out.Adaptor.Close()

	after, err := out.Adaptor.Trigger(ctx)
	if err != nil {
		return nil, err
	}
	select {
	case <-time.After(after):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return out.Adaptor.Collect(ctx)
}
