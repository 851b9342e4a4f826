// Package main is the tdsnode daemon and its offline helpers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"tdsnode/bus"
	"tdsnode/services/config"
	"tdsnode/services/hal"
	"tdsnode/services/heartbeat"
	"tdsnode/services/httpapi"
	"tdsnode/services/telemetry"
	"tdsnode/types"
)

const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagLogFile  = "log-file"
	flagPin      = "pin"
	flagVolts    = "volts"
	flagType     = "type"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "tdsnode:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var logger *zap.SugaredLogger

	return &cli.App{
		Name:  "tdsnode",
		Usage: "poll analog TDS probes and publish readings",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE` (built-in default when empty)",
				EnvVars: []string{"TDSNODE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Value: "info",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write rotated JSON logs to `FILE`",
			},
		},
		Before: func(c *cli.Context) error {
			l, err := newLogger(c.String(flagLogLevel), c.String(flagLogFile))
			if err != nil {
				return err
			}
			logger = l.Sugar()
			return nil
		},
		After: func(*cli.Context) error {
			if logger != nil {
				_ = logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start the node",
				Action: func(c *cli.Context) error {
					return runNode(c, logger)
				},
			},
			{
				Name:  "validate",
				Usage: "check the configuration without touching hardware",
				Action: func(c *cli.Context) error {
					f, err := config.Load(c.String(flagConfig))
					if err != nil {
						return err
					}
					if err := f.Validate(); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "ok: %d device(s)\n", len(f.HAL.Devices))
					return nil
				},
			},
			{
				Name:  "schema",
				Usage: "print the JSON schema of a device type's params",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagType, Value: "gravity_tds", Usage: "device `TYPE`"},
				},
				Action: func(c *cli.Context) error {
					return printSchema(c, c.String(flagType))
				},
			},
			{
				Name:  "probe",
				Usage: "take one reading from the first configured device of --type, or from --pin",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagType, Value: "gravity_tds", Usage: "device `TYPE`"},
					&cli.IntFlag{Name: flagPin, Value: -1, Usage: "ADC `CHANNEL` to read"},
					&cli.Float64Flag{Name: flagVolts, Value: -1, Usage: "simulated pin voltage (sim board only)"},
				},
				Action: func(c *cli.Context) error {
					return probe(c, logger)
				},
			},
		},
	}
}

func runNode(c *cli.Context, logger *zap.SugaredLogger) error {
	f, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(32)

	cfgSvc := config.NewConfigService(f, logger.Named("config"))
	cfgSvc.Publish(b.NewConnection("config"))

	hb := &heartbeat.Service{Log: logger.Named("heartbeat")}
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		return err
	}
	go telemetry.Start(ctx, b.NewConnection("telemetry"), logger.Named("telemetry"))

	api := httpapi.New(b.NewConnection("http"), f.HTTP, logger.Named("http"))
	apiErr := make(chan error, 1)
	go func() { apiErr <- api.Run(ctx) }()

	halErr := make(chan error, 1)
	go func() {
		halErr <- hal.Run(ctx, b.NewConnection("hal"), hal.Options{
			Board:    f.Board,
			Log:      logger,
			StateDir: f.StateDir,
		})
	}()

	logger.Infow("tdsnode started", "devices", len(f.HAL.Devices), "board", f.Board.ADC)
	select {
	case err = <-halErr:
	case err = <-apiErr:
	case <-ctx.Done():
		err = <-halErr
	}
	logger.Infow("tdsnode stopped", "error", err)
	return err
}

func printSchema(c *cli.Context, typ string) error {
	v, ok := hal.ParamsSchema(typ)
	if !ok {
		return errors.Errorf("unknown device type %q (have %v)", typ, hal.DeviceTypes())
	}
	r := &jsonschema.Reflector{DoNotReference: true}
	out, err := json.MarshalIndent(r.Reflect(v), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding schema")
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

func probe(c *cli.Context, logger *zap.SugaredLogger) error {
	f, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}
	dev, err := probeDevice(f, c.String(flagType), c.Int(flagPin))
	if err != nil {
		return err
	}

	var adc hal.ADCFactory
	if volts := c.Float64(flagVolts); volts >= 0 {
		if f.Board.ADC != "" && f.Board.ADC != "sim" {
			return errors.New("--volts needs the sim board")
		}
		pin, err := devicePin(dev)
		if err != nil {
			return err
		}
		sim := hal.NewSimADC(pin)
		p, _ := sim.Pin(pin)
		p.SetVolts(volts)
		adc = sim
	} else if adc, err = hal.OpenADC(f.Board, logger); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	sample, err := hal.Probe(ctx, dev, hal.Options{
		ADC:      adc,
		Board:    f.Board,
		Log:      logger,
		StateDir: f.StateDir,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(sample)
}

// probeDevice picks the first configured device of type typ, overriding its
// pin when pin >= 0. Without one it falls back to defaults on pin.
func probeDevice(f *config.File, typ string, pin int) (types.HALDevice, error) {
	for _, d := range f.HAL.Devices {
		if d.Type != typ {
			continue
		}
		if pin < 0 {
			return d, nil
		}
		params := make(map[string]any, len(d.Params)+1)
		for k, v := range d.Params {
			params[k] = v
		}
		params["pin"] = pin
		d.Params = params
		return d, nil
	}
	if pin < 0 {
		return types.HALDevice{}, errors.Errorf("no %s device configured; pass --pin", typ)
	}
	return types.HALDevice{ID: "probe", Type: typ, Params: map[string]any{"pin": pin}}, nil
}

func devicePin(d types.HALDevice) (int, error) {
	switch v := d.Params["pin"].(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	}
	return 0, errors.Errorf("device %s: no pin", d.ID)
}
