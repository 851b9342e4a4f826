// Package config loads the node configuration and publishes each top-level
// section as a retained message on config/<key>.
package config

import (
	"context"
	"os"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.viam.com/utils"
	"gopkg.in/yaml.v3"

	"tdsnode/bus"
	"tdsnode/services/hal"
	"tdsnode/types"
)

const (
	serviceName  = "config"
	configPrefix = "config"
)

// File is the whole configuration document.
type File struct {
	HAL       types.HALConfig       `yaml:"hal"`
	Board     types.BoardConfig     `yaml:"board"`
	Telemetry types.TelemetryConfig `yaml:"telemetry"`
	HTTP      types.HTTPConfig      `yaml:"http"`
	StateDir  string                `yaml:"state_dir"`

	// Extra keeps sections owned by services this package does not know.
	Extra map[string]any `yaml:",inline"`
}

// Load reads path, substitutes ${VAR} references from the environment and
// decodes the result. An empty path loads the built-in default.
func Load(path string) (*File, error) {
	if path == "" {
		return Decode([]byte(defaultConfig))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	f, err := Decode(raw)
	return f, errors.Wrapf(err, "loading %s", path)
}

// Decode parses a YAML (or JSON) document after environment substitution.
func Decode(raw []byte) (*File, error) {
	expanded, err := envsubst.Bytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "substituting environment")
	}
	var f File
	if err := yaml.Unmarshal(expanded, &f); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	return &f, nil
}

// Validate reports every problem in f.
func (f *File) Validate() error {
	errs := hal.ValidateConfig(f.HAL)
	switch f.Board.ADC {
	case "", "sim":
	case "iio":
		if f.Board.IIODevice == "" {
			errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError("board", "iio_device"))
		}
	default:
		errs = multierr.Append(errs, utils.NewConfigValidationError("board",
			errors.Errorf("adc must be sim or iio, got %q", f.Board.ADC)))
	}
	if m := f.Telemetry.MQTT; m != nil {
		if m.Broker == "" {
			errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError("telemetry.mqtt", "broker"))
		}
		if m.QoS > 2 {
			errs = multierr.Append(errs, utils.NewConfigValidationError("telemetry.mqtt",
				errors.Errorf("qos must be 0, 1 or 2, got %d", m.QoS)))
		}
	}
	if f.HTTP.RequestTimeout < 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("http",
			errors.New("request_timeout must not be negative")))
	}
	return errs
}

// sections maps each config/<key> topic to its payload.
func (f *File) sections() map[string]any {
	m := map[string]any{
		"hal":       f.HAL,
		"board":     f.Board,
		"telemetry": f.Telemetry,
		"http":      f.HTTP,
	}
	for k, v := range f.Extra {
		m[k] = v
	}
	return m
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	file *File
	log  *zap.SugaredLogger
}

func NewConfigService(f *File, log *zap.SugaredLogger) *ConfigService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ConfigService{Name: serviceName, file: f, log: log}
}

// Publish sends every section as a retained message.
func (s *ConfigService) Publish(conn *bus.Connection) {
	for k, v := range s.file.sections() {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
		s.log.Debugw("config published", "key", k)
	}
}

// Start publishes the configuration once ctx is live.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if ctx.Err() != nil {
			return
		}
		s.Publish(conn)
	}()
}
