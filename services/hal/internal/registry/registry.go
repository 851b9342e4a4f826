package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"tdsnode/bus"
	"tdsnode/services/hal/internal/halcore"
)

// BuildInput is passed to a device builder.
type BuildInput struct {
	Ctx      context.Context
	ADCs     halcore.ADCChannels
	Conn     *bus.Connection // for devices that follow other capabilities
	Log      *zap.SugaredLogger
	Clock    clock.Clock
	StateDir string // where devices may persist calibration; "" disables
	DeviceID string
	Type     string
	Params   any
}

// BuildOutput describes a constructed device.
type BuildOutput struct {
	Adaptor     halcore.Adaptor
	ResourceID  string        // shared resource serialising measurements, e.g. "adc"
	SampleEvery time.Duration // 0 if not a periodic producer
}

// Builder creates an adaptor from config and factories.
type Builder interface {
	Build(in BuildInput) (BuildOutput, error)
}

// Validator is implemented by builders that can check params without
// touching hardware. path locates the params in the config document.
type Validator interface {
	Validate(path string, params any) error
}

// Schema is implemented by builders that can describe their params.
type Schema interface {
	ParamsSchema() any
}

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

func RegisterBuilder(deviceType string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := builders[deviceType]; exists {
		panic(fmt.Sprintf("device builder already registered for type %q", deviceType))
	}
	builders[deviceType] = b
}

func Lookup(deviceType string) (Builder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := builders[deviceType]
	return b, ok
}

// Types lists registered device types, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(builders))
	for t := range builders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
