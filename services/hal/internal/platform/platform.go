// Package platform supplies the board's analog channels.
package platform

import (
	"go.uber.org/zap"

	"tdsnode/errcode"
	"tdsnode/services/hal/internal/halcore"
	"tdsnode/types"
)

// DefaultSimPins mirrors the three ADC-capable pins of an RP2040.
var DefaultSimPins = []int{26, 27, 28}

// OpenADC builds the channel factory named by cfg.ADC.
func OpenADC(cfg types.BoardConfig, log *zap.SugaredLogger) (halcore.ADCFactory, error) {
	switch cfg.ADC {
	case "", "sim":
		pins := cfg.SimPins
		if len(pins) == 0 {
			pins = DefaultSimPins
		}
		log.Infow("using simulated adc", "pins", pins)
		return NewSimADC(pins...), nil
	case "iio":
		if err := initHost(log); err != nil {
			return nil, err
		}
		bits := cfg.Bits
		if bits == 0 {
			bits = 12
		}
		return openIIO(cfg.IIORoot, cfg.IIODevice, bits)
	default:
		return nil, errcode.Wrap(errcode.Unsupported, "platform.open_adc", errcode.InvalidParams)
	}
}
