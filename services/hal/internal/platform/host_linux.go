//go:build linux

package platform

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/host/v3"

	"tdsnode/services/hal/internal/halcore"
)

func initHost(log *zap.SugaredLogger) error {
	state, err := host.Init()
	if err != nil {
		return errors.Wrap(err, "periph host init")
	}
	for _, d := range state.Loaded {
		log.Debugw("periph driver loaded", "driver", d.String())
	}
	for _, f := range state.Failed {
		log.Warnw("periph driver failed", "driver", f.D.String(), "error", f.Err)
	}
	return nil
}

func openIIO(root, device string, bits int) (halcore.ADCFactory, error) {
	return NewIIOADC(root, device, bits)
}
