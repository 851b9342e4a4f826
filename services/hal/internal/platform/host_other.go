//go:build !linux

package platform

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tdsnode/errcode"
	"tdsnode/services/hal/internal/halcore"
)

func initHost(*zap.SugaredLogger) error { return nil }

func openIIO(string, string, int) (halcore.ADCFactory, error) {
	return nil, errcode.Wrap(errcode.Unsupported, "platform.open_adc", errors.New("iio adc needs linux"))
}
