package halcore

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"tdsnode/errcode"
)

func TestSentinelsCarryCodes(t *testing.T) {
	test.That(t, errcode.Of(ErrUnsupported), test.ShouldEqual, errcode.Unsupported)
	test.That(t, errcode.Of(errors.Wrap(ErrNotReady, "collect")), test.ShouldEqual, errcode.Busy)
	test.That(t, errors.Is(errors.Wrap(ErrNotReady, "collect"), ErrNotReady), test.ShouldBeTrue)
}
