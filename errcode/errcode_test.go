package errcode

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestCodesAreStableStrings(t *testing.T) {
	cases := map[string]Code{
		"pin_unavailable":      PinUnavailable,
		"sample_timeout":       SampleTimeout,
		"not_initialized":      NotInitialized,
		"already_initialized":  Initialized,
		"calibration_rejected": Rejected,
		"unknown_capability":   UnknownCapability,
	}
	for want, c := range cases {
		test.That(t, c.Error(), test.ShouldEqual, want)
	}
}

func TestOfUnwrapsChains(t *testing.T) {
	test.That(t, Of(nil), test.ShouldEqual, OK)
	test.That(t, Of(SampleTimeout), test.ShouldEqual, SampleTimeout)

	e := Wrap(PinUnavailable, "initialize", PinInUse)
	test.That(t, Of(e), test.ShouldEqual, PinUnavailable)
	test.That(t, Of(errors.Wrap(e, "device tank")), test.ShouldEqual, PinUnavailable)
	test.That(t, errors.Is(e, PinUnavailable), test.ShouldBeTrue)
	test.That(t, errors.Is(e, PinInUse), test.ShouldBeTrue)
	test.That(t, e.Error(), test.ShouldEqual, "initialize: pin_unavailable: pin_in_use")

	test.That(t, Of(errors.New("boom")), test.ShouldEqual, Error)
}
