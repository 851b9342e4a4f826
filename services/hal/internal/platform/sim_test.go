package platform

import (
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
	"periph.io/x/conn/v3/physic"

	"tdsnode/types"
)

func TestSimPin(t *testing.T) {
	adc := NewSimADC(26)
	_, ok := adc.ByNumber(4)
	test.That(t, ok, test.ShouldBeFalse)

	p, ok := adc.Pin(26)
	test.That(t, ok, test.ShouldBeTrue)
	p.SetVolts(1.65)
	s, err := p.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Raw, test.ShouldEqual, 2048)
	test.That(t, s.V, test.ShouldEqual, 1650*physic.MilliVolt)

	p.Fail(errors.New("brownout"))
	_, err = p.Read()
	test.That(t, err, test.ShouldBeError, errors.New("brownout"))
	p.Fail(nil)

	p.Stall()
	done := make(chan struct{})
	go func() {
		_, _ = p.Read()
		close(done)
	}()
	p.Resume()
	<-done
}

func TestOpenADC(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	f, err := OpenADC(types.BoardConfig{}, log)
	test.That(t, err, test.ShouldBeNil)
	for _, n := range DefaultSimPins {
		_, ok := f.ByNumber(n)
		test.That(t, ok, test.ShouldBeTrue)
	}

	_, err = OpenADC(types.BoardConfig{ADC: "spi"}, log)
	test.That(t, err, test.ShouldNotBeNil)
}
