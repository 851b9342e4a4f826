package hal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"tdsnode/bus"
	"tdsnode/types"
)

func TestValidateConfig(t *testing.T) {
	good := types.HALConfig{Devices: []types.HALDevice{
		{ID: "tank", Type: "gravity_tds", Params: map[string]any{"pin": 26}},
		{ID: "sump", Type: "gravity_tds", Params: map[string]any{"pin": 27, "update_interval": "10s"}},
	}}
	test.That(t, ValidateConfig(good), test.ShouldBeNil)

	bad := types.HALConfig{Devices: []types.HALDevice{
		{ID: "tank", Type: "gravity_tds", Params: map[string]any{"pin": 26}},
		{ID: "tank", Type: "gravity_tds", Params: map[string]any{"pin": 26}},
		{ID: "x", Type: "ph_meter"},
		{ID: "y", Type: "gravity_tds", Params: map[string]any{"reference_voltage": 9.0}},
	}}
	err := ValidateConfig(bad)
	test.That(t, err, test.ShouldNotBeNil)
	msg := err.Error()
	test.That(t, msg, test.ShouldContainSubstring, "duplicate device id")
	test.That(t, msg, test.ShouldContainSubstring, "pin 26 already used")
	test.That(t, msg, test.ShouldContainSubstring, "unknown device type")
	test.That(t, msg, test.ShouldContainSubstring, "hal.devices.3.params")
	test.That(t, msg, test.ShouldContainSubstring, "reference_voltage")
	// dup id, dup pin, unknown type, missing pin, bad reference voltage
	test.That(t, multierr.Errors(err), test.ShouldHaveLength, 5)
}

func TestDeviceTypesAndSchema(t *testing.T) {
	test.That(t, DeviceTypes(), test.ShouldContain, "gravity_tds")
	test.That(t, DeviceTypes(), test.ShouldContain, "gravity_ph")
	s, ok := ParamsSchema("gravity_tds")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, s, test.ShouldNotBeNil)
	_, ok = ParamsSchema("ph_meter")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestProbe(t *testing.T) {
	adc := NewSimADC(26)
	pin, _ := adc.Pin(26)
	pin.SetVolts(1.40)

	s, err := Probe(context.Background(),
		types.HALDevice{ID: "probe", Type: "gravity_tds", Params: map[string]any{"pin": 26}},
		Options{ADC: adc, Log: zaptest.NewLogger(t).Sugar()})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s, test.ShouldHaveLength, 2)
	test.That(t, *s[0].Payload.(types.TDSValue).PPM, test.ShouldBeBetween, 500.0, 560.0)

	// The probe releases the pin, so a second one can claim it.
	_, err = Probe(context.Background(),
		types.HALDevice{ID: "again", Type: "gravity_tds", Params: map[string]any{"pin": 26}}, Options{ADC: adc})
	test.That(t, err, test.ShouldBeNil)
}

func TestSingleReadAppliesStoredK(t *testing.T) {
	adc := NewSimADC(26)
	pin, _ := adc.Pin(26)
	pin.SetVolts(1.40)
	dev := types.HALDevice{ID: "tank", Type: "gravity_tds", Params: map[string]any{"pin": 26}}

	plain, err := Probe(context.Background(), dev, Options{ADC: adc})
	test.That(t, err, test.ShouldBeNil)

	dir := t.TempDir()
	test.That(t, os.WriteFile(filepath.Join(dir, "tds_k_values.json"), []byte(`{"tank": 2.0}`), 0o600), test.ShouldBeNil)
	stored, err := Probe(context.Background(), dev, Options{ADC: adc, StateDir: dir})
	test.That(t, err, test.ShouldBeNil)

	base := *plain[0].Payload.(types.TDSValue).PPM
	test.That(t, *stored[0].Payload.(types.TDSValue).PPM, test.ShouldAlmostEqual, 2*base, 0.05)
}

func TestRunPublishesReadings(t *testing.T) {
	adc := NewSimADC(26)
	pin, _ := adc.Pin(26)
	pin.SetVolts(1.40)

	b := bus.NewBus(8)
	conn := b.NewConnection("hal")
	client := b.NewConnection("client")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, conn, Options{ADC: adc, Log: zaptest.NewLogger(t).Sugar()}) }()

	val := client.Subscribe(bus.T("hal", "capability", "tds", 0, "value"))
	info := client.Subscribe(bus.T("hal", "capability", "tds", 0, "info"))
	client.Publish(client.NewMessage(bus.T("config", "hal"), types.HALConfig{Devices: []types.HALDevice{
		{ID: "tank", Type: "gravity_tds", Params: map[string]any{"pin": 26, "name": "Tank"}},
	}}, true))

	select {
	case m := <-info.Channel():
		test.That(t, m.Payload.(types.Info).Driver, test.ShouldEqual, "gravity_tds")
	case <-time.After(time.Second):
		t.Fatal("no info published")
	}
	select {
	case m := <-val.Channel():
		test.That(t, m.Payload.(types.TDSValue).Valid, test.ShouldBeTrue)
	case <-time.After(2 * time.Second):
		t.Fatal("no value published")
	}

	cancel()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunMixesTDSAndPH(t *testing.T) {
	adc := NewSimADC(26, 27)
	tdsPin, _ := adc.Pin(26)
	tdsPin.SetVolts(1.40)
	phPin, _ := adc.Pin(27)
	phPin.SetVolts(1.50)

	b := bus.NewBus(8)
	conn := b.NewConnection("hal")
	client := b.NewConnection("client")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, conn, Options{ADC: adc, Log: zaptest.NewLogger(t).Sugar(), StateDir: t.TempDir()})
	}()

	phVal := client.Subscribe(bus.T("hal", "capability", "ph", 0, "value"))
	tdsVal := client.Subscribe(bus.T("hal", "capability", "tds", 0, "value"))
	client.Publish(client.NewMessage(bus.T("config", "hal"), types.HALConfig{Devices: []types.HALDevice{
		{ID: "tank", Type: "gravity_tds", Params: map[string]any{"pin": 26}},
		{ID: "pool", Type: "gravity_ph", Params: map[string]any{"pin": 27}},
	}}, true))

	select {
	case m := <-phVal.Channel():
		v := m.Payload.(types.PHValue)
		test.That(t, v.Valid, test.ShouldBeTrue)
		test.That(t, *v.PH, test.ShouldAlmostEqual, 7.0, 0.01)
	case <-time.After(2 * time.Second):
		t.Fatal("no ph value published")
	}
	select {
	case m := <-tdsVal.Channel():
		test.That(t, m.Payload.(types.TDSValue).Valid, test.ShouldBeTrue)
	case <-time.After(2 * time.Second):
		t.Fatal("no tds value published")
	}

	phPin.SetVolts(2.20)
	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()
	reply, err := client.RequestWait(rctx, client.NewMessage(
		bus.T("hal", "capability", "ph", 0, "control", "calibrate_acid"), types.PHCalibrate{BufferPH: 4.01}, false))
	test.That(t, err, test.ShouldBeNil)
	ack := reply.Payload.(types.PHCalibrateAck)
	test.That(t, ack.OK, test.ShouldBeTrue)
	test.That(t, ack.Point, test.ShouldEqual, "acid")
	test.That(t, ack.MilliVolts, test.ShouldAlmostEqual, 2200, 1)

	cancel()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
