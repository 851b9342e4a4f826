package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/test"

	"tdsnode/bus"
	"tdsnode/types"
)

const sample = `
hal:
  devices:
    - id: tank
      type: gravity_tds
      params:
        pin: ${TDS_PIN}
        update_interval: 30s
        temperature: { source: fixed, celsius: 21 }
        filters:
          - median: 5
telemetry:
  mqtt: { broker: "tcp://${MQTT_HOST}:1883", client_id: node1, prefix: tdsnode, qos: 1 }
http:
  addr: ":9090"
  request_timeout: 3s
heartbeat:
  interval: 2
`

func TestDecodeSubstitutesEnvironment(t *testing.T) {
	t.Setenv("TDS_PIN", "27")
	t.Setenv("MQTT_HOST", "broker.local")

	f, err := Decode([]byte(sample))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.HAL.Devices, test.ShouldHaveLength, 1)
	test.That(t, f.HAL.Devices[0].Params["pin"], test.ShouldEqual, 27)
	test.That(t, f.Telemetry.MQTT.Broker, test.ShouldEqual, "tcp://broker.local:1883")
	test.That(t, f.HTTP.RequestTimeout, test.ShouldEqual, 3*time.Second)
	test.That(t, f.Extra, test.ShouldContainKey, "heartbeat")
	test.That(t, f.Validate(), test.ShouldBeNil)
}

func TestLoad(t *testing.T) {
	f, err := Load("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.HAL.Devices[0].Type, test.ShouldEqual, "gravity_tds")
	test.That(t, f.Validate(), test.ShouldBeNil)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	test.That(t, os.WriteFile(path, []byte("hal: [unterminated"), 0o644), test.ShouldBeNil)
	_, err = Load(path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad.yaml")
}

func TestValidateCollectsEverything(t *testing.T) {
	f, err := Decode([]byte(`
board: { adc: spi }
hal:
  devices:
    - { id: a, type: gravity_tds, params: { pin: 26 } }
    - { id: b, type: gravity_tds, params: { pin: 26 } }
telemetry:
  mqtt: { qos: 3 }
`))
	test.That(t, err, test.ShouldBeNil)
	err = f.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	// duplicate pin, board adc, broker, qos
	test.That(t, multierr.Errors(err), test.ShouldHaveLength, 4)
}

func TestConfig_PublishRetainedPerKey(t *testing.T) {
	t.Setenv("TDS_PIN", "26")
	t.Setenv("MQTT_HOST", "localhost")
	f, err := Decode([]byte(sample))
	test.That(t, err, test.ShouldBeNil)

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	NewConfigService(f, nil).Publish(conn)

	// Retained messages are replayed to late subscribers.
	sub := conn.Subscribe(bus.T(configPrefix, "#"))
	got := map[string]any{}
	deadline := time.After(500 * time.Millisecond)
	for len(got) < 5 {
		select {
		case m := <-sub.Channel():
			key, ok := m.Topic.At(1).(string)
			test.That(t, ok, test.ShouldBeTrue)
			got[key] = m.Payload
		case <-deadline:
			t.Fatalf("got %d of 5 sections: %v", len(got), got)
		}
	}
	hal, ok := got["hal"].(types.HALConfig)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, hal.Devices[0].ID, test.ShouldEqual, "tank")
	test.That(t, got["heartbeat"], test.ShouldResemble, map[string]any{"interval": 2})
}
