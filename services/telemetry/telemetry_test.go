package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"tdsnode/bus"
	"tdsnode/types"
)

type sent struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu         sync.Mutex
	connectErr error
	publishErr error
	sent       []sent
	closed     bool
}

func (f *fakePublisher) Connect(context.Context) error { return f.connectErr }

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.sent = append(f.sent, sent{topic, qos, retained, payload})
	return nil
}

func (f *fakePublisher) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakePublisher) find(topic string) (sent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sent {
		if s.topic == topic {
			return s, true
		}
	}
	return sent{}, false
}

func withDial(t *testing.T, fn func(types.MQTTConfig) Publisher) {
	t.Helper()
	prev := Dial
	Dial = fn
	t.Cleanup(func() { Dial = prev })
}

func startBridge(t *testing.T) (*bus.Connection, *bus.Subscription) {
	t.Helper()
	b := bus.NewBus(16)
	conn := b.NewConnection("telemetry_test")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go Start(ctx, conn, zaptest.NewLogger(t).Sugar())

	stateSub := conn.Subscribe(bus.T("telemetry", "state"))
	t.Cleanup(func() { conn.Unsubscribe(stateSub) })
	assertLevelStatus(t, nextState(t, stateSub), "idle", "awaiting_config")
	return conn, stateSub
}

func TestForwardsCapabilityValues(t *testing.T) {
	pub := &fakePublisher{}
	withDial(t, func(cfg types.MQTTConfig) Publisher {
		test.That(t, cfg.Broker, test.ShouldEqual, "tcp://broker:1883")
		return pub
	})
	conn, stateSub := startBridge(t)

	conn.Publish(conn.NewMessage(bus.T("config", "telemetry"), types.TelemetryConfig{
		MQTT: &types.MQTTConfig{Broker: "tcp://broker:1883", Prefix: "site/a/", QoS: 1, Retain: true},
	}, true))
	assertLevelStatus(t, nextState(t, stateSub), "up", "link_established")

	ppm := 532.6
	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "tds", 0, "value"),
		types.TDSValue{PPM: &ppm, Valid: true}, true))

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		got, ok := pub.find("site/a/tds/0/value")
		test.That(tb, ok, test.ShouldBeTrue)
		test.That(tb, got.qos, test.ShouldEqual, byte(1))
		test.That(tb, got.retained, test.ShouldBeTrue)
		var v map[string]any
		test.That(tb, json.Unmarshal(got.payload, &v), test.ShouldBeNil)
		test.That(tb, v["ppm"], test.ShouldAlmostEqual, 532.6)
	})
}

func TestDisabledWithoutBroker(t *testing.T) {
	withDial(t, func(types.MQTTConfig) Publisher {
		t.Error("dial should not be called")
		return &fakePublisher{}
	})
	conn, stateSub := startBridge(t)
	conn.Publish(conn.NewMessage(bus.T("config", "telemetry"), types.TelemetryConfig{}, true))
	assertLevelStatus(t, nextState(t, stateSub), "idle", "disabled")
}

func TestConnectFailureRetries(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	withDial(t, func(types.MQTTConfig) Publisher {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return &fakePublisher{connectErr: errors.New("refused")}
		}
		return &fakePublisher{}
	})
	conn, stateSub := startBridge(t)
	conn.Publish(conn.NewMessage(bus.T("config", "telemetry"), types.TelemetryConfig{
		MQTT: &types.MQTTConfig{Broker: "tcp://broker:1883"},
	}, true))

	st := nextState(t, stateSub)
	assertLevelStatus(t, st, "degraded", "dial_failed_retrying")
	test.That(t, st["error"], test.ShouldEqual, "refused")
	assertLevelStatus(t, nextState(t, stateSub), "up", "link_established")
}

func TestPublishFailureReportsLinkLost(t *testing.T) {
	pub := &fakePublisher{publishErr: errors.New("broken pipe")}
	withDial(t, func(types.MQTTConfig) Publisher { return pub })
	conn, stateSub := startBridge(t)
	conn.Publish(conn.NewMessage(bus.T("config", "telemetry"), types.TelemetryConfig{
		MQTT: &types.MQTTConfig{Broker: "tcp://broker:1883"},
	}, true))
	assertLevelStatus(t, nextState(t, stateSub), "up", "link_established")

	conn.Publish(conn.NewMessage(bus.T("hal", "state"), types.HALState{Level: "ready"}, true))
	assertLevelStatus(t, nextState(t, stateSub), "degraded", "link_lost_retrying")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	test.That(t, pub.closed, test.ShouldBeTrue)
}

func TestRemoteTopic(t *testing.T) {
	test.That(t, RemoteTopic("", bus.T("hal", "capability", "voltage", 2, "state")), test.ShouldEqual, "voltage/2/state")
	test.That(t, RemoteTopic("node1/", bus.T("hal", "state")), test.ShouldEqual, "node1/hal/state")
}

func TestBackoffDoublesToMax(t *testing.T) {
	next := backoffSeq(100*time.Millisecond, 300*time.Millisecond)
	test.That(t, next(), test.ShouldEqual, 100*time.Millisecond)
	test.That(t, next(), test.ShouldEqual, 200*time.Millisecond)
	test.That(t, next(), test.ShouldEqual, 300*time.Millisecond)
	test.That(t, next(), test.ShouldEqual, 300*time.Millisecond)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func nextState(t *testing.T, sub *bus.Subscription) map[string]any {
	t.Helper()
	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		test.That(t, ok, test.ShouldBeTrue)
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for telemetry/state")
	}
	return nil
}

func assertLevelStatus(t *testing.T, p map[string]any, level, status string) {
	t.Helper()
	test.That(t, p["level"], test.ShouldEqual, level)
	test.That(t, p["status"], test.ShouldEqual, status)
}
