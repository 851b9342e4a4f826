package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"tdsnode/bus"
	"tdsnode/types"
)

func newTestServer(t *testing.T) (*Server, *bus.Connection, *httptest.Server) {
	t.Helper()
	b := bus.NewBus(16)
	hal := b.NewConnection("hal")
	s := New(b.NewConnection("http"), types.HTTPConfig{RequestTimeout: 200 * time.Millisecond}, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.Run(ctx) }()

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, hal, ts
}

func getJSON(t testing.TB, url string, into any) int {
	resp, err := http.Get(url)
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, json.NewDecoder(resp.Body).Decode(into), test.ShouldBeNil)
	return resp.StatusCode
}

func TestCapabilityCache(t *testing.T) {
	_, hal, ts := newTestServer(t)

	var e types.ErrorReply
	test.That(t, getJSON(t, ts.URL+"/api/v1/capabilities/tds/0", &e), test.ShouldEqual, http.StatusNotFound)
	test.That(t, e.Error, test.ShouldEqual, "unknown_capability")

	ppm := 532.6
	hal.Publish(hal.NewMessage(bus.T("hal", "capability", "tds", 0, "value"), types.TDSValue{PPM: &ppm, Valid: true}, true))
	hal.Publish(hal.NewMessage(bus.T("hal", "capability", "tds", 0, "state"), types.CapabilityState{Link: types.LinkUp}, true))

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		var c struct {
			Kind  string         `json:"kind"`
			ID    string         `json:"id"`
			Value map[string]any `json:"value"`
			State map[string]any `json:"state"`
		}
		test.That(tb, getJSON(tb, ts.URL+"/api/v1/capabilities/tds/0", &c), test.ShouldEqual, http.StatusOK)
		test.That(tb, c.Value["ppm"], test.ShouldAlmostEqual, 532.6)
		test.That(tb, c.State["link"], test.ShouldEqual, "up")
	})

	var all []Capability
	test.That(t, getJSON(t, ts.URL+"/api/v1/capabilities", &all), test.ShouldEqual, http.StatusOK)
	test.That(t, all, test.ShouldHaveLength, 1)
	test.That(t, all[0].Kind, test.ShouldEqual, "tds")
}

func TestHealthFollowsHALState(t *testing.T) {
	_, hal, ts := newTestServer(t)
	var e types.ErrorReply
	test.That(t, getJSON(t, ts.URL+"/api/v1/health", &e), test.ShouldEqual, http.StatusServiceUnavailable)

	hal.Publish(hal.NewMessage(bus.T("hal", "state"), types.HALState{Level: "ready", Status: "configured"}, true))
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		var st types.HALState
		test.That(tb, getJSON(tb, ts.URL+"/api/v1/health", &st), test.ShouldEqual, http.StatusOK)
		test.That(tb, st.Status, test.ShouldEqual, "configured")
	})
}

func TestControlForwardsToBus(t *testing.T) {
	_, hal, ts := newTestServer(t)

	sub := hal.Subscribe(bus.T("hal", "capability", "tds", 0, "control", "+"))
	defer hal.Unsubscribe(sub)
	go func() {
		for m := range sub.Channel() {
			switch m.Topic.At(5) {
			case "calibrate":
				p, _ := m.Payload.(map[string]any)
				if p["buffer_ppm"] == 707.0 {
					hal.Reply(m, types.TDSCalibrateAck{OK: true, KValue: 1.33}, false)
					continue
				}
				hal.Reply(m, types.ErrorReply{Error: "calibration_rejected"}, false)
			case "read_now":
				hal.Reply(m, types.ReadNowAck{OK: true}, false)
			}
		}
	}()

	resp, err := http.Post(ts.URL+"/api/v1/capabilities/tds/0/control/calibrate", "application/json",
		strings.NewReader(`{"buffer_ppm": 707}`))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	var ack map[string]any
	test.That(t, json.NewDecoder(resp.Body).Decode(&ack), test.ShouldBeNil)
	test.That(t, ack["ok"], test.ShouldEqual, true)

	resp2, err := http.Post(ts.URL+"/api/v1/capabilities/tds/0/control/calibrate", "application/json",
		strings.NewReader(`{"buffer_ppm": 1}`))
	test.That(t, err, test.ShouldBeNil)
	resp2.Body.Close()
	test.That(t, resp2.StatusCode, test.ShouldEqual, http.StatusUnprocessableEntity)

	resp3, err := http.Post(ts.URL+"/api/v1/capabilities/tds/0/control/read_now", "application/json", nil)
	test.That(t, err, test.ShouldBeNil)
	resp3.Body.Close()
	test.That(t, resp3.StatusCode, test.ShouldEqual, http.StatusOK)

	resp4, err := http.Post(ts.URL+"/api/v1/capabilities/tds/0/control/calibrate", "application/json",
		strings.NewReader(`{not json`))
	test.That(t, err, test.ShouldBeNil)
	resp4.Body.Close()
	test.That(t, resp4.StatusCode, test.ShouldEqual, http.StatusBadRequest)
}

func TestAccessLogGoesToZap(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := New(bus.NewBus(4).NewConnection("http"), types.HTTPConfig{}, zap.New(core).Sugar())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/capabilities")
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, logs.FilterMessageSnippet("GET /api/v1/capabilities").Len(), test.ShouldEqual, 1)
	})
}

func TestControlWithoutResponderTimesOut(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/v1/capabilities/ph/3/control/read_now", "application/json", nil)
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusGatewayTimeout)
}
