package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"tdsnode/services/hal/internal/halcore"
)

type fakeAdaptor struct {
	id          string
	delay       time.Duration
	collectErrs int // number of consecutive ErrNotReady before success
	failErr     error
	triggers    atomic.Int32
	inCollect   atomic.Int32
	maxParallel atomic.Int32
}

func (f *fakeAdaptor) ID() string                      { return f.id }
func (f *fakeAdaptor) Capabilities() []halcore.CapInfo { return nil }
func (f *fakeAdaptor) Close() error                    { return nil }
func (f *fakeAdaptor) Trigger(ctx context.Context) (time.Duration, error) {
	f.triggers.Add(1)
	if f.failErr != nil {
		return 0, f.failErr
	}
	return f.delay, nil
}
func (f *fakeAdaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	n := f.inCollect.Add(1)
	defer f.inCollect.Add(-1)
	if n > f.maxParallel.Load() {
		f.maxParallel.Store(n)
	}
	if f.collectErrs > 0 {
		f.collectErrs--
		return nil, halcore.ErrNotReady
	}
	time.Sleep(time.Millisecond)
	return halcore.Sample{{Kind: "tds", Payload: 123.0, TS: time.Now()}}, nil
}
func (f *fakeAdaptor) Control(string, string, any) (any, error) { return nil, halcore.ErrUnsupported }

func newWorker(t *testing.T, cfg halcore.WorkerConfig, results chan halcore.Result) *MeasureWorker {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w := New(cfg, clock.New(), zaptest.NewLogger(t).Sugar(), results)
	w.Start(ctx)
	return w
}

func TestMeasureWorkerSuccessWithRetries(t *testing.T) {
	results := make(chan halcore.Result, 1)
	w := newWorker(t, halcore.WorkerConfig{
		TriggerTimeout: 5 * time.Millisecond,
		CollectTimeout: 10 * time.Millisecond,
		RetryBackoff:   2 * time.Millisecond,
		MaxRetries:     5,
		InputQueueSize: 4,
	}, results)

	ad := &fakeAdaptor{id: "dev1", delay: time.Millisecond, collectErrs: 2}
	test.That(t, w.Submit(halcore.MeasureReq{ID: ad.id, Adaptor: ad}), test.ShouldBeTrue)

	select {
	case r := <-results:
		test.That(t, r.Err, test.ShouldBeNil)
		test.That(t, r.Sample, test.ShouldHaveLength, 1)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for result")
	}
}

func TestMeasureWorkerErrorPathAndPrio(t *testing.T) {
	results := make(chan halcore.Result, 2)
	w := newWorker(t, halcore.WorkerConfig{}, results)

	ad := &fakeAdaptor{id: "devX", delay: time.Millisecond, failErr: errors.New("boom")}
	test.That(t, w.Submit(halcore.MeasureReq{ID: ad.id, Adaptor: ad}), test.ShouldBeTrue)
	test.That(t, w.Submit(halcore.MeasureReq{ID: ad.id, Adaptor: ad, Prio: true}), test.ShouldBeTrue)

	select {
	case r := <-results:
		test.That(t, r.Err, test.ShouldBeError, errors.New("boom"))
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for error result")
	}
}

func TestMeasureWorkerSerialisesDevices(t *testing.T) {
	results := make(chan halcore.Result, 8)
	w := newWorker(t, halcore.WorkerConfig{}, results)

	a := &fakeAdaptor{id: "a"}
	b := &fakeAdaptor{id: "b"}
	for i := 0; i < 3; i++ {
		w.Submit(halcore.MeasureReq{ID: a.id, Adaptor: a})
		w.Submit(halcore.MeasureReq{ID: b.id, Adaptor: b})
	}

	got := map[string]int{}
	deadline := time.After(time.Second)
	for got["a"] == 0 || got["b"] == 0 {
		select {
		case r := <-results:
			test.That(t, r.Err, test.ShouldBeNil)
			got[r.ID]++
		case <-deadline:
			t.Fatalf("results so far: %v", got)
		}
	}
	test.That(t, a.maxParallel.Load(), test.ShouldEqual, 1)
	test.That(t, b.maxParallel.Load(), test.ShouldEqual, 1)
}
