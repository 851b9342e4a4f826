package worker

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tdsnode/services/hal/internal/halcore"
	"tdsnode/services/hal/internal/util"
)

// MeasureWorker runs the split-phase cycle for every adaptor sharing one
// resource. It is a single goroutine, so one resource never sees two
// measurements at once.
type MeasureWorker struct {
	cfg  halcore.WorkerConfig
	clk  clock.Clock
	log  *zap.SugaredLogger
	reqQ chan halcore.MeasureReq
	sink chan<- halcore.Result // fan-in sink owned by service

	pending  map[string]*collectItem
	want     map[string]bool
	collects []*collectItem
	timer    *clock.Timer
}

type collectItem struct {
	id      string
	adaptor halcore.Adaptor
	due     time.Time
	retries int
}

func New(cfg halcore.WorkerConfig, clk clock.Clock, log *zap.SugaredLogger, sink chan<- halcore.Result) *MeasureWorker {
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 100 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 15 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if cfg.InputQueueSize <= 0 {
		cfg.InputQueueSize = 16
	}
	return &MeasureWorker{
		cfg:     cfg,
		clk:     clk,
		log:     log,
		reqQ:    make(chan halcore.MeasureReq, cfg.InputQueueSize),
		sink:    sink,
		pending: map[string]*collectItem{},
		want:    map[string]bool{},
		timer:   clk.Timer(time.Hour),
	}
}

// Submit queues req without blocking; false means the queue is full.
func (w *MeasureWorker) Submit(req halcore.MeasureReq) bool {
	select {
	case w.reqQ <- req:
		return true
	default:
		if req.Prio {
			select {
			case w.reqQ <- req:
				return true
			case <-time.After(5 * time.Millisecond):
			}
		}
		return false
	}
}

func (w *MeasureWorker) Start(ctx context.Context) {
	if !w.timer.Stop() {
		util.DrainTimer(w.timer)
	}
	go w.run(ctx)
}

func (w *MeasureWorker) run(ctx context.Context) {
	for {
		if next := w.minDue(); next.IsZero() {
			util.ResetTimer(w.timer, time.Hour)
		} else {
			util.ResetTimer(w.timer, next.Sub(w.clk.Now()))
		}
		select {
		case <-ctx.Done():
			return
		case req := <-w.reqQ:
			if _, ok := w.pending[req.ID]; ok {
				if req.Prio {
					w.want[req.ID] = true
				}
				continue
			}
			w.trigger(ctx, &collectItem{id: req.ID, adaptor: req.Adaptor})
		case <-w.timer.C:
			w.collectDue(ctx)
		}
	}
}

// trigger starts a cycle for it; on success it is queued for collection.
func (w *MeasureWorker) trigger(ctx context.Context, it *collectItem) bool {
	tctx, cancel := context.WithTimeout(ctx, w.cfg.TriggerTimeout)
	after, err := it.adaptor.Trigger(tctx)
	cancel()
	if err != nil {
		w.emit(ctx, halcore.Result{ID: it.id, Err: err})
		return false
	}
	it.retries = 0
	it.due = w.clk.Now().Add(after)
	w.pending[it.id] = it
	w.collects = append(w.collects, it)
	return true
}

func (w *MeasureWorker) collectDue(ctx context.Context) {
	now := w.clk.Now()
	due := w.collects
	w.collects = nil
	for _, it := range due {
		if now.Before(it.due) {
			w.collects = append(w.collects, it)
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, w.cfg.CollectTimeout)
		s, err := it.adaptor.Collect(cctx)
		cancel()
		switch {
		case err == nil:
			delete(w.pending, it.id)
			delete(w.want, it.id)
			w.emit(ctx, halcore.Result{ID: it.id, Sample: s})
		case errors.Is(err, halcore.ErrNotReady) && it.retries < w.cfg.MaxRetries:
			it.retries++
			it.due = now.Add(w.cfg.RetryBackoff)
			w.collects = append(w.collects, it)
		default:
			delete(w.pending, it.id)
			w.log.Debugw("collect failed", "device", it.id, "retries", it.retries, "error", err)
			w.emit(ctx, halcore.Result{ID: it.id, Err: err})
			if w.want[it.id] {
				delete(w.want, it.id)
				w.trigger(ctx, it)
			}
		}
	}
}

func (w *MeasureWorker) emit(ctx context.Context, r halcore.Result) {
	select {
	case w.sink <- r:
	case <-ctx.Done():
	}
}

func (w *MeasureWorker) minDue() time.Time {
	var min time.Time
	for _, it := range w.collects {
		if min.IsZero() || it.due.Before(min) {
			min = it.due
		}
	}
	return min
}
