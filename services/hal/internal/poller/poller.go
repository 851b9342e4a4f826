// Package poller schedules periodic measurements for devices.
package poller

import (
	"container/heap"
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Due is emitted when a device's measurement is due.
type Due struct {
	ID    string
	Every time.Duration
}

type pollItem struct {
	id     string
	due    time.Time
	every  time.Duration
	jitter time.Duration
	index  int
}

type pollHeap []*pollItem

func (h pollHeap) Len() int           { return len(h) }
func (h pollHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h pollHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *pollHeap) Push(x any)        { it := x.(*pollItem); it.index = len(*h); *h = append(*h, it) }
func (h *pollHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	it.index = -1
	*h = old[:n-1]
	return it
}
func (h pollHeap) Top() *pollItem {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

type Poller struct {
	clk   clock.Clock
	mu    sync.Mutex
	wake  chan struct{}
	items map[string]*pollItem
	h     pollHeap
	rand  *rand.Rand
	out   chan<- Due
}

func New(clk clock.Clock, out chan<- Due) *Poller {
	return &Poller{
		clk:   clk,
		wake:  make(chan struct{}, 1),
		items: make(map[string]*pollItem),
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
		out:   out,
	}
}

// Upsert adds or updates a schedule. The first fire occurs after first;
// later fires every interval plus a random jitter in [0..jitter].
func (p *Poller) Upsert(id string, first, interval, jitter time.Duration) {
	if interval <= 0 || id == "" {
		return
	}
	if jitter < 0 {
		jitter = 0
	}

	p.mu.Lock()
	nextDue := p.clk.Now().Add(first)
	if it := p.items[id]; it == nil {
		it2 := &pollItem{id: id, due: nextDue, every: interval, jitter: jitter, index: -1}
		p.items[id] = it2
		heap.Push(&p.h, it2)
	} else {
		it.every = interval
		it.jitter = jitter
		it.due = nextDue
		heap.Fix(&p.h, it.index)
	}
	p.mu.Unlock()
	p.wakeup()
}

func (p *Poller) Stop(id string) {
	p.mu.Lock()
	if it := p.items[id]; it != nil {
		heap.Remove(&p.h, it.index)
		delete(p.items, id)
	}
	p.mu.Unlock()
	p.wakeup()
}

// Every reports the current interval for id.
func (p *Poller) Every(id string) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it := p.items[id]; it != nil {
		return it.every, true
	}
	return 0, false
}

// BumpAfter pushes the next fire to one interval after last.
func (p *Poller) BumpAfter(id string, last time.Time) {
	now := p.clk.Now()
	p.mu.Lock()
	if it := p.items[id]; it != nil {
		due := last.Add(it.every)
		if due.Before(now) {
			due = now
		}
		it.due = due
		heap.Fix(&p.h, it.index)
	}
	p.mu.Unlock()
	p.wakeup()
}

func (p *Poller) Run(ctx context.Context) {
	for {
		wait, ok := p.nextWait()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
				continue
			}
		}
		if wait <= 0 {
			p.fire()
			continue
		}

		timer := p.clk.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (p *Poller) fire() {
	var fire *pollItem
	var d Due

	p.mu.Lock()
	now := p.clk.Now()
	if top := p.h.Top(); top != nil && !top.due.After(now) {
		fire = top
		fire.due = now.Add(p.jittered(fire.every, fire.jitter))
		heap.Fix(&p.h, fire.index)
		d = Due{ID: fire.id, Every: fire.every}
	}
	p.mu.Unlock()

	if fire != nil {
		select {
		case p.out <- d:
		default:
		}
	}
}

func (p *Poller) nextWait() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	top := p.h.Top()
	if top == nil {
		return 0, false
	}
	return top.due.Sub(p.clk.Now()), true
}

func (p *Poller) wakeup() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) jittered(interval, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return interval
	}
	return interval + time.Duration(p.rand.Int63n(int64(jitter)+1))
}
