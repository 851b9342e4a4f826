package gravitytds

import (
	"github.com/montanaflynn/stats"

	"tdsnode/x/mathx"
)

// filter transforms one valid ppm value. ok is false when the value should
// not be published yet.
type filter interface {
	apply(v float64) (out float64, ok bool)
}

type pipeline []filter

func newPipeline(ps []FilterParams) pipeline {
	var out pipeline
	for _, p := range ps {
		switch {
		case p.Median > 0:
			out = append(out, &windowFilter{n: p.Median, reduce: stats.Median})
		case p.SlidingAverage > 0:
			out = append(out, &windowFilter{n: p.SlidingAverage, reduce: stats.Mean})
		case p.Offset != nil:
			out = append(out, offsetFilter(*p.Offset))
		case p.Multiply != nil:
			out = append(out, multiplyFilter(*p.Multiply))
		case p.Clamp != nil:
			out = append(out, clampFilter{min: p.Clamp.Min, max: p.Clamp.Max})
		}
	}
	return out
}

func (p pipeline) apply(v float64) (float64, bool) {
	for _, f := range p {
		var ok bool
		if v, ok = f.apply(v); !ok {
			return 0, false
		}
	}
	return v, true
}

// windowFilter reduces the last n values. It publishes from the first
// value on, over however many values it has so far.
type windowFilter struct {
	n      int
	win    []float64
	reduce func(stats.Float64Data) (float64, error)
}

func (f *windowFilter) apply(v float64) (float64, bool) {
	f.win = append(f.win, v)
	if len(f.win) > f.n {
		f.win = f.win[len(f.win)-f.n:]
	}
	out, err := f.reduce(f.win)
	return out, err == nil
}

type offsetFilter float64

func (o offsetFilter) apply(v float64) (float64, bool) { return v + float64(o), true }

type multiplyFilter float64

func (m multiplyFilter) apply(v float64) (float64, bool) { return v * float64(m), true }

type clampFilter struct{ min, max *float64 }

func (c clampFilter) apply(v float64) (float64, bool) {
	switch {
	case c.min != nil && c.max != nil:
		return mathx.Clamp(v, *c.min, *c.max), true
	case c.min != nil:
		return mathx.Max(v, *c.min), true
	case c.max != nil:
		return mathx.Min(v, *c.max), true
	}
	return v, true
}

// round to the published accuracy.
func round(v float64, decimals int) float64 {
	r, err := stats.Round(v, decimals)
	if err != nil {
		return v
	}
	return r
}
