package service

import (
	"context"
	"reflect"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tdsnode/bus"
	"tdsnode/errcode"
	"tdsnode/services/hal/internal/consts"
	"tdsnode/services/hal/internal/halcore"
	"tdsnode/services/hal/internal/poller"
	"tdsnode/services/hal/internal/registry"
	"tdsnode/services/hal/internal/resources"
	"tdsnode/services/hal/internal/util"
	"tdsnode/services/hal/internal/worker"
	"tdsnode/types"
)

// MinPeriod is the shortest schedule; longer intervals are kept as configured.
const (
	MinPeriod = 200 * time.Millisecond

	firstReadDelay = 200 * time.Millisecond
)

// Options tune a Service; zero values pick defaults.
type Options struct {
	Clock    clock.Clock
	Log      *zap.SugaredLogger
	StateDir string
	Jitter   time.Duration
	Worker   halcore.WorkerConfig
}

type devEntry struct {
	cfg     types.HALDevice
	adaptor halcore.Adaptor
	caps    map[string]int // kind -> numeric capability id
	resID   string
}

type capKey struct {
	kind string
	id   int
}

type Service struct {
	conn *bus.Connection
	adcs *resources.ADCRegistry
	opts Options
	clk  clock.Clock
	log  *zap.SugaredLogger

	workers map[string]*worker.MeasureWorker // resource -> worker
	results chan halcore.Result
	poller  *poller.Poller
	due     chan poller.Due

	devices   map[string]*devEntry
	capToDev  map[capKey]string
	nextCapID map[string]int
}

var (
	topicConfigHAL = bus.T(consts.TokConfig, consts.TokHAL)
	topicCtrl      = bus.T(consts.TokHAL, consts.TokCapability, "+", "+", consts.TokControl, "+")
)

func New(conn *bus.Connection, adcs *resources.ADCRegistry, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	due := make(chan poller.Due, 16)
	return &Service{
		conn:      conn,
		adcs:      adcs,
		opts:      opts,
		clk:       opts.Clock,
		log:       opts.Log,
		workers:   map[string]*worker.MeasureWorker{},
		results:   make(chan halcore.Result, 64),
		poller:    poller.New(opts.Clock, due),
		due:       due,
		devices:   map[string]*devEntry{},
		capToDev:  map[capKey]string{},
		nextCapID: map[string]int{},
	}
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigHAL)
	ctrlSub := s.conn.Subscribe(topicCtrl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	go s.poller.Run(ctx)
	s.publishState(consts.LevelIdle, "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			s.publishState(consts.LevelStopped, "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			var cfg types.HALConfig
			switch p := msg.Payload.(type) {
			case types.HALConfig:
				cfg = p
			case *types.HALConfig:
				cfg = *p
			default:
				s.publishState(consts.LevelError, "config_wrong_type", nil)
				continue
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				s.log.Warnw("hal config applied with errors", "error", err)
				s.publishState(consts.LevelReady, "configured_with_errors", err)
				continue
			}
			s.publishState(consts.LevelReady, "configured", nil)

		case msg := <-ctrlSub.Channel():
			s.handleControl(msg)

		case d := <-s.due:
			if !s.submitMeasure(d.ID, false) {
				s.log.Debugw("measurement skipped; worker busy", "device", d.ID)
			}

		case r := <-s.results:
			s.handleResult(r)
		}
	}
}

func (s *Service) applyConfig(ctx context.Context, cfg types.HALConfig) error {
	var errs error
	seen := map[string]struct{}{}

	for i := range cfg.Devices {
		d := cfg.Devices[i]
		seen[d.ID] = struct{}{}

		if ent, exists := s.devices[d.ID]; exists {
			if reflect.DeepEqual(ent.cfg, d) {
				continue
			}
			s.removeDevice(d.ID)
		}

		if err := s.addDevice(ctx, d); err != nil {
			s.log.Errorw("device not started", "device", d.ID, "type", d.Type, "code", errcode.Of(err), "error", err)
			errs = multierr.Append(errs, errors.Wrapf(err, "device %s", d.ID))
		}
	}

	for devID := range s.devices {
		if _, ok := seen[devID]; !ok {
			s.removeDevice(devID)
		}
	}
	return errs
}

func (s *Service) addDevice(ctx context.Context, d types.HALDevice) error {
	b, ok := registry.Lookup(d.Type)
	if !ok {
		return errcode.Wrap(errcode.Unsupported, "hal.build", errors.Errorf("unknown device type %q", d.Type))
	}
	out, err := b.Build(registry.BuildInput{
		Ctx:      ctx,
		ADCs:     s.adcs,
		Conn:     s.conn,
		Log:      s.log,
		Clock:    s.clk,
		StateDir: s.opts.StateDir,
		DeviceID: d.ID,
		Type:     d.Type,
		Params:   d.Params,
	})
	if err != nil {
		return err
	}

	if out.ResourceID != "" {
		if _, ok := s.workers[out.ResourceID]; !ok {
			w := worker.New(s.opts.Worker, s.clk, s.log.With("resource", out.ResourceID), s.results)
			w.Start(ctx)
			s.workers[out.ResourceID] = w
		}
	}

	ad := out.Adaptor
	ent := &devEntry{cfg: d, adaptor: ad, resID: out.ResourceID, caps: map[string]int{}}
	now := s.clk.Now()
	for _, ci := range ad.Capabilities() {
		id := s.nextCapID[ci.Kind]
		s.nextCapID[ci.Kind]++

		ent.caps[ci.Kind] = id
		s.capToDev[capKey{kind: ci.Kind, id: id}] = d.ID

		s.pubRet(ci.Kind, id, consts.TokInfo, ci.Info)
		s.pubRet(ci.Kind, id, consts.TokState, types.CapabilityState{Link: types.LinkUp, TS: now})
	}
	s.devices[d.ID] = ent

	if out.SampleEvery > 0 {
		p := util.AtLeast(out.SampleEvery, MinPeriod)
		s.poller.Upsert(d.ID, firstReadDelay, p, s.opts.Jitter)
	}
	s.log.Infow("device started", "device", d.ID, "type", d.Type, "caps", ent.caps)
	return nil
}

func (s *Service) removeDevice(devID string) {
	ent, ok := s.devices[devID]
	if !ok {
		return
	}
	s.poller.Stop(devID)
	now := s.clk.Now()
	for kind, id := range ent.caps {
		s.pubRet(kind, id, consts.TokInfo, nil)
		s.pubRet(kind, id, consts.TokState, types.CapabilityState{Link: types.LinkDown, TS: now})
		delete(s.capToDev, capKey{kind: kind, id: id})
	}
	if err := ent.adaptor.Close(); err != nil {
		s.log.Warnw("device close failed", "device", devID, "error", err)
	}
	delete(s.devices, devID)
	s.log.Infow("device stopped", "device", devID)
}

func (s *Service) closeAll() {
	for devID := range s.devices {
		s.removeDevice(devID)
	}
}

// ---- control plane ----

func (s *Service) handleControl(msg *bus.Message) {
	if msg.Topic.Len() < 6 {
		return
	}
	kind, _ := msg.Topic.At(2).(string)
	idNum, ok := asInt(msg.Topic.At(3))
	if !ok || kind == "" {
		s.replyErr(msg, errcode.InvalidTopic)
		return
	}
	devID, ok := s.capToDev[capKey{kind: kind, id: idNum}]
	if !ok {
		s.replyErr(msg, errcode.UnknownCapability)
		return
	}
	ent := s.devices[devID]
	method, _ := msg.Topic.At(5).(string)

	switch method {
	case consts.CtrlReadNow:
		if !s.submitMeasure(devID, true) {
			s.replyErr(msg, errcode.Busy)
			return
		}
		s.poller.BumpAfter(devID, s.clk.Now())
		s.reply(msg, types.ReadNowAck{OK: true})

	case consts.CtrlSetRate:
		var req types.SetRate
		switch p := msg.Payload.(type) {
		case types.SetRate:
			req = p
		default:
			if err := util.DecodeParams(p, &req); err != nil {
				s.replyErr(msg, errcode.InvalidPayload)
				return
			}
		}
		if req.Period <= 0 {
			s.replyErr(msg, errcode.InvalidPeriod)
			return
		}
		p := util.AtLeast(req.Period, MinPeriod)
		s.poller.Upsert(devID, p, p, s.opts.Jitter)
		s.reply(msg, types.SetRateAck{OK: true, Period: p})

	default:
		res, err := ent.adaptor.Control(kind, method, msg.Payload)
		if err != nil {
			s.log.Warnw("control failed", "device", devID, "method", method, "code", errcode.Of(err), "error", err)
			s.replyErr(msg, err)
			return
		}
		s.reply(msg, res)
	}
}

// ---- measurement helpers ----

func (s *Service) submitMeasure(devID string, prio bool) bool {
	ent, ok := s.devices[devID]
	if !ok {
		return false
	}
	w := s.workers[ent.resID]
	if w == nil {
		return false
	}
	return w.Submit(halcore.MeasureReq{ID: devID, Adaptor: ent.adaptor, Prio: prio})
}

func (s *Service) handleResult(r halcore.Result) {
	ent, ok := s.devices[r.ID]
	if !ok {
		return
	}
	now := s.clk.Now()

	if r.Err != nil {
		code := errcode.Of(r.Err)
		s.log.Warnw("measurement failed", "device", r.ID, "code", code, "error", r.Err)
		for kind, id := range ent.caps {
			s.pubRet(kind, id, consts.TokState, types.CapabilityState{
				Link:  types.LinkDegraded,
				TS:    now,
				Error: string(code),
			})
		}
		return
	}
	for _, rd := range r.Sample {
		id, ok := ent.caps[rd.Kind]
		if !ok {
			continue
		}
		s.pubRet(rd.Kind, id, consts.TokValue, rd.Payload)
		s.pubRet(rd.Kind, id, consts.TokState, types.CapabilityState{Link: types.LinkUp, TS: now})
	}
}

// ---- bus helpers & utils ----

func (s *Service) publishState(level, status string, err error) {
	pl := types.HALState{Level: level, Status: status, TS: s.clk.Now()}
	if err != nil {
		pl.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(bus.T(consts.TokHAL, consts.TokState), pl, true))
}

func (s *Service) reply(req *bus.Message, payload any) {
	if req.CanReply() {
		s.conn.Reply(req, payload, false)
	}
}

func (s *Service) replyErr(req *bus.Message, err error) {
	s.reply(req, types.ErrorReply{OK: false, Error: string(errcode.Of(err))})
}

func capTopic(kind string, id int, suffix string) bus.Topic {
	return bus.T(consts.TokHAL, consts.TokCapability, kind, id, suffix)
}

func (s *Service) pubRet(kind string, id int, suffix string, p any) {
	s.conn.Publish(s.conn.NewMessage(capTopic(kind, id, suffix), p, true))
}

func asInt(t any) (int, bool) {
	switch v := t.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint32:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}
