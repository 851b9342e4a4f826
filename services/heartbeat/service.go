// Package heartbeat publishes a periodic liveness record on node/heartbeat.
package heartbeat

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"tdsnode/bus"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHeartbeat       = bus.T("node", "heartbeat")
)

const DefaultInterval = 30 * time.Second

// Beat is the retained heartbeat payload.
type Beat struct {
	Seq    uint64        `json:"seq"`
	Uptime time.Duration `json:"uptime_ns"`
	TS     time.Time     `json:"ts"`
}

type Service struct {
	Clock clock.Clock
	Log   *zap.SugaredLogger
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	started := s.Clock.Now()
	var seq uint64
	beat := func(now time.Time) {
		seq++
		conn.Publish(conn.NewMessage(topicHeartbeat, Beat{Seq: seq, Uptime: now.Sub(started), TS: now}, true))
	}

	tick := s.Clock.Ticker(DefaultInterval)
	defer tick.Stop()
	beat(started)

	for {
		select {
		case <-ctx.Done():
			s.Log.Debug("heartbeat service stopping")
			return
		case now := <-tick.C:
			beat(now)
		case msg := <-cfgSub.Channel():
			if iv, ok := interval(msg.Payload); ok {
				tick.Reset(iv)
				s.Log.Infow("heartbeat interval set", "interval", iv)
			}
		}
	}
}

// interval reads {"interval": seconds} from a config payload.
func interval(p any) (time.Duration, bool) {
	m, ok := p.(map[string]any)
	if !ok {
		return 0, false
	}
	var secs float64
	switch v := m["interval"].(type) {
	case float64:
		secs = v
	case int:
		secs = float64(v)
	default:
		return 0, false
	}
	if secs <= 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.Clock == nil {
		s.Clock = clock.New()
	}
	if s.Log == nil {
		s.Log = zap.NewNop().Sugar()
	}
	go s.serviceLoop(ctx, conn)
	return nil
}
