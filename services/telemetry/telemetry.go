// Package telemetry forwards capability values and states from the bus to
// an MQTT broker as JSON.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tdsnode/bus"
	"tdsnode/types"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start runs the bridge until ctx is cancelled. It listens for config on
// config/telemetry and (re)connects the broker link on every change.
func Start(ctx context.Context, conn *bus.Connection, log *zap.SugaredLogger) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Service{
		conn:       conn,
		log:        log,
		stateTopic: bus.T("telemetry", "state"),
	}
	s.run(ctx)
}

// Publisher is the narrow broker surface the bridge needs.
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// Dial builds the broker client; tests replace it.
var Dial = func(cfg types.MQTTConfig) Publisher { return newPahoPublisher(cfg) }

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	log        *zap.SugaredLogger
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
}

func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "telemetry"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			switch cfg := msg.Payload.(type) {
			case types.TelemetryConfig:
				s.reconfigure(ctx, cfg)
			case *types.TelemetryConfig:
				if cfg != nil {
					s.reconfigure(ctx, *cfg)
				}
			default:
				s.publishState("error", "config_wrong_type", errors.Errorf("payload %T", msg.Payload))
			}
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg types.TelemetryConfig) {
	s.stopCurrent()
	if cfg.MQTT == nil || cfg.MQTT.Broker == "" {
		s.publishState("idle", "disabled", nil)
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.curRun = cancel
	s.mu.Unlock()
	go s.runLink(ctx, *cfg.MQTT)
}

// -----------------------------------------------------------------------------
// Link supervision
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg types.MQTTConfig) {
	backoff := backoffSeq(250*time.Millisecond, 30*time.Second)
	for {
		if ctx.Err() != nil {
			return
		}
		pub := Dial(cfg)
		if err := pub.Connect(ctx); err != nil {
			delay := backoff()
			s.log.Warnw("mqtt connect failed", "broker", cfg.Broker, "retry_in", delay, "error", err)
			s.publishState("degraded", "dial_failed_retrying", err)
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.log.Infow("mqtt link up", "broker", cfg.Broker, "prefix", cfg.Prefix)
		s.publishState("up", "link_established", nil)
		err := s.forward(ctx, pub, cfg)
		pub.Close()
		if err == nil {
			return
		}
		delay := backoff()
		s.log.Warnw("mqtt link lost", "broker", cfg.Broker, "retry_in", delay, "error", err)
		s.publishState("degraded", "link_lost_retrying", err)
		if !sleep(ctx, delay) {
			return
		}
	}
}

// forward copies capability traffic to the broker until ctx ends (nil) or
// a publish fails.
func (s *Service) forward(ctx context.Context, pub Publisher, cfg types.MQTTConfig) error {
	subs := []*bus.Subscription{
		s.conn.Subscribe(bus.T("hal", "capability", "+", "+", "value")),
		s.conn.Subscribe(bus.T("hal", "capability", "+", "+", "state")),
		s.conn.Subscribe(bus.T("hal", "state")),
	}
	defer func() {
		for _, sub := range subs {
			s.conn.Unsubscribe(sub)
		}
	}()

	fanCtx, stop := context.WithCancel(ctx)
	defer stop()
	in := make(chan *bus.Message, 32)
	for _, sub := range subs {
		go func(ch <-chan *bus.Message) {
			for {
				select {
				case m, ok := <-ch:
					if !ok {
						return
					}
					select {
					case in <- m:
					case <-fanCtx.Done():
						return
					}
				case <-fanCtx.Done():
					return
				}
			}
		}(sub.Channel())
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-in:
			if m.Payload == nil {
				continue
			}
			b, err := json.Marshal(m.Payload)
			if err != nil {
				s.log.Debugw("payload not encodable", "topic", m.Topic.String(), "error", err)
				continue
			}
			if err := pub.Publish(RemoteTopic(cfg.Prefix, m.Topic), cfg.QoS, cfg.Retain, b); err != nil {
				return errors.Wrap(err, "publishing")
			}
		}
	}
}

// RemoteTopic maps hal/capability/<kind>/<id>/<leaf> to <prefix>/<kind>/<id>/<leaf>;
// other topics keep their full path under prefix.
func RemoteTopic(prefix string, t bus.Topic) string {
	parts := strings.Split(t.String(), "/")
	if len(parts) == 5 && parts[0] == "hal" && parts[1] == "capability" {
		parts = parts[2:]
	}
	if prefix != "" {
		parts = append([]string{strings.TrimSuffix(prefix, "/")}, parts...)
	}
	return strings.Join(parts, "/")
}

// -----------------------------------------------------------------------------
// paho client
// -----------------------------------------------------------------------------

const tokenTimeout = 10 * time.Second

type pahoPublisher struct {
	client mqtt.Client
}

func newPahoPublisher(cfg types.MQTTConfig) *pahoPublisher {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("tdsnode-%d", time.Now().UnixNano())
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(tokenTimeout).
		SetAutoReconnect(false)
	return &pahoPublisher{client: mqtt.NewClient(opts)}
}

func (p *pahoPublisher) Connect(ctx context.Context) error {
	return waitToken(ctx, p.client.Connect())
}

func (p *pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return waitToken(context.Background(), p.client.Publish(topic, qos, retained, payload))
}

func (p *pahoPublisher) Close() { p.client.Disconnect(250) }

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(tokenTimeout):
		return errors.New("mqtt: timed out waiting for broker")
	}
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,
		"status": status,
		"ts":     time.Now(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, payload, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
