package gravitytds

import (
	"tdsnode/bus"
	drv "tdsnode/drivers/gravitytds"
	"tdsnode/services/hal/internal/consts"
	"tdsnode/types"
)

// busTemperature follows the retained value of a temperature capability.
// It owns no goroutine: pending updates are drained whenever the driver
// asks for the temperature.
type busTemperature struct {
	conn       *bus.Connection
	sub        *bus.Subscription
	fahrenheit bool
	last       *drv.TrackedTemperature
}

func followTemperature(conn *bus.Connection, capID int, fahrenheit bool) *busTemperature {
	topic := bus.T(consts.TokHAL, consts.TokCapability, types.KindTemperature, capID, consts.TokValue)
	return &busTemperature{
		conn:       conn,
		sub:        conn.Subscribe(topic),
		fahrenheit: fahrenheit,
		last:       drv.NewTrackedTemperature(false),
	}
}

func (b *busTemperature) Celsius() (float64, bool) {
	b.drain()
	return b.last.Celsius()
}

func (b *busTemperature) drain() {
	for {
		select {
		case m, ok := <-b.sub.Channel():
			if !ok {
				return
			}
			switch v := m.Payload.(type) {
			case types.TemperatureValue:
				b.last.Set(v.Celsius)
			case float64:
				if b.fahrenheit {
					v = drv.FahrenheitToCelsius(v)
				}
				b.last.Set(v)
			}
		default:
			return
		}
	}
}

func (b *busTemperature) close() { b.conn.Unsubscribe(b.sub) }
