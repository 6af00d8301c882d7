// Package mqttdriver implements the MQTT protocol driver on top of
// github.com/eclipse/paho.mqtt.golang. This is a real client, not a
// simulated stub: the source's fallback MQTT path simulates success
// without touching the network, which this driver deliberately does not
// reproduce.
package mqttdriver

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/registry"
)

type client struct {
	c mqtt.Client
}

func (h *client) Close() error {
	h.c.Disconnect(250)
	return nil
}

// Driver is the MQTT protocol driver.
type Driver struct{}

func New() *Driver { return &Driver{} }

func (d *Driver) Execute(ctx context.Context, reg *registry.Registry, op protocol.Operation, deadline time.Time) (*protocol.Outcome, error) {
	if op.MQTT == nil {
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
	p := op.MQTT
	broker := fmt.Sprintf("tcp://%s:%d", p.Broker, p.Port)
	key := registry.Key{Kind: registry.KindMQTT, EndpointKey: broker}

	waitTimeout := p.Timeout
	if waitTimeout <= 0 {
		waitTimeout = 10 * time.Second
	}

	switch op.Kind {
	case protocol.KindMQTTConnect:
		start := time.Now()
		_, err := reg.GetOrCreate(key, func() (registry.Handle, error) {
			opts := mqtt.NewClientOptions().AddBroker(broker)
			if p.ClientID != "" {
				opts.SetClientID(p.ClientID)
			}
			if p.Username != "" {
				opts.SetUsername(p.Username)
			}
			if p.Password != "" {
				opts.SetPassword(p.Password)
			}
			if p.KeepAlive > 0 {
				opts.SetKeepAlive(p.KeepAlive)
			}
			c := mqtt.NewClient(opts)
			tok := c.Connect()
			if !tok.WaitTimeout(waitTimeout) {
				return nil, fmt.Errorf("mqtt: connect timed out")
			}
			if tok.Error() != nil {
				return nil, tok.Error()
			}
			return &client{c: c}, nil
		})
		elapsed := time.Since(start).Microseconds()
		if err != nil {
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrConnectionRefused}, nil
		}
		return &protocol.Outcome{Success: true, ResponseTimeUs: elapsed}, nil

	case protocol.KindMQTTPublish:
		h, ok := reg.Get(key)
		if !ok {
			return &protocol.Outcome{Success: false, Error: protocol.ErrNoConnection}, nil
		}
		c := h.(*client)
		start := time.Now()
		tok := c.c.Publish(p.Topic, byte(p.QoS), p.Retain, p.Payload)
		ok = tok.WaitTimeout(waitTimeout)
		elapsed := time.Since(start).Microseconds()
		if !ok || tok.Error() != nil {
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrTimeout}, nil
		}
		return &protocol.Outcome{
			Success:        true,
			ResponseTimeUs: elapsed,
			ProtocolData:   map[string]any{"topic": p.Topic, "qos": int(p.QoS)},
		}, nil

	case protocol.KindMQTTSubscribe:
		h, ok := reg.Get(key)
		if !ok {
			return &protocol.Outcome{Success: false, Error: protocol.ErrNoConnection}, nil
		}
		c := h.(*client)
		start := time.Now()
		tok := c.c.Subscribe(p.Topic, byte(p.QoS), nil)
		ok = tok.WaitTimeout(waitTimeout)
		elapsed := time.Since(start).Microseconds()
		if !ok || tok.Error() != nil {
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrTimeout}, nil
		}
		return &protocol.Outcome{Success: true, ResponseTimeUs: elapsed, ProtocolData: map[string]any{"topic": p.Topic}}, nil

	case protocol.KindMQTTUnsubscribe:
		h, ok := reg.Get(key)
		if !ok {
			return &protocol.Outcome{Success: false, Error: protocol.ErrNoConnection}, nil
		}
		c := h.(*client)
		start := time.Now()
		tok := c.c.Unsubscribe(p.Topic)
		ok = tok.WaitTimeout(waitTimeout)
		elapsed := time.Since(start).Microseconds()
		if !ok || tok.Error() != nil {
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrTimeout}, nil
		}
		return &protocol.Outcome{Success: true, ResponseTimeUs: elapsed}, nil

	case protocol.KindMQTTDisconnect:
		if err := reg.Remove(key); err != nil {
			return &protocol.Outcome{Success: false, Error: protocol.ErrConnectionLost}, nil
		}
		return &protocol.Outcome{Success: true}, nil

	default:
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
}
