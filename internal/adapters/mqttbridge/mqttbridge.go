// Package mqttbridge is a worked egress-and-ingress example adapter: it
// delivers agent-sourced MESSAGE observations to an MQTT topic
// (egress.Adapter) and turns inbound messages on a control topic into
// CONTROL observations published onto the input bus (an ingress
// source). It exercises eclipse/paho.golang the way the teacher's
// internal/mqtt package does, generalized from Home Assistant discovery
// publishing to a plain pub/sub bridge.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/gatecore/internal/observation"
)

// Config configures the MQTT bridge.
type Config struct {
	BrokerURL    string
	ClientID     string
	Topic        string // outbound publish topic
	ControlTopic string // inbound CONTROL subscribe topic, empty disables ingress
}

// Publisher delivers observations to a bus.PublishNowait-style sink.
// The bridge depends only on this narrow interface so it never needs
// to import the bus package directly.
type Publisher interface {
	PublishNowait(obs observation.Observation) error
}

// Bridge is an egress.Adapter and, when ControlTopic is set, an
// ingress source that feeds a Publisher.
type Bridge struct {
	cfg    Config
	logger *slog.Logger
	cm     *autopaho.ConnectionManager

	connected atomic.Bool
}

// New creates a Bridge but does not connect. Call Start to begin.
func New(cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, logger: logger}
}

// Start connects to the broker and, if ControlTopic is set, subscribes
// and forwards inbound messages to pub as CONTROL observations. It
// blocks until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context, pub Publisher) error {
	brokerURL, err := url.Parse(b.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqttbridge: parse broker url: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.connected.Store(true)
			b.logger.Info("mqttbridge connected", "broker", b.cfg.BrokerURL)
			if b.cfg.ControlTopic != "" {
				subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if _, err := cm.Subscribe(subCtx, &paho.Subscribe{
					Subscriptions: []paho.SubscribeOptions{
						{Topic: b.cfg.ControlTopic, QoS: 0},
					},
				}); err != nil {
					b.logger.Warn("mqttbridge subscribe failed", "topic", b.cfg.ControlTopic, "error", err)
				}
			}
		},
		OnConnectError: func(err error) {
			b.connected.Store(false)
			b.logger.Warn("mqttbridge connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.cfg.ClientID,
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqttbridge: connect: %w", err)
	}
	b.cm = cm

	if b.cfg.ControlTopic != "" {
		cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
			b.handleInbound(pr.Packet.Topic, pr.Packet.Payload, pub)
			return true, nil
		})
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqttbridge initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	return cm.Disconnect(context.Background())
}

// handleInbound converts a raw MQTT payload into a system-sourced
// CONTROL observation and hands it to pub. Malformed payloads are
// logged and dropped rather than surfaced as errors, since a
// misbehaving external broker client must never take down ingestion.
func (b *Bridge) handleInbound(topic string, payload []byte, pub Publisher) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		b.logger.Warn("mqttbridge: dropping non-JSON control payload", "topic", topic, "error", err)
		return
	}

	kind, _ := data["kind"].(string)
	if kind == "" {
		kind = observation.ControlTuningSuggestion
	}

	obs := observation.New(
		observation.TypeControl,
		observation.SystemSessionKey,
		observation.Actor{ActorID: "mqtt-bridge", ActorType: observation.ActorService},
		"mqttbridge:"+topic,
		observation.SourceExternal,
		observation.Payload{Control: &observation.ControlPayload{Kind: kind, Data: data}},
	)

	if err := pub.PublishNowait(obs); err != nil {
		b.logger.Warn("mqttbridge: publish failed", "error", err)
	}
}

// Deliver implements egress.Adapter: it publishes obs.Payload.Message.Text
// (or a JSON-encoded control payload) to the configured outbound topic.
func (b *Bridge) Deliver(ctx context.Context, obs observation.Observation) error {
	if b.cm == nil {
		return fmt.Errorf("mqttbridge: not started")
	}

	var payload []byte
	switch {
	case obs.Payload.Message != nil:
		payload = []byte(obs.Payload.Message.Text)
	default:
		encoded, err := json.Marshal(obs.Payload)
		if err != nil {
			return fmt.Errorf("mqttbridge: encode payload: %w", err)
		}
		payload = encoded
	}

	_, err := b.cm.Publish(ctx, &paho.Publish{
		Topic:   b.cfg.Topic,
		Payload: payload,
		QoS:     0,
	})
	if err != nil {
		return fmt.Errorf("mqttbridge: publish: %w", err)
	}
	return nil
}

// Connected reports whether the bridge currently has a live broker
// connection.
func (b *Bridge) Connected() bool { return b.connected.Load() }
