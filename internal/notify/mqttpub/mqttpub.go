// Package mqttpub publishes notifications to an MQTT broker.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/harmonlabs/klaxon/internal/notify"
)

const (
	connectTimeout = 10 * time.Second
	publishQoS     = 1
)

// Config describes the broker connection.
type Config struct {
	Broker   string // e.g. tcp://broker:1883
	ClientID string
	Topic    string
	Username string
	Password string
}

// Publisher delivers notification messages to an MQTT topic.
type Publisher struct {
	client mqtt.Client
	topic  string
}

// New connects to the broker and returns a ready publisher. The paho client
// reconnects automatically after transient broker loss.
func New(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}

	return &Publisher{client: client, topic: cfg.Topic}, nil
}

// Name implements notify.Publisher.
func (p *Publisher) Name() string { return "mqtt" }

// Publish sends the message as JSON to the configured topic at QoS 1.
func (p *Publisher) Publish(ctx context.Context, msg *notify.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mqtt: marshal message: %w", err)
	}

	token := p.client.Publish(p.topic, publishQoS, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt: publish to %s: %w", p.topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt: publish to %s: %w", p.topic, ctx.Err())
	}
}

// Close disconnects from the broker, allowing in-flight work to finish.
func (p *Publisher) Close() {
	p.client.Disconnect(250) // milliseconds
}
