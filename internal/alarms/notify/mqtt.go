package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"alarm-engine/internal/alarms/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultMQTTTopic is the topic prefix for lifecycle events.
const DefaultMQTTTopic = "alarm-engine/events"

// MQTTConfig configures an MQTT connection.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Timeout  time.Duration
}

// MQTTPublisher publishes lifecycle events to
// "<topic>/<tenant>/<rule>/<event type>".
type MQTTPublisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

// DialMQTT connects to the broker and returns a publisher.
func DialMQTT(cfg MQTTConfig) (*MQTTPublisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt publisher: empty broker")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("alarm-engine-%d", time.Now().UnixNano())
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	publisher, err := NewMQTTPublisher(client, cfg.Topic, cfg.QoS, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	token := client.Connect()
	if !token.WaitTimeout(publisher.timeout) {
		return nil, fmt.Errorf("mqtt publisher: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt publisher: connect to %s: %w", cfg.Broker, err)
	}
	return publisher, nil
}

// NewMQTTPublisher wraps an existing client.
func NewMQTTPublisher(client mqtt.Client, topic string, qos byte, timeout time.Duration) (*MQTTPublisher, error) {
	if client == nil {
		return nil, errors.New("mqtt publisher: nil client")
	}
	topic = strings.TrimRight(strings.TrimSpace(topic), "/")
	if topic == "" {
		topic = DefaultMQTTTopic
	}
	if qos > 2 {
		return nil, fmt.Errorf("mqtt publisher: invalid qos %d", qos)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTPublisher{client: client, topic: topic, qos: qos, timeout: timeout}, nil
}

// Topic returns the topic an event is published on.
func (p *MQTTPublisher) Topic(event application.Event) string {
	return strings.Join([]string{p.topic, event.TenantID, event.RuleID, string(event.Type)}, "/")
}

// Publish implements application.Dispatcher.
func (p *MQTTPublisher) Publish(ctx context.Context, event application.Event) error {
	if p == nil || p.client == nil {
		return errors.New("mqtt publisher: nil client")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.Topic(event), p.qos, false, payload)
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publisher: publish to %s timed out", p.Topic(event))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publisher: publish to %s: %w", p.Topic(event), err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}
