package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"alarm-engine/internal/alarms/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type stubDispatcher struct {
	mu     sync.Mutex
	events []application.Event
	err    error
}

func (s *stubDispatcher) Publish(_ context.Context, event application.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func TestMultiDispatcherJoinsErrors(t *testing.T) {
	ok := &stubDispatcher{}
	bad := &stubDispatcher{err: errors.New("broker down")}
	multi := NewMultiDispatcher(
		Named{Name: "ok", Dispatcher: ok},
		Named{Name: "mqtt", Dispatcher: bad},
		Named{Name: "nil"},
	)
	require.Equal(t, 2, multi.Len())

	err := multi.Publish(context.Background(), raised(sampleOccurrence(time.Now()), sampleRule()))
	require.Error(t, err)
	require.Contains(t, err.Error(), "mqtt: broker down")
	require.Len(t, ok.events, 1)
	require.Len(t, bad.events, 1)
}

type fakeToken struct {
	err error
}

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTTClient struct {
	mqtt.Client
	mu   sync.Mutex
	sent []published
	err  error
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return fakeToken{err: c.err}
}

func (c *fakeMQTTClient) Disconnect(uint) {}

func TestMQTTPublisherTopicAndPayload(t *testing.T) {
	client := &fakeMQTTClient{}
	pub, err := NewMQTTPublisher(client, "plant/alarms/", 1, time.Second)
	require.NoError(t, err)
	defer pub.Close()

	event := raised(sampleOccurrence(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)), sampleRule())
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, client.sent, 1)
	require.Equal(t, "plant/alarms/tenant-1/rule-1/raised", client.sent[0].topic)
	require.Equal(t, byte(1), client.sent[0].qos)

	var decoded application.Event
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &decoded))
	require.Equal(t, "occ-1", decoded.OccurrenceID)
	require.Equal(t, application.EventRaised, decoded.Type)
	require.Equal(t, 82.5, decoded.Occurrence.CurrentValue.Number)
}

func TestMQTTPublisherErrors(t *testing.T) {
	_, err := NewMQTTPublisher(nil, "", 0, 0)
	require.Error(t, err)
	_, err = NewMQTTPublisher(&fakeMQTTClient{}, "", 3, 0)
	require.Error(t, err)

	client := &fakeMQTTClient{err: errors.New("not connected")}
	pub, err := NewMQTTPublisher(client, "", 0, 0)
	require.NoError(t, err)
	err = pub.Publish(context.Background(), raised(sampleOccurrence(time.Now()), sampleRule()))
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "mqtt publisher: publish to "+DefaultMQTTTopic))
}

func TestRedisPublisher(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	pub, err := NewRedisPublisher(rdb, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := rdb.Subscribe(ctx, pub.Channel("tenant-1"))
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, raised(sampleOccurrence(time.Now()), sampleRule())))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var decoded application.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
	require.Equal(t, "occ-1", decoded.OccurrenceID)
}

func TestNewRedisPublisherRequiresClient(t *testing.T) {
	_, err := NewRedisPublisher(nil, "x")
	require.Error(t, err)
}
