package mqttsink

import (
	"context"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"skstream/internal/delta"
	"skstream/internal/ingest"
	"skstream/internal/obs"
	"skstream/pkg/exception"
)

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type chanPublisher chan published

func (c chanPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	c <- published{topic: topic, qos: qos, retained: retained, payload: payload}
	return nil
}

func collect(t *testing.T, s *Sink, pub chanPublisher, n int) []published {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	out := make([]published, 0, n)
	for len(out) < n {
		select {
		case p := <-pub:
			out = append(out, p)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d of %d messages", len(out), n)
		}
	}
	cancel()
	<-done
	return out
}

func TestTopics(t *testing.T) {
	s, err := New(make(chanPublisher), Option{TopicPrefix: "boat/"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "boat/navigation/headingMagnetic", s.ValueTopic("navigation.headingMagnetic"))
	assert.Equal(t, "boat/freshness/environment/heartbeat", s.FreshnessTopic("environment.heartbeat"))
	assert.Equal(t, "boat/status", s.StatusTopic())
}

func TestSinkPublishesJSON(t *testing.T) {
	pub := make(chanPublisher, 8)
	s, err := New(pub, Option{QoS: 1}, nil)
	require.NoError(t, err)

	s.Value(delta.Event{Path: "navigation.headingMagnetic", Value: 1.11416, Source: "s1", Timestamp: "t1"})
	s.Freshness("environment.heartbeat", false)
	s.Status(ingest.Transition{From: ingest.StateHandshaking, To: ingest.StateOpen, SessionID: "abc", Reason: "handshake ok"})

	msgs := collect(t, s, pub, 3)

	assert.Equal(t, "skstream/navigation/headingMagnetic", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.False(t, msgs[0].retained)
	assert.JSONEq(t, `{"path":"navigation.headingMagnetic","value":1.11416,"source":"s1","timestamp":"t1"}`, string(msgs[0].payload))

	assert.Equal(t, "skstream/freshness/environment/heartbeat", msgs[1].topic)
	assert.True(t, msgs[1].retained)
	var fresh FreshnessPayload
	require.NoError(t, sonic.Unmarshal(msgs[1].payload, &fresh))
	assert.False(t, fresh.Fresh)
	assert.Equal(t, "environment.heartbeat", fresh.Path)

	assert.Equal(t, "skstream/status", msgs[2].topic)
	assert.True(t, msgs[2].retained)
	var status StatusPayload
	require.NoError(t, sonic.Unmarshal(msgs[2].payload, &status))
	assert.Equal(t, "open", status.State)
	assert.Equal(t, "handshaking", status.From)
	assert.Equal(t, "abc", status.SessionID)
}

func TestSinkPublishesMsgpack(t *testing.T) {
	pub := make(chanPublisher, 8)
	s, err := New(pub, Option{Encoding: EncodingMsgpack}, nil)
	require.NoError(t, err)

	s.Value(delta.Event{Path: "steering.autopilot.state", Value: "auto", Source: "s1"})
	msgs := collect(t, s, pub, 1)

	var got ValuePayload
	require.NoError(t, msgpack.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, "steering.autopilot.state", got.Path)
	assert.Equal(t, "auto", got.Value)
	assert.Equal(t, "s1", got.Source)
}

func TestSinkDropsWhenQueueFull(t *testing.T) {
	metrics := obs.NewMetrics()
	s, err := New(make(chanPublisher), Option{QueueSize: 1}, metrics)
	require.NoError(t, err)

	s.Value(delta.Event{Path: "a", Value: 1.0})
	s.Value(delta.Event{Path: "b", Value: 2.0})
	assert.Equal(t, uint64(1), metrics.Snapshot().QueueDrops)
}

func TestNewRejectsUnknownEncoding(t *testing.T) {
	_, err := New(make(chanPublisher), Option{Encoding: "xml"}, nil)
	assert.ErrorIs(t, err, exception.ErrInvalidConfig)

	_, err = New(nil, Option{}, nil)
	assert.ErrorIs(t, err, exception.ErrNilInstance)
}

func TestDialRequiresBroker(t *testing.T) {
	_, err := Dial(context.Background(), Option{})
	assert.ErrorIs(t, err, exception.ErrInvalidConfig)
}
