// Package mqttsink republishes routed telemetry to an MQTT broker.
package mqttsink

import (
	"context"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"skstream/internal/bus"
	"skstream/internal/delta"
	"skstream/internal/ingest"
	"skstream/internal/obs"
	"skstream/pkg/exception"
)

const (
	defaultTopicPrefix    = "skstream"
	defaultQueueSize      = 1024
	defaultConnectTimeout = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
)

// Option configures the broker connection and topics.
type Option struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	Encoding       Encoding      `yaml:"encoding"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	QueueSize      int           `yaml:"queue_size"`
}

func (opt *Option) init() {
	if opt.TopicPrefix == "" {
		opt.TopicPrefix = defaultTopicPrefix
	}
	opt.TopicPrefix = strings.TrimSuffix(opt.TopicPrefix, "/")
	if opt.ClientID == "" {
		opt.ClientID = "skstream-" + uuid.NewString()[:8]
	}
	if opt.Encoding == "" {
		opt.Encoding = EncodingJSON
	}
	if opt.ConnectTimeout <= 0 {
		opt.ConnectTimeout = defaultConnectTimeout
	}
	if opt.PublishTimeout <= 0 {
		opt.PublishTimeout = defaultPublishTimeout
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = defaultQueueSize
	}
	if opt.QoS > 2 {
		opt.QoS = 2
	}
}

// Publisher sends one message. The paho client is wrapped to satisfy it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type message struct {
	topic    string
	retained bool
	body     any
}

// Sink is an ingest.Sink that encodes and publishes from Run, off the ingestion goroutine.
type Sink struct {
	pub     Publisher
	opt     Option
	codec   codec
	queue   *bus.Queue[message]
	metrics *obs.Metrics
	now     func() time.Time
}

// New returns a sink publishing through pub.
func New(pub Publisher, opt Option, metrics *obs.Metrics) (*Sink, error) {
	if pub == nil {
		return nil, exception.ErrNilInstance
	}
	opt.init()
	c, err := codecFor(opt.Encoding)
	if err != nil {
		return nil, err
	}
	return &Sink{
		pub:     pub,
		opt:     opt,
		codec:   c,
		queue:   bus.NewQueue[message](opt.QueueSize),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// ValuePayload is published for each routed value.
type ValuePayload struct {
	Path      string `json:"path" msgpack:"path"`
	Value     any    `json:"value" msgpack:"value"`
	Source    string `json:"source,omitempty" msgpack:"source,omitempty"`
	Timestamp string `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

// FreshnessPayload is published, retained, on every monitor edge.
type FreshnessPayload struct {
	Path  string    `json:"path" msgpack:"path"`
	Fresh bool      `json:"fresh" msgpack:"fresh"`
	At    time.Time `json:"at" msgpack:"at"`
}

// StatusPayload is published, retained, on every connection transition.
type StatusPayload struct {
	State     string    `json:"state" msgpack:"state"`
	From      string    `json:"from" msgpack:"from"`
	SessionID string    `json:"sessionId,omitempty" msgpack:"sessionId,omitempty"`
	Reason    string    `json:"reason" msgpack:"reason"`
	At        time.Time `json:"at" msgpack:"at"`
}

func (s *Sink) Value(ev delta.Event) {
	s.enqueue(message{
		topic: s.ValueTopic(ev.Path),
		body: ValuePayload{
			Path:      ev.Path,
			Value:     ev.Value,
			Source:    ev.Source,
			Timestamp: ev.Timestamp,
		},
	})
}

func (s *Sink) Freshness(path string, fresh bool) {
	s.enqueue(message{
		topic:    s.FreshnessTopic(path),
		retained: true,
		body:     FreshnessPayload{Path: path, Fresh: fresh, At: s.now().UTC()},
	})
}

func (s *Sink) Status(t ingest.Transition) {
	s.enqueue(message{
		topic:    s.StatusTopic(),
		retained: true,
		body: StatusPayload{
			State:     t.To.String(),
			From:      t.From.String(),
			SessionID: t.SessionID,
			Reason:    t.Reason,
			At:        t.At.UTC(),
		},
	})
}

func (s *Sink) enqueue(m message) {
	if err := s.queue.TryPublish(m); err != nil {
		s.metrics.IncQueueDrop()
	}
}

// ValueTopic maps a dotted path to <prefix>/<path with slashes>.
func (s *Sink) ValueTopic(path string) string {
	return s.opt.TopicPrefix + "/" + strings.ReplaceAll(path, ".", "/")
}

// FreshnessTopic returns <prefix>/freshness/<path with slashes>.
func (s *Sink) FreshnessTopic(path string) string {
	return s.opt.TopicPrefix + "/freshness/" + strings.ReplaceAll(path, ".", "/")
}

// StatusTopic returns <prefix>/status.
func (s *Sink) StatusTopic() string {
	return s.opt.TopicPrefix + "/status"
}

// Run publishes queued messages until ctx is done.
func (s *Sink) Run(ctx context.Context) error {
	s.queue.Run(ctx, func(m message) {
		payload, err := s.codec.Marshal(m.body)
		if err != nil {
			logs.Errorf("encode %s, err: %+v", m.topic, err)
			return
		}
		if err := s.pub.Publish(m.topic, s.opt.QoS, m.retained, payload); err != nil {
			logs.Errorf("publish %s, err: %+v", m.topic, err)
		}
	})
	s.queue.Close()
	return ctx.Err()
}

// Client adapts a paho client to Publisher.
type Client struct {
	client  mqtt.Client
	timeout time.Duration
}

// Dial connects to the broker. The client reconnects on its own afterwards.
func Dial(ctx context.Context, opt Option) (*Client, error) {
	opt.init()
	if opt.Broker == "" {
		return nil, errors.Wrap(exception.ErrInvalidConfig, "mqtt broker is empty")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(opt.Broker)
	opts.SetClientID(opt.ClientID)
	if opt.Username != "" {
		opts.SetUsername(opt.Username)
		opts.SetPassword(opt.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(opt.ConnectTimeout)
	opts.OnConnect = func(mqtt.Client) {
		logs.Infof("mqtt connected to %s as %s", opt.Broker, opt.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logs.Errorf("mqtt connection to %s lost, err: %+v", opt.Broker, err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(opt.ConnectTimeout):
		client.Disconnect(0)
		return nil, errors.Errorf("mqtt connect to %s timed out after %s", opt.Broker, opt.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "mqtt connect").With("broker", opt.Broker)
	}
	return &Client{client: client, timeout: opt.PublishTimeout}, nil
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return errors.Errorf("publish %s timed out", topic)
	}
	return token.Error()
}

// Close disconnects, giving in-flight messages a moment to leave.
func (c *Client) Close() {
	c.client.Disconnect(250)
}
