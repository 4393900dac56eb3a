// Package ops loads the process configuration.
package ops

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"skstream/internal/dedup"
	"skstream/internal/sink/mqttsink"
	"skstream/pkg/conn"
)

// Config mirrors the YAML config layout. Load overlays a file onto Default.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Link      LinkConfig      `yaml:"link"`
	Subscribe SubscribeConfig `yaml:"subscribe"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Backoff   BackoffConfig   `yaml:"backoff"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Monitors  []MonitorConfig `yaml:"monitors"`
	Filters   []FilterConfig  `yaml:"filters"`
	Health    HealthConfig    `yaml:"health"`
	Intervals IntervalConfig  `yaml:"intervals"`
	Console   ConsoleConfig   `yaml:"console"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Profiling ProfilingConfig `yaml:"profiling"`
}

// ServerConfig locates the Signal K stream.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Version string `yaml:"version"`
	// Path overrides /signalk/<version>/stream.
	Path       string `yaml:"path,omitempty"`
	MaxPayload int    `yaml:"max_payload"`
}

// StreamPath returns the websocket path.
func (s ServerConfig) StreamPath() string {
	if s.Path != "" {
		return s.Path
	}
	return "/signalk/" + s.Version + "/stream"
}

// LinkConfig selects the link implementation. An empty interface means always up.
type LinkConfig struct {
	Interface string `yaml:"interface"`
}

// SubscribeConfig builds the subscription request.
type SubscribeConfig struct {
	Context   string   `yaml:"context"`
	Period    int      `yaml:"period"`
	MinPeriod int      `yaml:"min_period"`
	Format    string   `yaml:"format"`
	Policy    string   `yaml:"policy"`
	Paths     []string `yaml:"paths"`
}

// TimeoutConfig holds every socket deadline.
type TimeoutConfig struct {
	Connect        time.Duration `yaml:"connect"`
	Handshake      time.Duration `yaml:"handshake"`
	Write          time.Duration `yaml:"write"`
	Header         time.Duration `yaml:"header"`
	ExtendedLength time.Duration `yaml:"extended_length"`
	MaskKey        time.Duration `yaml:"mask_key"`
	Payload        time.Duration `yaml:"payload"`
	DeadAfter      time.Duration `yaml:"dead_after"`
}

// BackoffSchedule is min(initial * multiplier^n, max).
type BackoffSchedule struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

// BackoffConfig keeps the link and server retry schedules apart.
type BackoffConfig struct {
	Link BackoffSchedule `yaml:"link"`
	App  BackoffSchedule `yaml:"app"`
}

type DedupConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Window    time.Duration `yaml:"window"`
	Capacity  int           `yaml:"capacity"`
	Precision int           `yaml:"precision"`
}

type HeartbeatConfig struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

type MonitorConfig struct {
	Path      string        `yaml:"path"`
	Timeout   time.Duration `yaml:"timeout"`
	Tolerance float64       `yaml:"tolerance"`
}

type FilterConfig struct {
	Path  string  `yaml:"path"`
	Alpha float64 `yaml:"alpha"`
}

// HealthConfig grades the connection and exposes it over HTTP when Listen is set.
type HealthConfig struct {
	Listen     string        `yaml:"listen"`
	StaleAfter time.Duration `yaml:"stale_after"`
	DeadAfter  time.Duration `yaml:"dead_after"`
}

type IntervalConfig struct {
	Indicator               time.Duration `yaml:"indicator"`
	LinkPoll                time.Duration `yaml:"link_poll"`
	LinkWatch               time.Duration `yaml:"link_watch"`
	SubscriptionInitialWait time.Duration `yaml:"subscription_initial_wait"`
	SubscriptionCheck       time.Duration `yaml:"subscription_check"`
	Statistics              time.Duration `yaml:"statistics"`
}

type ConsoleConfig struct {
	Enabled    bool     `yaml:"enabled"`
	AnglePaths []string `yaml:"angle_paths"`
}

type PostgresConfig struct {
	Enabled             bool `yaml:"enabled"`
	conn.PostgresOption `yaml:",inline"`
	QueueSize           int  `yaml:"queue_size"`
	BatchSize           int  `yaml:"batch_size"`
	SkipValues          bool `yaml:"skip_values"`
}

type MQTTConfig struct {
	Enabled         bool `yaml:"enabled"`
	mqttsink.Option `yaml:",inline"`
}

type ProfilingConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ServerAddress   string `yaml:"server_address"`
	ApplicationName string `yaml:"application_name"`
}

// Default returns the configuration of a single vessel server on localhost.
func Default() Config {
	const (
		heading       = "navigation.headingMagnetic"
		targetHeading = "steering.autopilot.target.headingMagnetic"
		heartbeat     = "environment.heartbeat"
	)
	backoff := BackoffSchedule{Initial: 5 * time.Second, Max: 30 * time.Second, Multiplier: 2}
	dd := dedup.DefaultConfig()

	return Config{
		Server: ServerConfig{Host: "localhost", Port: 3000, Version: "v1", MaxPayload: 10000},
		Subscribe: SubscribeConfig{
			Context:   "vessels.self",
			Period:    1000,
			MinPeriod: 200,
			Format:    "delta",
			Policy:    "instant",
			Paths:     []string{heading, "steering.autopilot.state", targetHeading, heartbeat},
		},
		Timeouts: TimeoutConfig{
			Connect:        5 * time.Second,
			Handshake:      2 * time.Second,
			Write:          2 * time.Second,
			Header:         time.Second,
			ExtendedLength: 500 * time.Millisecond,
			MaskKey:        500 * time.Millisecond,
			Payload:        time.Second,
			DeadAfter:      30 * time.Second,
		},
		Backoff:   BackoffConfig{Link: backoff, App: backoff},
		Dedup:     DedupConfig{Enabled: dd.Enabled, Window: dd.Window, Capacity: dd.Capacity, Precision: dd.Precision},
		Heartbeat: HeartbeatConfig{Path: heartbeat, Timeout: 30 * time.Second},
		Monitors:  []MonitorConfig{{Path: heading, Timeout: 30 * time.Second, Tolerance: 0.01}},
		Filters:   []FilterConfig{{Path: heading, Alpha: 0.2}},
		Health:    HealthConfig{StaleAfter: 10 * time.Second, DeadAfter: 20 * time.Second},
		Intervals: IntervalConfig{
			Indicator:               500 * time.Millisecond,
			LinkPoll:                10 * time.Second,
			LinkWatch:               250 * time.Millisecond,
			SubscriptionInitialWait: 5 * time.Second,
			SubscriptionCheck:       15 * time.Second,
			Statistics:              time.Minute,
		},
		Console: ConsoleConfig{Enabled: true, AnglePaths: []string{heading, targetHeading}},
		Postgres: PostgresConfig{
			PostgresOption: conn.PostgresOption{Database: "skstream", User: "skstream"},
			QueueSize:      4096,
			BatchSize:      256,
		},
		MQTT: MQTTConfig{Option: mqttsink.Option{
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "skstream",
			Encoding:    mqttsink.EncodingJSON,
		}},
		Profiling: ProfilingConfig{ApplicationName: "skstream"},
	}
}

// Load reads a YAML (or JSON) file over Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config").With("path", path)
	}
	return Parse(data)
}

// Parse overlays data onto Default and validates the result.
// Lists given in data replace the default lists.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (cfg Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
