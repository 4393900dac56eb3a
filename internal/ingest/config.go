package ingest

import (
	"time"

	"skstream/internal/dedup"
	"skstream/internal/delta"
	"skstream/pkg/websocket"
)

// MonitorConfig watches one path for value changes.
type MonitorConfig struct {
	Path      string
	Timeout   time.Duration
	Tolerance float64
}

// FilterConfig smooths one numeric path.
type FilterConfig struct {
	Path  string
	Alpha float64
}

// HeartbeatConfig watches one path for arrivals.
type HeartbeatConfig struct {
	Path    string
	Timeout time.Duration
}

// Config is everything the ingestion session needs. It is built once and never mutated.
type Config struct {
	Subscribe delta.SubscribeRequest
	Heartbeat HeartbeatConfig
	Monitors  []MonitorConfig
	Filters   []FilterConfig
	Dedup     dedup.Config

	LinkBackoff websocket.Backoff
	AppBackoff  websocket.Backoff

	// DeadAfter tears the session down when no frame arrived for this long.
	DeadAfter time.Duration
	// HealthStaleAfter and HealthDeadAfter grade the open connection.
	HealthStaleAfter time.Duration
	HealthDeadAfter  time.Duration
	// LinkWatchInterval is how often the link is polled while a dial is in flight.
	LinkWatchInterval time.Duration
	// SubscriptionInitialWait delays the first unconfirmed-subscription report after open.
	SubscriptionInitialWait time.Duration
	// SubscriptionCheckInterval spaces later reports.
	SubscriptionCheckInterval time.Duration
}

func (cfg *Config) init() {
	if cfg.DeadAfter <= 0 {
		cfg.DeadAfter = 30 * time.Second
	}
	if cfg.HealthStaleAfter <= 0 {
		cfg.HealthStaleAfter = 10 * time.Second
	}
	if cfg.HealthDeadAfter <= 0 {
		cfg.HealthDeadAfter = 20 * time.Second
	}
	if cfg.LinkWatchInterval <= 0 {
		cfg.LinkWatchInterval = 250 * time.Millisecond
	}
	if cfg.SubscriptionInitialWait <= 0 {
		cfg.SubscriptionInitialWait = 5 * time.Second
	}
	if cfg.SubscriptionCheckInterval <= 0 {
		cfg.SubscriptionCheckInterval = 15 * time.Second
	}
	if cfg.LinkBackoff == (websocket.Backoff{}) {
		cfg.LinkBackoff = websocket.DefaultBackoff()
	}
	if cfg.AppBackoff == (websocket.Backoff{}) {
		cfg.AppBackoff = websocket.DefaultBackoff()
	}
}
