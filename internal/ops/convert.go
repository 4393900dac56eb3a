package ops

import (
	"skstream/internal/dedup"
	"skstream/internal/delta"
	"skstream/internal/ingest"
	"skstream/internal/sink/pgsink"
	"skstream/pkg/websocket"
)

// Endpoint returns the stream address.
func (cfg Config) Endpoint() websocket.Endpoint {
	return websocket.Endpoint{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
		Path: cfg.Server.StreamPath(),
	}
}

// DialOption returns the transport options.
func (cfg Config) DialOption() websocket.Option {
	return websocket.Option{
		ConnectTimeout:   cfg.Timeouts.Connect,
		HandshakeTimeout: cfg.Timeouts.Handshake,
		WriteTimeout:     cfg.Timeouts.Write,
		Timeouts: websocket.Timeouts{
			Header:         cfg.Timeouts.Header,
			ExtendedLength: cfg.Timeouts.ExtendedLength,
			MaskKey:        cfg.Timeouts.MaskKey,
			Payload:        cfg.Timeouts.Payload,
		},
		MaxPayload: cfg.Server.MaxPayload,
	}
}

// SubscribeRequest returns the request sent after every open.
func (cfg Config) SubscribeRequest() delta.SubscribeRequest {
	req := delta.SubscribeRequest{
		Context:   cfg.Subscribe.Context,
		Subscribe: make([]delta.Subscription, 0, len(cfg.Subscribe.Paths)),
	}
	for _, p := range cfg.Subscribe.Paths {
		req.Subscribe = append(req.Subscribe, delta.Subscription{
			Path:      p,
			Period:    cfg.Subscribe.Period,
			Format:    cfg.Subscribe.Format,
			Policy:    cfg.Subscribe.Policy,
			MinPeriod: cfg.Subscribe.MinPeriod,
		})
	}
	return req
}

// Ingest returns the supervisor configuration.
func (cfg Config) Ingest() ingest.Config {
	out := ingest.Config{
		Subscribe: cfg.SubscribeRequest(),
		Heartbeat: ingest.HeartbeatConfig{Path: cfg.Heartbeat.Path, Timeout: cfg.Heartbeat.Timeout},
		Dedup: dedup.Config{
			Enabled:   cfg.Dedup.Enabled,
			Window:    cfg.Dedup.Window,
			Capacity:  cfg.Dedup.Capacity,
			Precision: cfg.Dedup.Precision,
		},
		LinkBackoff:               cfg.Backoff.Link.schedule(),
		AppBackoff:                cfg.Backoff.App.schedule(),
		DeadAfter:                 cfg.Timeouts.DeadAfter,
		HealthStaleAfter:          cfg.Health.StaleAfter,
		HealthDeadAfter:           cfg.Health.DeadAfter,
		LinkWatchInterval:         cfg.Intervals.LinkWatch,
		SubscriptionInitialWait:   cfg.Intervals.SubscriptionInitialWait,
		SubscriptionCheckInterval: cfg.Intervals.SubscriptionCheck,
	}
	for _, m := range cfg.Monitors {
		out.Monitors = append(out.Monitors, ingest.MonitorConfig{Path: m.Path, Timeout: m.Timeout, Tolerance: m.Tolerance})
	}
	for _, f := range cfg.Filters {
		out.Filters = append(out.Filters, ingest.FilterConfig{Path: f.Path, Alpha: f.Alpha})
	}
	return out
}

// Recorder returns the postgres recorder options.
func (cfg Config) Recorder() pgsink.Option {
	return pgsink.Option{
		QueueSize:  cfg.Postgres.QueueSize,
		BatchSize:  cfg.Postgres.BatchSize,
		SkipValues: cfg.Postgres.SkipValues,
	}
}

func (b BackoffSchedule) schedule() websocket.Backoff {
	return websocket.Backoff{Initial: b.Initial, Max: b.Max, Multiplier: b.Multiplier}
}
