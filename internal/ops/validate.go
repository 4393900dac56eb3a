package ops

import (
	"time"

	"github.com/yanun0323/errors"

	"skstream/internal/sink/mqttsink"
	"skstream/pkg/exception"
)

func invalid(format string, args ...any) error {
	return errors.Wrapf(exception.ErrInvalidConfig, format, args...)
}

// Validate rejects values the ingestion loop cannot run with.
func (cfg Config) Validate() error {
	if cfg.Server.Host == "" {
		return invalid("server.host is empty")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return invalid("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.Path == "" && cfg.Server.Version == "" {
		return invalid("server.version and server.path are both empty")
	}
	if cfg.Server.MaxPayload <= 0 {
		return invalid("server.max_payload must be > 0")
	}

	if cfg.Subscribe.Context == "" {
		return invalid("subscribe.context is empty")
	}
	for i, p := range cfg.Subscribe.Paths {
		if p == "" {
			return invalid("subscribe.paths[%d] is empty", i)
		}
	}

	timeouts := map[string]time.Duration{
		"connect":         cfg.Timeouts.Connect,
		"handshake":       cfg.Timeouts.Handshake,
		"write":           cfg.Timeouts.Write,
		"header":          cfg.Timeouts.Header,
		"extended_length": cfg.Timeouts.ExtendedLength,
		"mask_key":        cfg.Timeouts.MaskKey,
		"payload":         cfg.Timeouts.Payload,
		"dead_after":      cfg.Timeouts.DeadAfter,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return invalid("timeouts.%s must be > 0", name)
		}
	}

	if err := cfg.Backoff.Link.validate("backoff.link"); err != nil {
		return err
	}
	if err := cfg.Backoff.App.validate("backoff.app"); err != nil {
		return err
	}

	if cfg.Dedup.Enabled {
		if cfg.Dedup.Window <= 0 {
			return invalid("dedup.window must be > 0")
		}
		if cfg.Dedup.Capacity < 1 {
			return invalid("dedup.capacity must be >= 1")
		}
	}
	if cfg.Dedup.Precision < 0 || cfg.Dedup.Precision > 15 {
		return invalid("dedup.precision %d out of range [0,15]", cfg.Dedup.Precision)
	}

	if cfg.Heartbeat.Path != "" && cfg.Heartbeat.Timeout <= 0 {
		return invalid("heartbeat.timeout must be > 0")
	}
	seen := make(map[string]bool, len(cfg.Monitors))
	for i, m := range cfg.Monitors {
		switch {
		case m.Path == "":
			return invalid("monitors[%d].path is empty", i)
		case m.Timeout <= 0:
			return invalid("monitors[%d].timeout must be > 0", i)
		case m.Tolerance < 0:
			return invalid("monitors[%d].tolerance must be >= 0", i)
		case seen[m.Path] || m.Path == cfg.Heartbeat.Path:
			return invalid("monitors[%d].path %s is watched twice", i, m.Path)
		}
		seen[m.Path] = true
	}
	for i, f := range cfg.Filters {
		if f.Path == "" {
			return invalid("filters[%d].path is empty", i)
		}
		if f.Alpha < 0 || f.Alpha > 1 {
			return invalid("filters[%d].alpha %v out of range [0,1]", i, f.Alpha)
		}
	}

	if cfg.Health.StaleAfter <= 0 || cfg.Health.DeadAfter < cfg.Health.StaleAfter {
		return invalid("health needs 0 < stale_after <= dead_after")
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return invalid("mqtt.broker is empty")
		}
		switch cfg.MQTT.Encoding {
		case "", mqttsink.EncodingJSON, mqttsink.EncodingMsgpack:
		default:
			return invalid("mqtt.encoding %q is not json or msgpack", cfg.MQTT.Encoding)
		}
	}
	if cfg.Profiling.Enabled && cfg.Profiling.ServerAddress == "" {
		return invalid("profiling.server_address is empty")
	}
	return nil
}

func (b BackoffSchedule) validate(name string) error {
	if b.Initial <= 0 {
		return invalid("%s.initial must be > 0", name)
	}
	if b.Max < b.Initial {
		return invalid("%s.max must be >= initial", name)
	}
	if b.Multiplier < 1 {
		return invalid("%s.multiplier must be >= 1", name)
	}
	return nil
}
