package ingest

import (
	"errors"
	"time"

	"github.com/yanun0323/logs"

	"skstream/internal/dedup"
	"skstream/internal/delta"
	"skstream/internal/filter"
	"skstream/internal/monitor"
	"skstream/internal/obs"
	"skstream/pkg/exception"
)

// Router dispatches delta entries to the dedup cache, monitors, filters and the sink.
// It owns that state and is driven by a single goroutine.
type Router struct {
	sink    Sink
	metrics *obs.Metrics
	now     func() time.Time

	dedup         *dedup.Cache
	heartbeatPath string
	heartbeat     *monitor.Monitor
	monitors      map[string]*monitor.Monitor
	watched       []*monitor.Monitor
	filters       map[string]*filter.EWMA
	subscriptions *Subscriptions
}

// NewRouter builds the per-session consumers described by cfg.
func NewRouter(cfg Config, sink Sink, metrics *obs.Metrics, now func() time.Time) *Router {
	if sink == nil {
		sink = nopSink{}
	}
	if now == nil {
		now = time.Now
	}
	r := &Router{
		sink:          sink,
		metrics:       metrics,
		now:           now,
		dedup:         dedup.New(cfg.Dedup),
		monitors:      make(map[string]*monitor.Monitor, len(cfg.Monitors)),
		filters:       make(map[string]*filter.EWMA, len(cfg.Filters)),
		subscriptions: NewSubscriptions(cfg.Subscribe.Paths()),
	}
	if cfg.Heartbeat.Path != "" {
		r.heartbeatPath = cfg.Heartbeat.Path
		r.heartbeat = monitor.NewHeartbeat(cfg.Heartbeat.Path, cfg.Heartbeat.Timeout)
		r.watched = append(r.watched, r.heartbeat)
	}
	for _, mc := range cfg.Monitors {
		m := monitor.New(mc.Path, mc.Timeout, mc.Tolerance)
		r.monitors[mc.Path] = m
		r.watched = append(r.watched, m)
	}
	for _, fc := range cfg.Filters {
		r.filters[fc.Path] = filter.NewEWMA(fc.Alpha)
	}
	return r
}

// HandleText decodes one text payload and routes it.
// Decode failures are counted and returned; they never affect the session.
func (r *Router) HandleText(payload []byte) error {
	r.metrics.IncTextMessage()
	doc, err := delta.Parse(payload)
	switch {
	case err == nil:
		r.Route(doc)
		return nil
	case errors.Is(err, exception.ErrDeltaNotDelta):
		r.metrics.IncNonDelta()
		logs.Infof("non-delta message: %d bytes", len(payload))
		return nil
	default:
		r.metrics.IncDecodeError()
		logs.Errorf("discard text message (%d bytes): %v", len(payload), err)
		return err
	}
}

// Route processes every entry of doc in order.
func (r *Router) Route(doc delta.Document) {
	for _, u := range doc.Updates {
		source := u.SourceID()
		for _, v := range u.Values {
			r.routeValue(u.Timestamp, source, v)
		}
	}
}

func (r *Router) routeValue(timestamp, source string, v delta.Value) {
	now := r.now()
	if sub, ok := r.subscriptions.Confirm(v.Path); ok {
		logs.Infof("subscription confirmed: %s", sub)
	}

	r.metrics.IncValue()
	// A duplicate feeds neither the heartbeat nor the monitors.
	if r.dedup.IsDuplicate(timestamp, source, v.Path, v.Value, now) {
		r.metrics.IncSkipped()
		return
	}

	if r.heartbeat != nil && v.Path == r.heartbeatPath {
		if r.heartbeat.Observe(now) {
			logs.Infof("heartbeat detected, %s is fresh", v.Path)
			r.sink.Freshness(v.Path, true)
		}
	}

	if m, ok := r.monitors[v.Path]; ok {
		if m.Update(v.Value, now) {
			logs.Infof("%s changed, now fresh", v.Path)
			r.sink.Freshness(v.Path, true)
		}
	}

	ev := delta.Event{
		Path:      v.Path,
		Value:     v.Value,
		Source:    source,
		Timestamp: timestamp,
	}
	if f, ok := r.filters[v.Path]; ok {
		if x, ok := delta.Float(v.Value); ok {
			ev.Value = f.Update(x)
		}
	}
	r.sink.Value(ev)
}

// CheckTimeouts moves monitors that went quiet to stale and reports each edge once.
func (r *Router) CheckTimeouts(now time.Time) {
	for _, m := range r.watched {
		if m.CheckTimeout(now) {
			logs.Errorf("%s timed out after %s, data may be stale", m.Name(), m.Timeout())
			r.sink.Freshness(m.Name(), false)
		}
	}
}

// Reset clears every session-scoped consumer.
func (r *Router) Reset() {
	r.dedup.Reset()
	for _, m := range r.watched {
		m.Reset()
	}
	for _, f := range r.filters {
		f.Reset()
	}
	r.subscriptions.Reset()
}

// Signals returns the current freshness flags in configuration order.
// It may be called from any goroutine.
func (r *Router) Signals() []SignalFreshness {
	out := make([]SignalFreshness, 0, len(r.watched))
	for _, m := range r.watched {
		out = append(out, SignalFreshness{Path: m.Name(), Fresh: m.Fresh(), LastChange: m.LastUpdate()})
	}
	return out
}

// Subscriptions returns the confirmation tracker.
func (r *Router) Subscriptions() *Subscriptions {
	return r.subscriptions
}

type nopSink struct{}

func (nopSink) Value(delta.Event)      {}
func (nopSink) Freshness(string, bool) {}
func (nopSink) Status(Transition)      {}
