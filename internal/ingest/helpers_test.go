package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"skstream/internal/dedup"
	"skstream/internal/delta"
	"skstream/pkg/exception"
	"skstream/pkg/websocket"
)

const headingPath = "navigation.headingMagnetic"
const heartbeatPath = "environment.heartbeat"

func testConfig() Config {
	sub := func(p string) delta.Subscription {
		return delta.Subscription{Path: p, Period: 1000, Format: "delta", Policy: "instant", MinPeriod: 200}
	}
	return Config{
		Subscribe: delta.SubscribeRequest{
			Context:   "vessels.self",
			Subscribe: []delta.Subscription{sub(headingPath), sub(heartbeatPath)},
		},
		Heartbeat:   HeartbeatConfig{Path: heartbeatPath, Timeout: 30 * time.Second},
		Monitors:    []MonitorConfig{{Path: headingPath, Timeout: 30 * time.Second, Tolerance: 0.01}},
		Filters:     []FilterConfig{{Path: headingPath, Alpha: 0.2}},
		Dedup:       dedup.DefaultConfig(),
		LinkBackoff: websocket.DefaultBackoff(),
		AppBackoff:  websocket.DefaultBackoff(),
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type freshEdge struct {
	path  string
	fresh bool
}

type recordingSink struct {
	values      []delta.Event
	freshness   []freshEdge
	transitions []Transition
}

func (s *recordingSink) Value(ev delta.Event) { s.values = append(s.values, ev) }

func (s *recordingSink) Freshness(path string, fresh bool) {
	s.freshness = append(s.freshness, freshEdge{path: path, fresh: fresh})
}

func (s *recordingSink) Status(t Transition) { s.transitions = append(s.transitions, t) }

func (s *recordingSink) states() []ConnectionState {
	out := make([]ConnectionState, 0, len(s.transitions))
	for _, t := range s.transitions {
		out = append(out, t.To)
	}
	return out
}

type recvResult struct {
	frame websocket.Frame
	err   error
}

func textFrame(payload string) recvResult {
	return recvResult{frame: websocket.Frame{
		Header:  websocket.Header{Fin: true, Opcode: websocket.OpText, PayloadLength: uint64(len(payload))},
		Payload: []byte(payload),
	}}
}

func controlFrame(op websocket.Opcode, payload string) recvResult {
	return recvResult{frame: websocket.Frame{
		Header:  websocket.Header{Fin: true, Opcode: op, PayloadLength: uint64(len(payload))},
		Payload: []byte(payload),
	}}
}

func recvErr(err error) recvResult {
	return recvResult{err: err}
}

// fakeTransport replays a script and reports a read timeout once it runs out.
type fakeTransport struct {
	id     string
	script []recvResult
	sent   [][]byte
	pongs  []string
	closed int
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) RecvFrame() (websocket.Frame, error) {
	if len(t.script) == 0 {
		return websocket.Frame{}, exception.ErrWebSocketTimeout
	}
	r := t.script[0]
	t.script = t.script[1:]
	return r.frame, r.err
}

func (t *fakeTransport) SendText(payload []byte) error {
	t.sent = append(t.sent, append([]byte(nil), payload...))
	return nil
}

func (t *fakeTransport) SendPong(payload []byte) error {
	t.pongs = append(t.pongs, string(payload))
	return nil
}

func (t *fakeTransport) Close() error {
	t.closed++
	return nil
}

// dialScript hands out transports or errors in order; nil entries mean failure.
type dialScript struct {
	mu         sync.Mutex
	transports []*fakeTransport
	calls      int
}

func (d *dialScript) Dial(context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.transports) == 0 {
		return nil, exception.ErrWebSocketHandshake
	}
	t := d.transports[0]
	d.transports = d.transports[1:]
	if t == nil {
		return nil, exception.ErrWebSocketHandshake
	}
	return t, nil
}

type fakeLink struct {
	up       atomic.Bool
	failures atomic.Int32
	connects atomic.Int32
}

func newFakeLink(up bool) *fakeLink {
	l := &fakeLink{}
	l.up.Store(up)
	return l
}

func (l *fakeLink) Up() bool { return l.up.Load() }

func (l *fakeLink) Connect(context.Context) error {
	l.connects.Add(1)
	if l.failures.Load() > 0 {
		l.failures.Add(-1)
		return exception.ErrLinkUnavailable
	}
	l.up.Store(true)
	return nil
}

type sleepRecorder struct {
	clock  *fakeClock
	sleeps []time.Duration
}

func (r *sleepRecorder) Sleep(_ context.Context, d time.Duration) bool {
	r.sleeps = append(r.sleeps, d)
	r.clock.Advance(d)
	return true
}
