package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"skstream/internal/obs"
	"skstream/pkg/exception"
	"skstream/pkg/websocket"
)

// Transport is one open websocket session.
type Transport interface {
	ID() string
	RecvFrame() (websocket.Frame, error)
	SendText(payload []byte) error
	SendPong(payload []byte) error
	Close() error
}

// DialFunc opens a transport. Cancelling ctx must abandon the attempt.
type DialFunc func(ctx context.Context) (Transport, error)

// Link is the network link the transport runs over. Up is polled from more
// than one goroutine and must be safe for concurrent use.
type Link interface {
	Up() bool
	Connect(ctx context.Context) error
}

// SleepFunc waits for d and reports false when ctx ended first.
type SleepFunc func(ctx context.Context, d time.Duration) bool

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep SleepFunc) Option {
	return func(s *Supervisor) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// Supervisor drives the link and application reconnect state machine and feeds
// every received frame to the router. Run and Step belong to one goroutine;
// State, Health and Snapshot may be called from anywhere.
type Supervisor struct {
	cfg     Config
	dial    DialFunc
	link    Link
	sink    Sink
	metrics *obs.Metrics
	router  *Router

	now   func() time.Time
	sleep SleepFunc

	linkBackoff *websocket.BackoffCounter
	appBackoff  *websocket.BackoffCounter
	subscribe   []byte

	transport    Transport
	lastActivity time.Time
	nextSubCheck time.Time
	unconfirmed  []string

	state     atomic.Uint32
	session   atomic.Pointer[string]
	openedAt  atomic.Int64
	lastFrame atomic.Int64
}

// NewSupervisor wires a supervisor. A nil link is treated as always up.
func NewSupervisor(cfg Config, dial DialFunc, link Link, sink Sink, metrics *obs.Metrics, opts ...Option) (*Supervisor, error) {
	if dial == nil {
		return nil, exception.ErrNilInstance
	}
	cfg.init()
	if link == nil {
		link = alwaysUp{}
	}
	if sink == nil {
		sink = nopSink{}
	}
	subscribe, err := cfg.Subscribe.Encode()
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:         cfg,
		dial:        dial,
		link:        link,
		sink:        sink,
		metrics:     metrics,
		now:         time.Now,
		sleep:       sleepContext,
		linkBackoff: websocket.NewBackoffCounter(cfg.LinkBackoff),
		appBackoff:  websocket.NewBackoffCounter(cfg.AppBackoff),
		subscribe:   subscribe,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = NewRouter(cfg, sink, metrics, s.now)
	s.metrics.SetState(uint32(StateLinkDown))
	return s, nil
}

// Router returns the router fed by this supervisor.
func (s *Supervisor) Router() *Router {
	return s.router
}

// Run steps the state machine until ctx is done. It never gives up on errors.
func (s *Supervisor) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		s.Step(ctx)
	}
	if s.transport != nil {
		s.teardown("shutdown", StateLinkUpAppDisconnected)
	}
	return ctx.Err()
}

// Step performs one unit of work: a link attempt, a dial, or one frame read.
func (s *Supervisor) Step(ctx context.Context) {
	if !s.link.Up() {
		s.linkDown(ctx)
		return
	}

	switch s.State() {
	case StateLinkDown:
		s.linkBackoff.Reset()
		s.setState(StateLinkUpAppDisconnected, "link up")
	case StateOpen:
		s.receive(ctx)
	default:
		s.connect(ctx)
	}
}

func (s *Supervisor) linkDown(ctx context.Context) {
	if s.State() != StateLinkDown {
		s.metrics.IncLinkDrop()
		s.linkBackoff.Reset()
		s.teardown("link down", StateLinkDown)
	}

	if err := s.link.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		attempt := s.linkBackoff.Attempt()
		d := s.linkBackoff.Next()
		logs.Errorf("link connect failed (attempt %d), retry in %s, err: %+v", attempt+1, d, err)
		s.sleep(ctx, d)
	}
}

func (s *Supervisor) connect(ctx context.Context) {
	s.setState(StateHandshaking, "connect")

	dialCtx, cancel := context.WithCancel(ctx)
	stop := s.watchLink(dialCtx, cancel)
	t, err := s.dial(dialCtx)
	stop()
	cancel()

	if err != nil {
		s.setState(StateLinkUpAppDisconnected, "handshake failed")
		if ctx.Err() != nil {
			return
		}
		if !s.link.Up() {
			logs.Errorf("handshake abandoned, link went down: %v", err)
			return
		}
		s.metrics.IncTransportError()
		attempt := s.appBackoff.Attempt()
		d := s.appBackoff.Next()
		logs.Errorf("connect failed (attempt %d), retry in %s, err: %+v", attempt+1, d, err)
		s.sleep(ctx, d)
		return
	}
	if ctx.Err() != nil {
		_ = t.Close()
		s.setState(StateLinkUpAppDisconnected, "shutdown")
		return
	}
	s.open(ctx, t)
}

// watchLink cancels an in-flight dial when the link goes away.
func (s *Supervisor) watchLink(ctx context.Context, cancel context.CancelFunc) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(s.cfg.LinkWatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.link.Up() {
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (s *Supervisor) open(ctx context.Context, t Transport) {
	now := s.now()
	s.appBackoff.Reset()
	s.router.Reset()
	s.metrics.ResetFrameClock()

	s.transport = t
	id := t.ID()
	s.session.Store(&id)
	s.openedAt.Store(now.UnixNano())
	s.lastFrame.Store(0)
	s.lastActivity = now
	s.nextSubCheck = now.Add(s.cfg.SubscriptionInitialWait)
	s.metrics.IncConnect()
	s.setState(StateOpen, "handshake ok")

	if err := t.SendText(s.subscribe); err != nil {
		s.metrics.IncTransportError()
		s.drop(ctx, "subscribe failed", err, true)
		return
	}
	logs.Infof("subscribed to %d paths, session %s", s.router.Subscriptions().Count(), id)
}

func (s *Supervisor) receive(ctx context.Context) {
	frame, err := s.transport.RecvFrame()
	now := s.now()
	if err != nil {
		switch {
		case errors.Is(err, exception.ErrWebSocketTimeout):
			s.metrics.IncReadTimeout()
			if now.Sub(s.lastActivity) > s.cfg.DeadAfter {
				s.drop(ctx, "no data for "+s.cfg.DeadAfter.String(), nil, false)
				return
			}
		case errors.Is(err, exception.ErrWebSocketProtocol):
			s.metrics.IncProtocolError()
			s.drop(ctx, "protocol error", err, true)
			return
		default:
			s.metrics.IncTransportError()
			s.drop(ctx, "transport error", err, true)
			return
		}
		s.idle(now)
		return
	}

	s.lastActivity = now
	s.lastFrame.Store(now.UnixNano())
	s.metrics.ObserveFrame(frame.Opcode, len(frame.Payload), frame.Truncated, now)

	if frame.Truncated {
		s.metrics.IncProtocolError()
		s.drop(ctx, "frame over payload cap", exception.ErrWebSocketFrameTooLarge, true)
		return
	}

	switch frame.Opcode {
	case websocket.OpText:
		_ = s.router.HandleText(frame.Payload)
	case websocket.OpPing:
		if err := s.transport.SendPong(frame.Payload); err != nil {
			s.metrics.IncTransportError()
			s.drop(ctx, "pong failed", err, true)
			return
		}
	case websocket.OpPong:
	case websocket.OpClose:
		s.drop(ctx, "close frame", nil, false)
		return
	case websocket.OpBinary, websocket.OpContinuation:
		logs.Infof("ignore %s frame, %d bytes", frame.Opcode, len(frame.Payload))
	default:
		s.metrics.IncProtocolError()
		s.drop(ctx, "reserved opcode "+frame.Opcode.String(), exception.ErrWebSocketProtocol, true)
		return
	}
	s.idle(now)
}

// idle runs the periodic checks that ride on the read loop.
func (s *Supervisor) idle(now time.Time) {
	s.router.CheckTimeouts(now)

	if now.Before(s.nextSubCheck) {
		return
	}
	s.nextSubCheck = now.Add(s.cfg.SubscriptionCheckInterval)
	subs := s.router.Subscriptions()
	if subs.AllConfirmed() {
		s.unconfirmed = s.unconfirmed[:0]
		return
	}
	s.unconfirmed = subs.Unconfirmed(s.unconfirmed)
	if len(s.unconfirmed) > 0 {
		logs.Errorf("%d subscriptions still unconfirmed: %v", len(s.unconfirmed), s.unconfirmed)
	}
}

// drop ends the open session. With backoff set, it sleeps the application delay.
func (s *Supervisor) drop(ctx context.Context, reason string, err error, backoff bool) {
	if err != nil {
		logs.Errorf("drop session %s: %s: %v", s.SessionID(), reason, err)
	}
	s.teardown(reason, StateLinkUpAppDisconnected)
	if !backoff {
		return
	}
	attempt := s.appBackoff.Attempt()
	d := s.appBackoff.Next()
	logs.Infof("reconnect attempt %d in %s", attempt+1, d)
	s.sleep(ctx, d)
}

// teardown closes the transport and clears session state.
func (s *Supervisor) teardown(reason string, to ConnectionState) {
	if s.transport != nil {
		s.setState(StateClosing, reason)
		if err := s.transport.Close(); err != nil {
			logs.Infof("close session %s: %v", s.transport.ID(), err)
		}
		s.transport = nil
		s.metrics.IncDisconnect()
	}
	s.router.Reset()
	s.setState(to, reason)
	s.session.Store(nil)
	s.openedAt.Store(0)
	s.lastFrame.Store(0)
}

func (s *Supervisor) setState(to ConnectionState, reason string) {
	from := ConnectionState(s.state.Swap(uint32(to)))
	if from == to {
		return
	}
	s.metrics.SetState(uint32(to))
	t := Transition{
		From:      from,
		To:        to,
		SessionID: s.SessionID(),
		Reason:    reason,
		At:        s.now(),
	}
	logs.Infof("connection %s -> %s (%s) session=%s", from, to, reason, t.SessionID)
	s.sink.Status(t)
}

// State returns the current connection state.
func (s *Supervisor) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// SessionID returns the id of the open transport, or "".
func (s *Supervisor) SessionID() string {
	if p := s.session.Load(); p != nil {
		return *p
	}
	return ""
}

// LastFrame returns when the last frame of this session arrived, or the zero time.
func (s *Supervisor) LastFrame() time.Time {
	if n := s.lastFrame.Load(); n != 0 {
		return time.Unix(0, n)
	}
	return time.Time{}
}

// Health grades the session by the age of its last frame, counting from open
// until the first frame arrives.
func (s *Supervisor) Health(now time.Time) Health {
	if s.State() != StateOpen {
		return HealthDead
	}
	last := s.lastFrame.Load()
	if last == 0 {
		last = s.openedAt.Load()
	}
	if last == 0 {
		return HealthDead
	}
	age := now.Sub(time.Unix(0, last))
	switch {
	case age <= s.cfg.HealthStaleAfter:
		return HealthHealthy
	case age <= s.cfg.HealthDeadAfter:
		return HealthStale
	default:
		return HealthDead
	}
}

// Snapshot returns the current status.
func (s *Supervisor) Snapshot() Status {
	return Status{
		State:       s.State(),
		Health:      s.Health(s.now()),
		SessionID:   s.SessionID(),
		LastFrame:   s.LastFrame(),
		LinkAttempt: s.linkBackoff.Attempt(),
		AppAttempt:  s.appBackoff.Attempt(),
		LinkRetry:   s.linkBackoff.Peek(),
		AppRetry:    s.appBackoff.Peek(),
		Signals:     s.router.Signals(),
		Unconfirmed: s.router.Subscriptions().Unconfirmed(nil),
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type alwaysUp struct{}

func (alwaysUp) Up() bool                      { return true }
func (alwaysUp) Connect(context.Context) error { return nil }
