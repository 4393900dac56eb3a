package obs

import (
	"math"
	"sync/atomic"
	"time"

	"skstream/pkg/websocket"
)

// Metrics collects lightweight ingestion counters and frame timing.
// Every method is safe on a nil receiver.
type Metrics struct {
	frames       [websocket.OpcodeCount]uint64
	payloadBytes uint64
	truncated    uint64

	valuesReceived uint64
	valuesSkipped  uint64
	textMessages   uint64
	nonDelta       uint64
	decodeErrors   uint64

	protocolErrors  uint64
	transportErrors uint64
	readTimeouts    uint64
	connects        uint64
	disconnects     uint64
	linkDrops       uint64
	queueDrops      uint64

	frameInterval LatencyStats
	windowGap     LatencyStats
	lastFrame     int64
	signalBits    uint64

	state    uint32
	signalOK uint32
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Frames          map[websocket.Opcode]uint64
	PayloadBytes    uint64
	Truncated       uint64
	ValuesReceived  uint64
	ValuesSkipped   uint64
	TextMessages    uint64
	NonDelta        uint64
	DecodeErrors    uint64
	ProtocolErrors  uint64
	TransportErrors uint64
	ReadTimeouts    uint64
	Connects        uint64
	Disconnects     uint64
	LinkDrops       uint64
	QueueDrops      uint64
	State           uint32
	Signal          float64
	SignalKnown     bool
	FrameInterval   LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveFrame counts a frame by opcode and tracks the gap since the previous frame.
func (m *Metrics) ObserveFrame(op websocket.Opcode, payloadLen int, truncated bool, now time.Time) {
	if m == nil {
		return
	}
	idx := int(op)
	if idx >= 0 && idx < len(m.frames) {
		atomic.AddUint64(&m.frames[idx], 1)
	}
	if payloadLen > 0 {
		atomic.AddUint64(&m.payloadBytes, uint64(payloadLen))
	}
	if truncated {
		atomic.AddUint64(&m.truncated, 1)
	}
	nanos := now.UnixNano()
	prev := atomic.SwapInt64(&m.lastFrame, nanos)
	if prev > 0 && nanos >= prev {
		gap := time.Duration(nanos - prev)
		m.frameInterval.Observe(gap)
		m.windowGap.Observe(gap)
	}
}

// ResetFrameClock forgets the last frame time so gaps never span two connections.
func (m *Metrics) ResetFrameClock() {
	if m == nil {
		return
	}
	atomic.StoreInt64(&m.lastFrame, 0)
}

// LastFrame returns when the last frame arrived, or the zero time.
func (m *Metrics) LastFrame() time.Time {
	if m == nil {
		return time.Time{}
	}
	n := atomic.LoadInt64(&m.lastFrame)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// IncTextMessage records a text frame handed to the delta parser.
func (m *Metrics) IncTextMessage() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.textMessages, 1)
}

// IncValue records a routed path/value entry.
func (m *Metrics) IncValue() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.valuesReceived, 1)
}

// IncSkipped records a suppressed duplicate entry.
func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.valuesSkipped, 1)
}

// IncNonDelta records valid JSON without updates.
func (m *Metrics) IncNonDelta() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.nonDelta, 1)
}

// IncDecodeError records a discarded text payload.
func (m *Metrics) IncDecodeError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.decodeErrors, 1)
}

// IncProtocolError records a frame that forced a reconnect.
func (m *Metrics) IncProtocolError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.protocolErrors, 1)
}

// IncTransportError records a failed dial or socket error.
func (m *Metrics) IncTransportError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.transportErrors, 1)
}

// IncReadTimeout records a read phase that saw no data.
func (m *Metrics) IncReadTimeout() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.readTimeouts, 1)
}

// IncConnect records a successful open.
func (m *Metrics) IncConnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.connects, 1)
}

// IncDisconnect records a torn down session.
func (m *Metrics) IncDisconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.disconnects, 1)
}

// IncLinkDrop records the link going down.
func (m *Metrics) IncLinkDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.linkDrops, 1)
}

// IncQueueDrop records a sink queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// SetState stores the numeric connection state.
func (m *Metrics) SetState(state uint32) {
	if m == nil {
		return
	}
	atomic.StoreUint32(&m.state, state)
}

// SetSignal stores the latest link signal level in dBm.
func (m *Metrics) SetSignal(dbm float64, ok bool) {
	if m == nil {
		return
	}
	atomic.StoreUint64(&m.signalBits, math.Float64bits(dbm))
	if ok {
		atomic.StoreUint32(&m.signalOK, 1)
	} else {
		atomic.StoreUint32(&m.signalOK, 0)
	}
}

// TakeWindow returns frame gap stats collected since the previous call and starts a new window.
func (m *Metrics) TakeWindow() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{}
	}
	return m.windowGap.Take()
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	frames := make(map[websocket.Opcode]uint64)
	for i := range m.frames {
		if v := atomic.LoadUint64(&m.frames[i]); v > 0 {
			frames[websocket.Opcode(i)] = v
		}
	}
	return Snapshot{
		Frames:          frames,
		PayloadBytes:    atomic.LoadUint64(&m.payloadBytes),
		Truncated:       atomic.LoadUint64(&m.truncated),
		ValuesReceived:  atomic.LoadUint64(&m.valuesReceived),
		ValuesSkipped:   atomic.LoadUint64(&m.valuesSkipped),
		TextMessages:    atomic.LoadUint64(&m.textMessages),
		NonDelta:        atomic.LoadUint64(&m.nonDelta),
		DecodeErrors:    atomic.LoadUint64(&m.decodeErrors),
		ProtocolErrors:  atomic.LoadUint64(&m.protocolErrors),
		TransportErrors: atomic.LoadUint64(&m.transportErrors),
		ReadTimeouts:    atomic.LoadUint64(&m.readTimeouts),
		Connects:        atomic.LoadUint64(&m.connects),
		Disconnects:     atomic.LoadUint64(&m.disconnects),
		LinkDrops:       atomic.LoadUint64(&m.linkDrops),
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
		State:           atomic.LoadUint32(&m.state),
		Signal:          math.Float64frombits(atomic.LoadUint64(&m.signalBits)),
		SignalKnown:     atomic.LoadUint32(&m.signalOK) == 1,
		FrameInterval:   m.frameInterval.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}

// Take returns the stats and zeroes them. A sample racing with Take may land in either window.
func (l *LatencyStats) Take() LatencySnapshot {
	count := atomic.SwapUint64(&l.count, 0)
	sum := atomic.SwapUint64(&l.sum, 0)
	min := atomic.SwapUint64(&l.min, 0)
	max := atomic.SwapUint64(&l.max, 0)
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
