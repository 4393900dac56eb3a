package ingest

import "time"

// ConnectionState is the supervisor lifecycle state.
type ConnectionState uint32

const (
	StateLinkDown ConnectionState = iota
	StateLinkUpAppDisconnected
	StateHandshaking
	StateOpen
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateLinkDown:
		return "link_down"
	case StateLinkUpAppDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Health grades the open connection by the age of its last frame.
type Health uint8

const (
	HealthDead Health = iota
	HealthStale
	HealthHealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthStale:
		return "stale"
	default:
		return "dead"
	}
}

// Transition describes one state change.
type Transition struct {
	From      ConnectionState
	To        ConnectionState
	SessionID string
	Reason    string
	At        time.Time
}

// SignalFreshness is the freshness flag of one monitored path.
type SignalFreshness struct {
	Path  string
	Fresh bool
	// LastChange is when the value last changed, zero before the first one.
	LastChange time.Time
}

// Status is a point-in-time view of the supervisor, safe to take from any goroutine.
type Status struct {
	State       ConnectionState
	Health      Health
	SessionID   string
	LastFrame   time.Time
	LinkAttempt uint32
	AppAttempt  uint32
	// LinkRetry and AppRetry are the delays the next failure of each kind would sleep.
	LinkRetry   time.Duration
	AppRetry    time.Duration
	Signals     []SignalFreshness
	Unconfirmed []string
}
