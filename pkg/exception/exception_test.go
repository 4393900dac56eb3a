package exception

import (
	stderrors "errors"
	"testing"

	"github.com/yanun0323/errors"
)

func sentinels() map[string]error {
	return map[string]error{
		"ErrConnectionClose":          ErrConnectionClose,
		"ErrLinkUnavailable":          ErrLinkUnavailable,
		"ErrLinkNotFound":             ErrLinkNotFound,
		"ErrDeltaInvalidUTF8":         ErrDeltaInvalidUTF8,
		"ErrDeltaDecode":              ErrDeltaDecode,
		"ErrDeltaNotDelta":            ErrDeltaNotDelta,
		"ErrNilInstance":              ErrNilInstance,
		"ErrInvalidArgument":          ErrInvalidArgument,
		"ErrInvalidConfig":            ErrInvalidConfig,
		"ErrQueueFull":                ErrQueueFull,
		"ErrQueueClosed":              ErrQueueClosed,
		"ErrWebSocketConnectionClose": ErrWebSocketConnectionClose,
		"ErrWebSocketProtocol":        ErrWebSocketProtocol,
		"ErrWebSocketTimeout":         ErrWebSocketTimeout,
		"ErrWebSocketFrameTooLarge":   ErrWebSocketFrameTooLarge,
		"ErrWebSocketHandshake":       ErrWebSocketHandshake,
		"ErrWebSocketHandshakeTime":   ErrWebSocketHandshakeTime,
		"ErrWebSocketNotConnected":    ErrWebSocketNotConnected,
	}
}

func TestSentinelsMatchThroughWrap(t *testing.T) {
	for name, sentinel := range sentinels() {
		wrapped := errors.Wrap(sentinel, "outer").With("key", "value")
		if !stderrors.Is(wrapped, sentinel) {
			t.Fatalf("%s: errors.Is lost the sentinel through Wrap.With: %v", name, wrapped)
		}
		twice := errors.Wrap(errors.Wrapf(sentinel, "inner %d", 1), "outer")
		if !stderrors.Is(twice, sentinel) {
			t.Fatalf("%s: errors.Is lost the sentinel through nested Wrap: %v", name, twice)
		}
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	all := sentinels()
	for a, ea := range all {
		for b, eb := range all {
			if a != b && stderrors.Is(ea, eb) {
				t.Fatalf("%s matches %s", a, b)
			}
		}
	}
}
