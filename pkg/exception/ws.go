package exception

import "errors"

// WS errors
var (
	ErrWebSocketConnectionClose = errors.New("websocket: connection closed")
	ErrWebSocketProtocol        = errors.New("websocket: protocol error")
	ErrWebSocketTimeout         = errors.New("websocket: read phase timed out")
	ErrWebSocketFrameTooLarge   = errors.New("websocket: frame exceeds payload cap")
	ErrWebSocketHandshake       = errors.New("websocket: handshake failed")
	ErrWebSocketHandshakeTime   = errors.New("websocket: handshake timed out")
	ErrWebSocketNotConnected    = errors.New("websocket: not connected")
)
