package websocket

import (
	"strconv"
	"time"
)

// Opcode is the 4-bit frame type tag.
// Values match RFC 6455.
type Opcode uint8

const (
	// OpContinuation continues a fragmented message.
	OpContinuation Opcode = 0x0
	// OpText is a text data frame.
	OpText Opcode = 0x1
	// OpBinary is a binary data frame.
	OpBinary Opcode = 0x2
	// OpClose is a close control frame.
	OpClose Opcode = 0x8
	// OpPing is a ping control frame.
	OpPing Opcode = 0x9
	// OpPong is a pong control frame.
	OpPong Opcode = 0xA
)

// OpcodeCount is the number of distinct opcode values.
const OpcodeCount = 16

var opcodeNames = [OpcodeCount]string{
	OpContinuation: "CONTINUATION",
	OpText:         "TEXT",
	OpBinary:       "BINARY",
	OpClose:        "CLOSE",
	OpPing:         "PING",
	OpPong:         "PONG",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return "RESERVED-0x" + strconv.FormatUint(uint64(op&0x0f), 16)
}

// IsControl reports whether op is a control opcode (close, ping, pong or reserved control).
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

// IsReserved reports whether op has no meaning assigned.
func (op Opcode) IsReserved() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return false
	default:
		return true
	}
}

// Header is a decoded frame header.
type Header struct {
	Fin           bool
	Rsv1          bool
	Rsv2          bool
	Rsv3          bool
	Opcode        Opcode
	Masked        bool
	MaskKey       [4]byte
	PayloadLength uint64
}

// Frame is one decoded frame with its payload unmasked.
type Frame struct {
	Header
	// Payload holds at most the configured cap bytes.
	Payload []byte
	// Truncated reports that PayloadLength exceeded the cap and the excess was drained.
	Truncated bool
}

// Timeouts are the per-phase read deadlines of a frame.
// A zero value disables the deadline for that phase.
type Timeouts struct {
	Header         time.Duration
	ExtendedLength time.Duration
	MaskKey        time.Duration
	Payload        time.Duration
}
