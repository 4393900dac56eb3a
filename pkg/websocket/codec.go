package websocket

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"skstream/pkg/exception"
)

const (
	finBit  = 0x80
	rsv1Bit = 0x40
	rsv2Bit = 0x20
	rsv3Bit = 0x10
	maskBit = 0x80

	len16Marker = 126
	len64Marker = 127

	maxHeaderLen      = 14
	maxControlPayload = 125
	readChunk         = 1024
	readerSize        = 32 << 10
)

// DefaultMaxPayload is the payload cap used when none is configured.
const DefaultMaxPayload = 10000

// Source is the byte stream a Decoder reads frames from.
type Source interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// headerLen returns the full header size implied by the second header byte.
func headerLen(b1 byte) int {
	n := 2
	switch b1 & 0x7f {
	case len16Marker:
		n += 2
	case len64Marker:
		n += 8
	}
	if b1&maskBit != 0 {
		n += 4
	}
	return n
}

func extendedLen(b1 byte) int {
	switch b1 & 0x7f {
	case len16Marker:
		return 2
	case len64Marker:
		return 8
	default:
		return 0
	}
}

// ParseHeader decodes a complete frame header from b.
// It returns io.ErrShortBuffer when b does not hold the whole header yet.
func ParseHeader(b []byte) (Header, int, error) {
	if len(b) < 2 {
		return Header{}, 0, io.ErrShortBuffer
	}
	n := headerLen(b[1])
	if len(b) < n {
		return Header{}, 0, io.ErrShortBuffer
	}

	h := Header{
		Fin:    b[0]&finBit != 0,
		Rsv1:   b[0]&rsv1Bit != 0,
		Rsv2:   b[0]&rsv2Bit != 0,
		Rsv3:   b[0]&rsv3Bit != 0,
		Opcode: Opcode(b[0] & 0x0f),
		Masked: b[1]&maskBit != 0,
	}
	off := 2
	switch base := b[1] & 0x7f; base {
	case len16Marker:
		h.PayloadLength = uint64(binary.BigEndian.Uint16(b[2:4]))
		off += 2
	case len64Marker:
		if b[2]&0x80 != 0 {
			return Header{}, 0, exception.ErrWebSocketProtocol
		}
		h.PayloadLength = binary.BigEndian.Uint64(b[2:10])
		off += 8
	default:
		h.PayloadLength = uint64(base)
	}
	if h.Masked {
		copy(h.MaskKey[:], b[off:off+4])
	}

	if h.Opcode.IsControl() && (!h.Fin || h.PayloadLength > maxControlPayload) {
		return Header{}, 0, exception.ErrWebSocketProtocol
	}
	return h, n, nil
}

// AppendFrame appends the wire form of a frame to dst.
// The payload length is taken from payload, not from h.
func AppendFrame(dst []byte, h Header, payload []byte) []byte {
	var header [maxHeaderLen]byte
	header[0] = byte(h.Opcode) & 0x0f
	if h.Fin {
		header[0] |= finBit
	}
	if h.Rsv1 {
		header[0] |= rsv1Bit
	}
	if h.Rsv2 {
		header[0] |= rsv2Bit
	}
	if h.Rsv3 {
		header[0] |= rsv3Bit
	}
	n := buildLengthHeader(header[:], len(payload), h.Masked, h.MaskKey)
	dst = append(dst, header[:n]...)

	start := len(dst)
	dst = append(dst, payload...)
	if h.Masked {
		masked := dst[start:]
		for i := range masked {
			masked[i] ^= h.MaskKey[i&3]
		}
	}
	return dst
}

// EncodeText frames payload as a single masked text frame.
// The mask key is all zero, so payload bytes go out unchanged.
func EncodeText(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, maxHeaderLen+len(payload)), Header{
		Fin:    true,
		Opcode: OpText,
		Masked: true,
	}, payload)
}

func buildLengthHeader(dst []byte, payloadLen int, masked bool, maskKey [4]byte) int {
	n := 2
	if payloadLen <= maxControlPayload {
		dst[1] = byte(payloadLen)
	} else if payloadLen <= 0xffff {
		dst[1] = len16Marker
		binary.BigEndian.PutUint16(dst[2:4], uint16(payloadLen))
		n += 2
	} else {
		dst[1] = len64Marker
		binary.BigEndian.PutUint64(dst[2:10], uint64(payloadLen))
		n += 8
	}
	if masked {
		dst[1] |= maskBit
		copy(dst[n:n+4], maskKey[:])
		n += 4
	}
	return n
}

// Decoder reads frames from a Source with a separate deadline per read phase.
//
// A phase that misses its deadline returns exception.ErrWebSocketTimeout and
// leaves every byte already received in place, so the next call to Next
// resumes the same frame instead of losing sync with the stream.
type Decoder struct {
	src        Source
	reader     *bufio.Reader
	timeouts   Timeouts
	maxPayload int
	pending    *pendingFrame
}

type pendingFrame struct {
	header  Header
	payload []byte
	kept    int
	drained uint64
}

// NewDecoder wraps src. When reader is nil a new buffered reader over src is used;
// pass the reader left over from a handshake so no buffered bytes are lost.
func NewDecoder(src Source, reader *bufio.Reader, maxPayload int, timeouts Timeouts) *Decoder {
	if reader == nil {
		reader = bufio.NewReaderSize(src, readerSize)
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{
		src:        src,
		reader:     reader,
		timeouts:   timeouts,
		maxPayload: maxPayload,
	}
}

// Next returns the next complete frame.
// Errors are exception.ErrWebSocketTimeout (retry later),
// exception.ErrWebSocketConnectionClose, exception.ErrWebSocketProtocol
// or the underlying read error.
func (d *Decoder) Next() (Frame, error) {
	if d.pending == nil {
		h, err := d.readHeader()
		if err != nil {
			return Frame{}, err
		}
		keep := h.PayloadLength
		if keep > uint64(d.maxPayload) {
			keep = uint64(d.maxPayload)
		}
		d.pending = &pendingFrame{header: h, payload: make([]byte, int(keep))}
	}

	p := d.pending
	if err := d.readPayload(p); err != nil {
		return Frame{}, err
	}
	d.pending = nil
	return Frame{
		Header:    p.header,
		Payload:   p.payload,
		Truncated: p.header.PayloadLength > uint64(len(p.payload)),
	}, nil
}

// readHeader peeks the header phase by phase and only consumes it once complete.
func (d *Decoder) readHeader() (Header, error) {
	if err := d.peek(2, d.timeouts.Header); err != nil {
		return Header{}, err
	}
	first, _ := d.reader.Peek(2)
	n := 2
	if ext := extendedLen(first[1]); ext > 0 {
		n += ext
		if err := d.peek(n, d.timeouts.ExtendedLength); err != nil {
			return Header{}, err
		}
	}
	if first[1]&maskBit != 0 {
		n += 4
		if err := d.peek(n, d.timeouts.MaskKey); err != nil {
			return Header{}, err
		}
	}

	buf, _ := d.reader.Peek(n)
	h, size, err := ParseHeader(buf)
	if err != nil {
		return Header{}, err
	}
	if _, err := d.reader.Discard(size); err != nil {
		return Header{}, classifyReadErr(err)
	}
	return h, nil
}

func (d *Decoder) peek(n int, timeout time.Duration) error {
	if d.reader.Buffered() >= n {
		return nil
	}
	if err := d.src.SetReadDeadline(deadlineAfter(timeout)); err != nil {
		return classifyReadErr(err)
	}
	if _, err := d.reader.Peek(n); err != nil {
		return classifyReadErr(err)
	}
	return nil
}

func (d *Decoder) readPayload(p *pendingFrame) error {
	remaining := p.header.PayloadLength - uint64(p.kept) - p.drained
	if remaining == 0 {
		return nil
	}
	if err := d.src.SetReadDeadline(deadlineAfter(d.timeouts.Payload)); err != nil {
		return classifyReadErr(err)
	}

	for p.kept < len(p.payload) {
		end := min(p.kept+readChunk, len(p.payload))
		n, err := d.reader.Read(p.payload[p.kept:end])
		if p.header.Masked {
			chunk := p.payload[p.kept : p.kept+n]
			for i := range chunk {
				chunk[i] ^= p.header.MaskKey[(p.kept+i)&3]
			}
		}
		p.kept += n
		if err != nil {
			return classifyReadErr(err)
		}
	}

	excess := p.header.PayloadLength - uint64(len(p.payload))
	for p.drained < excess {
		step := int(min(excess-p.drained, readChunk))
		n, err := d.reader.Discard(step)
		p.drained += uint64(n)
		if err != nil {
			return classifyReadErr(err)
		}
	}
	return nil
}

func deadlineAfter(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// isTimeout reports whether err is a read or write deadline expiry.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func classifyReadErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isTimeout(err):
		return exception.ErrWebSocketTimeout
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed):
		return exception.ErrWebSocketConnectionClose
	default:
		return err
	}
}
