package websocket

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"

	"skstream/pkg/exception"
)

const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultHandshakeTimeout = 2 * time.Second
	DefaultWriteTimeout     = 2 * time.Second
	DefaultKeepAlive        = 30 * time.Second

	maxHandshakeResponse = 8 << 10
)

// Endpoint addresses a websocket stream on a plain TCP server.
type Endpoint struct {
	Host string
	Port int
	Path string
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Option configures Dial.
type Option struct {
	// ConnectTimeout bounds the TCP connect.
	// Optional; default 5s.
	ConnectTimeout time.Duration
	// HandshakeTimeout bounds the upgrade request and response.
	// Optional; default 2s.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each Send.
	// Optional; default 2s.
	WriteTimeout time.Duration
	// KeepAlive is the TCP keep-alive period.
	// Optional; default 30s.
	KeepAlive time.Duration
	// Timeouts are the per-phase frame read deadlines.
	Timeouts Timeouts
	// MaxPayload caps the bytes kept per frame; the rest is drained.
	// Optional; default DefaultMaxPayload.
	MaxPayload int
}

func (opt *Option) init() {
	if opt.ConnectTimeout <= 0 {
		opt.ConnectTimeout = DefaultConnectTimeout
	}
	if opt.HandshakeTimeout <= 0 {
		opt.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opt.WriteTimeout <= 0 {
		opt.WriteTimeout = DefaultWriteTimeout
	}
	if opt.KeepAlive <= 0 {
		opt.KeepAlive = DefaultKeepAlive
	}
	if opt.MaxPayload <= 0 {
		opt.MaxPayload = DefaultMaxPayload
	}
}

// Conn is one upgraded websocket connection. It owns its socket.
//
// RecvFrame must be called from a single goroutine; Send and Close are safe
// for concurrent use.
type Conn struct {
	id           string
	conn         net.Conn
	decoder      *Decoder
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to ep and performs the upgrade handshake.
// Cancelling ctx abandons an in-flight connect or handshake and closes the socket.
func Dial(ctx context.Context, ep Endpoint, opt Option) (*Conn, error) {
	opt.init()
	dialer := net.Dialer{
		Timeout:   opt.ConnectTimeout,
		KeepAlive: opt.KeepAlive,
	}
	rawConn, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, errors.Wrap(err, "tcp connect").With("addr", ep.Addr())
	}
	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	reader, err := handshake(ctx, rawConn, ep, opt.HandshakeTimeout)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}

	return &Conn{
		id:           uuid.NewString(),
		conn:         rawConn,
		decoder:      NewDecoder(rawConn, reader, opt.MaxPayload, opt.Timeouts),
		writeTimeout: opt.WriteTimeout,
	}, nil
}

// handshake writes the upgrade request and reads the response head.
// Success only requires the response to mention status 101 and the websocket upgrade;
// Sec-WebSocket-Accept is not validated.
func handshake(ctx context.Context, conn net.Conn, ep Endpoint, timeout time.Duration) (*bufio.Reader, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errors.Wrap(err, "set handshake deadline")
	}

	key := newWebSocketKey()
	if _, err := conn.Write(buildUpgradeRequest(ep, key)); err != nil {
		return nil, handshakeErr(ctx, err, "write upgrade request")
	}

	reader := bufio.NewReaderSize(conn, readerSize)
	var resp strings.Builder
	for {
		line, err := reader.ReadString('\n')
		resp.WriteString(line)
		if err != nil {
			return nil, handshakeErr(ctx, err, "read upgrade response")
		}
		if line == "\r\n" || line == "\n" {
			break
		}
		if resp.Len() > maxHandshakeResponse {
			return nil, errors.Wrap(exception.ErrWebSocketHandshake, "response head too large")
		}
	}

	head := resp.String()
	if !strings.Contains(head, "101") || !strings.Contains(head, "Upgrade: websocket") {
		return nil, errors.Wrap(exception.ErrWebSocketHandshake, "unexpected upgrade response").With("response", firstLine(head))
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, errors.Wrap(err, "clear handshake deadline")
	}
	return reader, nil
}

func buildUpgradeRequest(ep Endpoint, key string) []byte {
	var b strings.Builder
	b.WriteString("GET ")
	b.WriteString(ep.Path)
	b.WriteString(" HTTP/1.1\r\n")
	b.WriteString("Host: ")
	b.WriteString(ep.Addr())
	b.WriteString("\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Key: ")
	b.WriteString(key)
	b.WriteString("\r\n")
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	b.WriteString("\r\n")
	return []byte(b.String())
}

func handshakeErr(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), msg)
	}
	if isTimeout(err) {
		return errors.Wrap(exception.ErrWebSocketHandshakeTime, msg)
	}
	return errors.Wrap(exception.ErrWebSocketHandshake, msg).With("cause", err.Error())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimRight(s[:i], "\r")
	}
	return s
}

// newWebSocketKey returns 16 random bytes in base64.
func newWebSocketKey() string {
	key := uuid.New()
	return base64.StdEncoding.EncodeToString(key[:])
}

// ID identifies this connection in logs and status reports.
func (c *Conn) ID() string {
	return c.id
}

// RecvFrame returns the next frame. See Decoder.Next for the error contract.
func (c *Conn) RecvFrame() (Frame, error) {
	if c.closed.Load() {
		return Frame{}, exception.ErrWebSocketNotConnected
	}
	return c.decoder.Next()
}

// Send writes pre-encoded frame bytes.
func (c *Conn) Send(b []byte) error {
	if c.closed.Load() {
		return exception.ErrWebSocketNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadlineAfter(c.writeTimeout)); err != nil {
		return classifyReadErr(err)
	}
	for len(b) > 0 {
		n, err := c.conn.Write(b)
		if err != nil {
			return classifyReadErr(err)
		}
		b = b[n:]
	}
	return nil
}

// SendText writes payload as one masked text frame.
func (c *Conn) SendText(payload []byte) error {
	return c.Send(EncodeText(payload))
}

// SendPong answers a ping with the same application data.
func (c *Conn) SendPong(payload []byte) error {
	return c.Send(AppendFrame(nil, Header{Fin: true, Opcode: OpPong, Masked: true}, payload))
}

// Close closes the socket. Calling it more than once is safe.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
