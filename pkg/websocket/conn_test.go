package websocket

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skstream/pkg/exception"
)

var testTimeouts = Timeouts{
	Header:         time.Second,
	ExtendedLength: 500 * time.Millisecond,
	MaskKey:        500 * time.Millisecond,
	Payload:        time.Second,
}

func endpointOf(t *testing.T, rawURL string, path string) Endpoint {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return Endpoint{Host: u.Hostname(), Port: port, Path: path}
}

func TestDialAgainstRFCPeer(t *testing.T) {
	upgrader := gws.Upgrader{}
	pongs := make(chan string, 1)
	paths := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		mt, msg, err := c.ReadMessage()
		if err != nil || mt != gws.TextMessage {
			return
		}
		if err := c.WriteMessage(gws.TextMessage, msg); err != nil {
			return
		}

		c.SetPongHandler(func(appData string) error {
			pongs <- appData
			return nil
		})
		if err := c.WriteControl(gws.PingMessage, []byte("hb"), time.Now().Add(time.Second)); err != nil {
			return
		}
		_, _, _ = c.ReadMessage()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, endpointOf(t, server.URL, "/signalk/v1/stream"), Option{Timeouts: testTimeouts})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "/signalk/v1/stream", <-paths)
	assert.NotEmpty(t, conn.ID())

	subscribe := []byte(`{"context":"vessels.self","subscribe":[]}`)
	require.NoError(t, conn.SendText(subscribe))

	frame, err := conn.RecvFrame()
	require.NoError(t, err)
	assert.Equal(t, OpText, frame.Opcode)
	assert.True(t, frame.Fin)
	assert.Equal(t, subscribe, frame.Payload)

	ping, err := conn.RecvFrame()
	require.NoError(t, err)
	require.Equal(t, OpPing, ping.Opcode)
	require.NoError(t, conn.SendPong(ping.Payload))

	select {
	case got := <-pongs:
		assert.Equal(t, "hb", got)
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not receive pong")
	}
}

// rawServer accepts one connection and lets respond drive it.
func rawServer(t *testing.T, respond func(c net.Conn, r *bufio.Reader)) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		respond(c, bufio.NewReader(c))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return Endpoint{Host: "127.0.0.1", Port: addr.Port, Path: "/signalk/v1/stream"}
}

func readRequestHead(r *bufio.Reader) []string {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil || line == "\r\n" {
			return lines
		}
		lines = append(lines, line)
	}
}

func TestDialAcceptsLooseUpgradeResponse(t *testing.T) {
	requests := make(chan []string, 1)
	ep := rawServer(t, func(c net.Conn, r *bufio.Reader) {
		requests <- readRequestHead(r)
		_, _ = c.Write([]byte("HTTP/1.1 101 OK\r\nUpgrade: websocket\r\n\r\n"))
		_, _ = c.Write(AppendFrame(nil, Header{Fin: true, Opcode: OpText}, []byte(`{"name":"signalk-server"}`)))
		time.Sleep(200 * time.Millisecond)
	})

	conn, err := Dial(context.Background(), ep, Option{Timeouts: testTimeouts})
	require.NoError(t, err)
	defer conn.Close()

	head := <-requests
	require.NotEmpty(t, head)
	assert.Equal(t, "GET /signalk/v1/stream HTTP/1.1\r\n", head[0])
	assert.Contains(t, head, "Host: "+ep.Addr()+"\r\n")
	assert.Contains(t, head, "Upgrade: websocket\r\n")
	assert.Contains(t, head, "Connection: Upgrade\r\n")
	assert.Contains(t, head, "Sec-WebSocket-Version: 13\r\n")

	frame, err := conn.RecvFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"name":"signalk-server"}`, string(frame.Payload))
}

func TestDialRejectsNonUpgradeResponse(t *testing.T) {
	ep := rawServer(t, func(c net.Conn, r *bufio.Reader) {
		readRequestHead(r)
		_, _ = c.Write([]byte("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"))
	})

	_, err := Dial(context.Background(), ep, Option{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrWebSocketHandshake), "got %v", err)
}

func TestDialHandshakeTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	ep := rawServer(t, func(c net.Conn, r *bufio.Reader) {
		readRequestHead(r)
		<-release
	})

	start := time.Now()
	_, err := Dial(context.Background(), ep, Option{HandshakeTimeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrWebSocketHandshakeTime), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDialAbandonedByContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	ep := rawServer(t, func(c net.Conn, r *bufio.Reader) {
		readRequestHead(r)
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := Dial(ctx, ep, Option{HandshakeTimeout: 10 * time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestConnCloseIsIdempotent(t *testing.T) {
	ep := rawServer(t, func(c net.Conn, r *bufio.Reader) {
		readRequestHead(r)
		_, _ = c.Write([]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"))
		time.Sleep(200 * time.Millisecond)
	})

	conn, err := Dial(context.Background(), ep, Option{Timeouts: testTimeouts})
	require.NoError(t, err)

	first := conn.Close()
	assert.Equal(t, first, conn.Close())

	_, err = conn.RecvFrame()
	assert.True(t, errors.Is(err, exception.ErrWebSocketNotConnected))
	assert.True(t, errors.Is(conn.SendText([]byte("x")), exception.ErrWebSocketNotConnected))
}
