package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabsync/pkg/core"
)

// echoServer echoes every text frame back to the client.
type echoServer struct{}

func (echoServer) OnOpen(socket *gws.Conn) {}

func (echoServer) OnClose(socket *gws.Conn, err error) {}

func (echoServer) OnPong(socket *gws.Conn, payload []byte) {}

func (echoServer) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(nil)
}

func (echoServer) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	_ = socket.WriteMessage(gws.OpcodeText, message.Bytes())
}

func startEchoServer(t *testing.T) string {
	t.Helper()
	upgrader := gws.NewUpgrader(echoServer{}, &gws.ServerOption{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		go socket.ReadLoop()
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newWSTestDialer(url string) *WSDialer {
	return NewWSDialer(WSConfig{
		URL:            url,
		LivenessWindow: time.Minute,
		CloseGrace:     time.Second,
	}, zerolog.Nop())
}

func TestWSDialer_DialAndEcho(t *testing.T) {
	url := startEchoServer(t)
	d := newWSTestDialer(url)
	assert.Equal(t, core.TransportNativeSocket, d.Type())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := d.Dial(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.TransportNativeSocket, h.Type())

	frame := []byte(`{"type":"test","timestamp":1}`)
	require.NoError(t, h.Send(frame))

	ev := nextEvent(t, h)
	require.Equal(t, EventFrame, ev.Kind)
	assert.Equal(t, frame, ev.Frame)

	require.NoError(t, h.Close())
	closed := nextEvent(t, h)
	assert.Equal(t, EventClosed, closed.Kind)
	_, open := <-h.Events()
	assert.False(t, open, "event channel closes after the terminal event")
}

func TestWSDialer_SendAfterClose(t *testing.T) {
	url := startEchoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := newWSTestDialer(url).Dial(ctx)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.Send([]byte(`{}`)), core.ErrNotConnected)
}

func TestWSDialer_DialUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := newWSTestDialer("ws://127.0.0.1:1").Dial(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial websocket")
}

func TestWSDialer_HandshakeTimeoutOnSilentServer(t *testing.T) {
	// A listener that accepts the TCP connection but never answers the
	// upgrade request.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			connCh <- conn
		}
	}()
	t.Cleanup(func() {
		select {
		case conn := <-connCh:
			conn.Close()
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = newWSTestDialer("ws://" + ln.Addr().String()).Dial(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second,
		"dial honors the context deadline during the upgrade")
}

func TestWSDialer_ServerInitiatedClose(t *testing.T) {
	upgrader := gws.NewUpgrader(&closingServer{}, &gws.ServerOption{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		go socket.ReadLoop()
	}))
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := newWSTestDialer(url).Dial(ctx)
	require.NoError(t, err)
	defer h.Close()

	// The server drops the connection on the first frame.
	require.NoError(t, h.Send([]byte(`{"type":"test","timestamp":1}`)))

	closed := nextEvent(t, h)
	assert.Equal(t, EventClosed, closed.Kind)
}

// closingServer kills the connection as soon as the client sends anything.
type closingServer struct{}

func (*closingServer) OnOpen(socket *gws.Conn) {}

func (*closingServer) OnClose(socket *gws.Conn, err error) {}

func (*closingServer) OnPing(socket *gws.Conn, payload []byte) {}

func (*closingServer) OnPong(socket *gws.Conn, payload []byte) {}

func (*closingServer) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	_ = socket.NetConn().Close()
}
