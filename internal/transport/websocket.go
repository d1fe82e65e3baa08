package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lxzan/gws"
	"github.com/rs/zerolog"

	"collabsync/pkg/core"
)

// WSConfig holds configuration for the native-socket dialer.
type WSConfig struct {
	// URL is the ws(s) endpoint to connect to.
	URL string
	// HandshakeTimeout bounds the TCP connect plus websocket upgrade. An
	// earlier deadline on the dial context tightens it further.
	HandshakeTimeout time.Duration
	// LivenessWindow is the read deadline refreshed on inbound traffic.
	// A silent connection past this window surfaces as an abnormal close.
	LivenessWindow time.Duration
	// CloseGrace bounds how long a graceful close waits for the peer's
	// acknowledgement before forcing the socket shut.
	CloseGrace time.Duration
	// EventBuffer is the capacity of the handle's event channel.
	EventBuffer int
}

// WSDialer opens native WebSocket handles via gws.
type WSDialer struct {
	config WSConfig
	logger zerolog.Logger
}

// NewWSDialer creates a websocket dialer, applying defaults for zero-valued
// configuration fields.
func NewWSDialer(config WSConfig, logger zerolog.Logger) *WSDialer {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.LivenessWindow == 0 {
		config.LivenessWindow = 35 * time.Second
	}
	if config.CloseGrace == 0 {
		config.CloseGrace = 2 * time.Second
	}
	if config.EventBuffer == 0 {
		config.EventBuffer = 64
	}
	return &WSDialer{config: config, logger: logger}
}

// Type returns core.TransportNativeSocket.
func (d *WSDialer) Type() core.TransportType {
	return core.TransportNativeSocket
}

// Dial connects to the configured URL and blocks until the websocket
// handshake completes or ctx expires.
func (d *WSDialer) Dial(ctx context.Context) (Handle, error) {
	h := &wsHandle{
		events:     make(chan Event, d.config.EventBuffer),
		closedChan: make(chan struct{}),
		liveness:   d.config.LivenessWindow,
		grace:      d.config.CloseGrace,
		logger:     d.logger,
	}
	handler := &wsEventHandler{handle: h, opened: make(chan struct{})}

	// gws performs the TCP connect and upgrade inside NewClient without
	// observing ctx, so the deadline must ride in as a handshake timeout.
	timeout := d.config.HandshakeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remain := time.Until(deadline)
		if remain <= 0 {
			return nil, ctx.Err()
		}
		if remain < timeout {
			timeout = remain
		}
	}

	socket, _, err := gws.NewClient(handler, &gws.ClientOption{
		Addr:             d.config.URL,
		HandshakeTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	h.conn = socket

	go socket.ReadLoop()

	select {
	case <-handler.opened:
		d.logger.Info().Str("url", d.config.URL).Msg("websocket connected")
		return h, nil
	case <-h.closedChan:
		return nil, core.NewConnError(core.ErrorTypeAbnormalClose, core.TransportNativeSocket,
			"websocket closed during handshake")
	case <-ctx.Done():
		_ = socket.NetConn().Close()
		return nil, ctx.Err()
	}
}

// wsHandle is one live websocket connection.
type wsHandle struct {
	conn       *gws.Conn
	events     chan Event
	closedChan chan struct{}
	closeOnce  sync.Once
	liveness   time.Duration
	grace      time.Duration
	logger     zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

func (h *wsHandle) Type() core.TransportType {
	return core.TransportNativeSocket
}

func (h *wsHandle) Send(data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return core.ErrNotConnected
	}
	return h.conn.WriteMessage(gws.OpcodeText, data)
}

func (h *wsHandle) Events() <-chan Event {
	return h.events
}

// Close sends a close frame, waits for the peer's close acknowledgement up to
// the grace period, then forces the underlying socket shut.
func (h *wsHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	_ = h.conn.WriteClose(1000, nil)

	select {
	case <-h.closedChan:
	case <-time.After(h.grace):
		h.logger.Debug().Msg("close acknowledgement timed out, forcing closure")
	}
	_ = h.conn.NetConn().Close()
	return nil
}

// finish emits the terminal EventClosed exactly once and closes the event
// channel. err is nil for a clean peer close.
func (h *wsHandle) finish(err error) {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		h.events <- Event{Kind: EventClosed, Err: err}
		close(h.events)
		close(h.closedChan)
	})
}

type wsEventHandler struct {
	handle *wsHandle
	opened chan struct{}
	once   sync.Once
}

func (e *wsEventHandler) OnOpen(socket *gws.Conn) {
	_ = socket.SetDeadline(time.Now().Add(e.handle.liveness))
	e.once.Do(func() { close(e.opened) })
}

func (e *wsEventHandler) OnClose(socket *gws.Conn, err error) {
	// gws reports a normal peer close as an error value carrying code 1000;
	// the session classifies either way, so pass it through.
	e.handle.finish(err)
}

func (e *wsEventHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(e.handle.liveness))
	_ = socket.WritePong(nil)
}

func (e *wsEventHandler) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(e.handle.liveness))
}

func (e *wsEventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	data := message.Bytes()
	if len(data) == 0 {
		return
	}
	_ = socket.SetDeadline(time.Now().Add(e.handle.liveness))

	// Copy: gws reuses the message buffer after Close.
	frame := make([]byte, len(data))
	copy(frame, data)

	select {
	case e.handle.events <- Event{Kind: EventFrame, Frame: frame}:
	default:
		e.handle.logger.Warn().Msg("event buffer full, dropping frame")
	}
}
