// Package session implements the connection session: the state machine that
// owns one logical connection to the collaboration channel, probing
// transports, reconnecting with backoff, tracking liveness via heartbeats,
// and publishing health to the status broadcaster.
//
// All session state is confined to a single run loop goroutine. Commands,
// transport events, and timer firings arrive as discrete event values on one
// channel, so transitions are strictly ordered as observed by any subscriber
// and no locking is needed for session-internal state.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"collabsync/internal/backoff"
	"collabsync/internal/probe"
	"collabsync/internal/ratelimit"
	"collabsync/internal/transport"
	"collabsync/pkg/core"
	"collabsync/pkg/status"
)

// attemptHistoryCap bounds the probe history kept per session.
const attemptHistoryCap = 32

// Session owns one logical connection. Create with New; a session persists
// until Close and owns at most one live transport handle at a time.
type Session struct {
	cfg      *core.Config
	logger   zerolog.Logger
	bc       *status.Broadcaster
	selector probe.Selector
	policy   *backoff.Policy
	throttle *ratelimit.Throttle
	dialers  map[core.TransportType]transport.Dialer

	statusMirror core.StatusValue

	events    chan event
	done      chan struct{}
	closeOnce sync.Once

	handlerMu sync.RWMutex
	onMessage func(core.Message)

	// Loop-owned state. Only the run goroutine touches these fields.
	st loopState
}

type loopState struct {
	status    core.Status
	transport core.TransportType
	metrics   core.Metrics

	// epoch identifies the current attempt or connection. Events stamped with
	// an older epoch belong to a torn-down handle and are discarded.
	epoch  uint64
	handle transport.Handle

	// attempt counts consecutive transient failures in the current outage;
	// reset on a completed handshake and on manual reconnect from errored.
	attempt int

	history []probe.AttemptRecord
	queue   *sendQueue

	// Single timer slot per concern: cancel-before-arm is enforced by the
	// arm helpers, so at most one reconnection timer is ever outstanding.
	retryTimer     *time.Timer
	heartbeatTimer *time.Timer
	pongTimer      *time.Timer

	lastPingAt   time.Time
	awaitingPong bool

	connectWaiters []chan error
}

// New creates a session for the given configuration and attaches it to the
// broadcaster's manual-reconnect hook. The run loop starts immediately;
// nothing connects until Connect is called.
func New(cfg *core.Config, bc *status.Broadcaster, logger zerolog.Logger) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	if bc == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}

	socketURL, err := cfg.SocketURL()
	if err != nil {
		return nil, err
	}
	pollURL, err := cfg.PollURL()
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		logger: logger,
		bc:     bc,
		selector: probe.NewSelector(
			0, // default fail threshold
			cfg.ProbeFallbackAttempts,
			cfg.ProbeWindow,
			cfg.ProbeCoolDown,
		),
		policy: backoff.New(backoff.Config{
			BaseWait:    cfg.ReconnectBaseWait,
			MaxWait:     cfg.ReconnectMaxWait,
			Jitter:      cfg.ReconnectJitter,
			MaxAttempts: cfg.MaxReconnectAttempts,
			Seed:        cfg.BackoffSeed,
		}),
		throttle: ratelimit.New(cfg.SendRateLimit, cfg.SendRatePeriod),
		dialers: map[core.TransportType]transport.Dialer{
			core.TransportNativeSocket: transport.NewWSDialer(transport.WSConfig{
				URL:              socketURL,
				HandshakeTimeout: cfg.HandshakeTimeout,
				LivenessWindow:   cfg.HeartbeatInterval + cfg.PongWait,
				CloseGrace:       cfg.CloseGrace,
			}, logger),
			core.TransportLongPoll: transport.NewLongPollDialer(transport.LongPollConfig{
				URL:                  pollURL,
				PollTimeout:          cfg.PollTimeout,
				BreakerFailThreshold: cfg.PollBreakerFailThreshold,
				BreakerCooldown:      cfg.PollBreakerCooldown,
				CloseGrace:           cfg.CloseGrace,
			}, logger),
		},
		events: make(chan event, 256),
		done:   make(chan struct{}),
	}
	s.st.queue = newSendQueue(cfg.SendQueueSize)

	bc.SetReconnectFunc(s.Reconnect)

	go s.run()
	return s, nil
}

// SetMessageHandler installs the callback for inbound application messages
// (everything except heartbeat frames). Call before Connect.
func (s *Session) SetMessageHandler(fn func(core.Message)) {
	s.handlerMu.Lock()
	s.onMessage = fn
	s.handlerMu.Unlock()
}

// Status returns the current session status. Safe from any goroutine.
func (s *Session) Status() core.Status {
	return s.statusMirror.Load()
}

// Connect starts connecting and blocks until the session is connected, the
// reconnection policy gives up, or ctx expires. It is a no-op when already
// connecting or connected (an in-flight attempt's completion is still
// awaited).
func (s *Session) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	if !s.post(evConnect{reply: reply}) {
		return core.ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return core.ErrSessionClosed
	}
}

// Disconnect closes the connection gracefully, cancels all timers, and sets
// the status to disconnected. It always succeeds, including when there is
// nothing to disconnect. A handshake success arriving after Disconnect is
// discarded.
func (s *Session) Disconnect() {
	reply := make(chan struct{})
	if !s.post(evDisconnect{reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-s.done:
	}
}

// Send queues or transmits one message. While not yet connected the message
// is queued (bounded, oldest-dropped on overflow); while connected it is
// transmitted immediately; in the errored state it is dropped with a logged
// warning. Send never returns an error to the caller.
func (s *Session) Send(msg core.Message) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	if !s.post(evSend{msg: msg}) {
		s.logger.Warn().Str("type", msg.Type).Msg("send on closed session, dropping message")
	}
}

// Reconnect forces an immediate retry, bypassing any backoff wait currently
// in progress. From the errored state it re-enters connecting with a fresh
// retry budget. It is a no-op while connecting or connected.
func (s *Session) Reconnect() {
	s.post(evReconnect{})
}

// Close tears the session down: the connection is closed, all timers are
// cleared, and the run loop exits. Subsequent operations are no-ops.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		reply := make(chan struct{})
		if s.post(evClose{reply: reply}) {
			<-reply
		}
	})
}

// post delivers an event to the run loop, reporting false once the session
// has been closed.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) deliver(msg core.Message) {
	s.handlerMu.RLock()
	fn := s.onMessage
	s.handlerMu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}
