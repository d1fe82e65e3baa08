package session

import (
	"context"
	"errors"
	"time"

	"collabsync/internal/probe"
	"collabsync/internal/transport"
	"collabsync/pkg/core"
	"collabsync/pkg/status"
)

// event is a discrete occurrence processed by the run loop: a caller command,
// a transport event, or a timer firing. Transport and timer events carry the
// epoch they belong to; stale epochs are discarded.
type event interface{}

type (
	evConnect    struct{ reply chan error }
	evDisconnect struct{ reply chan struct{} }
	evReconnect  struct{}
	evSend       struct{ msg core.Message }
	evClose      struct{ reply chan struct{} }

	evDialResult struct {
		epoch  uint64
		handle transport.Handle
		err    error
	}
	evFrame struct {
		epoch uint64
		data  []byte
	}
	evHandleClosed struct {
		epoch uint64
		err   error
	}
	evRetryTimer    struct{ epoch uint64 }
	evHeartbeatTick struct{ epoch uint64 }
	evPongTimeout   struct{ epoch uint64 }
)

// run is the session's event loop. It owns all loop state and publishes a
// snapshot after every handled event; the broadcaster suppresses duplicates,
// so each transition produces exactly one broadcast cycle.
func (s *Session) run() {
	for ev := range s.events {
		if done := s.handle(ev); done {
			return
		}
		s.publish()
	}
}

// handle dispatches one event. It returns true when the loop should exit.
func (s *Session) handle(ev event) bool {
	switch ev := ev.(type) {
	case evConnect:
		s.handleConnect(ev)
	case evDisconnect:
		s.handleDisconnect()
		close(ev.reply)
	case evReconnect:
		s.handleReconnect()
	case evSend:
		s.handleSend(ev.msg)
	case evClose:
		s.handleDisconnect()
		s.publish()
		close(s.done)
		close(ev.reply)
		return true
	case evDialResult:
		s.handleDialResult(ev)
	case evFrame:
		s.handleFrame(ev)
	case evHandleClosed:
		s.handleClosed(ev)
	case evRetryTimer:
		if ev.epoch == s.st.epoch && s.st.status == core.StatusReconnecting {
			s.startAttempt()
		}
	case evHeartbeatTick:
		s.handleHeartbeatTick(ev)
	case evPongTimeout:
		s.handlePongTimeout(ev)
	}
	return false
}

func (s *Session) publish() {
	s.statusMirror.Store(s.st.status)
	s.bc.Publish(status.Snapshot{
		Status:    s.st.status,
		Transport: s.st.transport,
		Metrics:   s.st.metrics,
	})
}

func (s *Session) handleConnect(ev evConnect) {
	switch s.st.status {
	case core.StatusConnected:
		ev.reply <- nil
	case core.StatusConnecting, core.StatusReconnecting:
		// An attempt is already in flight or scheduled; await its outcome.
		s.st.connectWaiters = append(s.st.connectWaiters, ev.reply)
	case core.StatusDisconnected, core.StatusErrored:
		s.st.connectWaiters = append(s.st.connectWaiters, ev.reply)
		s.st.attempt = 0
		s.startAttempt()
	}
}

func (s *Session) handleReconnect() {
	switch s.st.status {
	case core.StatusReconnecting:
		// Bypass the backoff wait currently in progress.
		s.cancelRetryTimer()
		s.startAttempt()
	case core.StatusErrored, core.StatusDisconnected:
		s.st.attempt = 0
		s.startAttempt()
	case core.StatusConnecting, core.StatusConnected:
		// Nothing to force.
	}
}

// startAttempt begins one connection attempt: it picks a transport from the
// probe, transitions to connecting, and dials with the handshake timeout.
func (s *Session) startAttempt() {
	s.cancelRetryTimer()
	s.st.epoch++
	epoch := s.st.epoch

	chosen := s.selector.Select(s.st.history, time.Now())
	s.st.transport = chosen
	s.setStatus(core.StatusConnecting)

	dialer, ok := s.dialers[chosen]
	if !ok {
		dialer = s.dialers[core.TransportNativeSocket]
	}

	s.logger.Info().
		Str("transport", chosen.String()).
		Int("attempt", s.st.attempt).
		Msg("connecting")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
		defer cancel()
		handle, err := dialer.Dial(ctx)
		s.post(evDialResult{epoch: epoch, handle: handle, err: err})
	}()
}

func (s *Session) handleDialResult(ev evDialResult) {
	if ev.epoch != s.st.epoch {
		// The attempt was cancelled (disconnect or newer attempt); a late
		// handshake success is discarded, not processed.
		if ev.handle != nil {
			go ev.handle.Close()
		}
		return
	}

	if ev.err != nil {
		err := ev.err
		if errors.Is(err, context.DeadlineExceeded) {
			err = core.NewConnError(core.ErrorTypeHandshakeTimeout, s.st.transport,
				core.ErrHandshakeTimeout.Error())
		}
		s.recordAttempt(false)
		s.failAttempt(err)
		return
	}

	s.st.handle = ev.handle
	s.recordAttempt(true)
	s.st.attempt = 0
	now := time.Now()
	s.st.metrics.LastConnectedAt = &now
	s.st.metrics.LastError = ""
	s.setStatus(core.StatusConnected)

	for _, waiter := range s.st.connectWaiters {
		waiter <- nil
	}
	s.st.connectWaiters = nil

	s.sendAuth()
	s.flushQueue()
	s.armHeartbeat(s.st.epoch)
	go s.pump(s.st.epoch, ev.handle)

	s.logger.Info().
		Str("transport", s.st.transport.String()).
		Msg("connected")
}

// pump forwards handle events into the run loop until the handle closes. If
// the session shuts down first, the channel is drained so the transport's
// final close event never blocks.
func (s *Session) pump(epoch uint64, h transport.Handle) {
	alive := true
	for ev := range h.Events() {
		if !alive {
			continue
		}
		switch ev.Kind {
		case transport.EventFrame:
			alive = s.post(evFrame{epoch: epoch, data: ev.Frame})
		case transport.EventClosed:
			alive = s.post(evHandleClosed{epoch: epoch, err: ev.Err})
		}
	}
}

func (s *Session) handleClosed(ev evHandleClosed) {
	if ev.epoch != s.st.epoch || s.st.status != core.StatusConnected {
		return
	}

	s.st.handle = nil
	s.stopLivenessTimers()

	err := ev.err
	if err == nil {
		err = core.NewConnError(core.ErrorTypeAbnormalClose, s.st.transport,
			"connection closed by server")
	} else if !core.IsTransient(err) {
		err = core.NewConnError(core.ErrorTypeAbnormalClose, s.st.transport, err.Error())
	}

	// An established connection that drops counts against the transport the
	// same way a failed handshake does.
	s.recordAttempt(false)
	s.failAttempt(err)
}

// failAttempt consults the reconnection policy and either schedules a retry
// (→ reconnecting) or surfaces the terminal errored state.
func (s *Session) failAttempt(err error) {
	s.st.metrics.LastError = err.Error()
	s.st.attempt++

	delay, ok := s.policy.NextDelay(s.st.attempt - 1)
	if !ok {
		s.setStatus(core.StatusErrored)
		s.st.metrics.LastError = core.ErrRetriesExhausted.Error() + ": " + err.Error()
		s.logger.Error().
			Err(err).
			Int("attempts", s.st.attempt).
			Msg("reconnect attempts exhausted")

		for _, waiter := range s.st.connectWaiters {
			waiter <- core.ErrRetriesExhausted
		}
		s.st.connectWaiters = nil
		return
	}

	s.setStatus(core.StatusReconnecting)
	s.st.metrics.ReconnectCount++
	s.logger.Warn().
		Err(err).
		Dur("retry_in", delay).
		Int("attempt", s.st.attempt).
		Msg("connection lost, retrying")

	s.armRetryTimer(s.st.epoch, delay)
}

func (s *Session) handleDisconnect() {
	s.cancelRetryTimer()
	s.stopLivenessTimers()

	// Invalidate in-flight dials and pumps before touching the handle so a
	// late handshake success cannot resurrect the connection.
	s.st.epoch++

	if h := s.st.handle; h != nil {
		s.st.handle = nil
		// Graceful close runs off-loop: close frame, acknowledgement grace,
		// forced closure.
		go func() { _ = h.Close() }()
	}

	for _, waiter := range s.st.connectWaiters {
		waiter <- core.ErrNotConnected
	}
	s.st.connectWaiters = nil
	s.st.attempt = 0
	s.setStatus(core.StatusDisconnected)
}

func (s *Session) handleSend(msg core.Message) {
	switch s.st.status {
	case core.StatusErrored:
		s.logger.Warn().Str("type", msg.Type).Msg("session errored, dropping message")
	case core.StatusConnected:
		s.transmit(msg)
	default:
		if dropped := s.st.queue.push(msg); dropped {
			s.logger.Warn().Str("type", msg.Type).Msg("send queue full, dropped oldest message")
		}
	}
}

func (s *Session) transmit(msg core.Message) {
	if !s.throttle.Allow(msg.Type) {
		s.logger.Warn().Str("type", msg.Type).Msg("send throttled, dropping message")
		return
	}
	s.transmitUnpaced(msg)
}

// transmitUnpaced encodes and writes one message. The caller has already
// accounted for it against the throttle.
func (s *Session) transmitUnpaced(msg core.Message) {
	data, err := msg.Encode()
	if err != nil {
		s.logger.Warn().Err(err).Str("type", msg.Type).Msg("message encode failed")
		return
	}
	if err := s.st.handle.Send(data); err != nil {
		// The transport will surface its own closed event; the message is
		// dropped rather than reordered behind the reconnect.
		s.logger.Warn().Err(err).Str("type", msg.Type).Msg("send failed")
	}
}

// flushBudget bounds how long a reconnect flush may pace queued messages
// before dropping the remainder.
const flushBudget = 5 * time.Second

// flushQueue transmits the queued backlog in order after a reconnect, pacing
// it through the throttle so the flush cannot flood a recovering server.
func (s *Session) flushQueue() {
	if s.st.queue.len() == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushBudget)
	defer cancel()

	sent := 0
	for {
		msg, ok := s.st.queue.pop()
		if !ok {
			break
		}
		if err := s.throttle.Wait(ctx); err != nil {
			s.logger.Warn().Err(err).Int("dropped", s.st.queue.len()+1).
				Msg("flush budget exhausted, dropping backlog")
			break
		}
		s.transmitUnpaced(msg)
		sent++
	}

	allowed, denied := s.throttle.Counters()
	s.logger.Info().
		Int("count", sent).
		Int64("throttle_allowed", allowed).
		Int64("throttle_denied", denied).
		Msg("flushed queued messages")
}

// sendAuth transmits the auth payload immediately after a handshake when an
// identity is configured.
func (s *Session) sendAuth() {
	ident := s.cfg.Identity
	if ident == nil {
		return
	}
	msg := core.NewMessage(core.TypeAuth)
	msg.UserID = ident.UserID
	msg.UserName = ident.UserName
	s.transmit(msg)
}

func (s *Session) handleFrame(ev evFrame) {
	if ev.epoch != s.st.epoch {
		return
	}

	msg, err := core.DecodeMessage(ev.data)
	if err != nil {
		// Malformed inbound frames never affect connection status.
		s.logger.Warn().Err(err).Msg("dropping inbound frame")
		return
	}

	switch msg.Type {
	case core.TypePong:
		s.handlePong()
	case core.TypePing:
		reply := core.NewMessage(core.TypePong)
		reply.SessionID = msg.SessionID
		s.transmit(reply)
	default:
		s.deliver(msg)
	}
}

func (s *Session) handleHeartbeatTick(ev evHeartbeatTick) {
	if ev.epoch != s.st.epoch || s.st.status != core.StatusConnected {
		return
	}

	if !s.st.awaitingPong {
		ping := core.NewMessage(core.TypePing)
		s.st.lastPingAt = time.Now()
		s.st.awaitingPong = true
		s.transmit(ping)
		s.armPongTimer(s.st.epoch)
	}
	s.armHeartbeat(s.st.epoch)
}

func (s *Session) handlePong() {
	if !s.st.awaitingPong {
		return
	}
	s.st.awaitingPong = false
	if s.st.pongTimer != nil {
		s.st.pongTimer.Stop()
		s.st.pongTimer = nil
	}

	rtt := time.Since(s.st.lastPingAt).Milliseconds()
	if s.st.metrics.LatencyMs == 0 {
		s.st.metrics.LatencyMs = rtt
	} else {
		// EWMA, weighting history 7:1.
		s.st.metrics.LatencyMs = (s.st.metrics.LatencyMs*7 + rtt) / 8
	}
}

func (s *Session) handlePongTimeout(ev evPongTimeout) {
	if ev.epoch != s.st.epoch || s.st.status != core.StatusConnected || !s.st.awaitingPong {
		return
	}

	s.stopLivenessTimers()
	if h := s.st.handle; h != nil {
		s.st.handle = nil
		go func() { _ = h.Close() }()
	}
	// Missed pong takes the same path as a handshake failure. Bump the epoch
	// so the dead handle's own closed event is discarded.
	s.st.epoch++
	s.recordAttempt(false)
	s.failAttempt(core.NewConnError(core.ErrorTypeHeartbeat, s.st.transport,
		core.ErrPongTimeout.Error()))
}

// recordAttempt appends to the bounded probe history.
func (s *Session) recordAttempt(success bool) {
	s.st.history = append(s.st.history, probe.AttemptRecord{
		Transport: s.st.transport,
		Success:   success,
		At:        time.Now(),
	})
	if len(s.st.history) > attemptHistoryCap {
		s.st.history = s.st.history[len(s.st.history)-attemptHistoryCap:]
	}
}

func (s *Session) setStatus(st core.Status) {
	if s.st.status != st {
		s.logger.Debug().
			Str("from", s.st.status.String()).
			Str("to", st.String()).
			Msg("status transition")
	}
	s.st.status = st
}

// armRetryTimer arms the single reconnection timer slot, cancelling any
// previous timer first.
func (s *Session) armRetryTimer(epoch uint64, delay time.Duration) {
	s.cancelRetryTimer()
	s.st.retryTimer = time.AfterFunc(delay, func() {
		s.post(evRetryTimer{epoch: epoch})
	})
}

func (s *Session) cancelRetryTimer() {
	if s.st.retryTimer != nil {
		s.st.retryTimer.Stop()
		s.st.retryTimer = nil
	}
}

func (s *Session) armHeartbeat(epoch uint64) {
	if s.st.heartbeatTimer != nil {
		s.st.heartbeatTimer.Stop()
	}
	s.st.heartbeatTimer = time.AfterFunc(s.cfg.HeartbeatInterval, func() {
		s.post(evHeartbeatTick{epoch: epoch})
	})
}

func (s *Session) armPongTimer(epoch uint64) {
	if s.st.pongTimer != nil {
		s.st.pongTimer.Stop()
	}
	s.st.pongTimer = time.AfterFunc(s.cfg.PongWait, func() {
		s.post(evPongTimeout{epoch: epoch})
	})
}

func (s *Session) stopLivenessTimers() {
	if s.st.heartbeatTimer != nil {
		s.st.heartbeatTimer.Stop()
		s.st.heartbeatTimer = nil
	}
	if s.st.pongTimer != nil {
		s.st.pongTimer.Stop()
		s.st.pongTimer = nil
	}
	s.st.awaitingPong = false
}
