package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"collabsync/internal/circuitbreaker"
	"collabsync/pkg/core"
)

// Long-poll handshake query values. The protocol version travels on every
// request so the server can reject incompatible clients early.
const (
	pollProtocolVersion = "1"
	pollTransportName   = "polling"
)

// LongPollConfig holds configuration for the long-poll dialer.
type LongPollConfig struct {
	// URL is the http(s) polling endpoint.
	URL string
	// PollTimeout bounds a single poll request cycle; the server holds the
	// request open up to roughly this long before returning an empty batch.
	PollTimeout time.Duration
	// BreakerFailThreshold is the consecutive failed cycles that open the
	// circuit breaker.
	BreakerFailThreshold int
	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration
	// CloseGrace bounds the best-effort session delete on close.
	CloseGrace time.Duration
	// EventBuffer is the capacity of the handle's event channel.
	EventBuffer int
}

// LongPollDialer opens long-poll handles over resty.
type LongPollDialer struct {
	config LongPollConfig
	logger zerolog.Logger
}

// NewLongPollDialer creates a long-poll dialer, applying defaults for
// zero-valued configuration fields.
func NewLongPollDialer(config LongPollConfig, logger zerolog.Logger) *LongPollDialer {
	if config.PollTimeout == 0 {
		config.PollTimeout = 30 * time.Second
	}
	if config.BreakerFailThreshold == 0 {
		config.BreakerFailThreshold = 3
	}
	if config.BreakerCooldown == 0 {
		config.BreakerCooldown = 15 * time.Second
	}
	if config.CloseGrace == 0 {
		config.CloseGrace = 2 * time.Second
	}
	if config.EventBuffer == 0 {
		config.EventBuffer = 64
	}
	return &LongPollDialer{config: config, logger: logger}
}

// Type returns core.TransportLongPoll.
func (d *LongPollDialer) Type() core.TransportType {
	return core.TransportLongPoll
}

// pollHandshake is the server's response to the handshake request.
type pollHandshake struct {
	SID string `json:"sid"`
}

// Dial performs the long-poll handshake and starts the poll loop. It blocks
// until the server assigns a session id or ctx expires.
func (d *LongPollDialer) Dial(ctx context.Context) (Handle, error) {
	client := resty.New()
	client.SetBaseURL(d.config.URL)
	client.SetTimeout(d.config.PollTimeout + 5*time.Second)
	client.AddContentTypeEncoder("application/json", func(w io.Writer, v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	client.AddContentTypeDecoder("application/json", func(r io.Reader, v any) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return sonic.Unmarshal(data, v)
	})

	var hs pollHandshake
	resp, err := client.R().
		SetContext(ctx).
		SetQueryParam("v", pollProtocolVersion).
		SetQueryParam("transport", pollTransportName).
		SetResult(&hs).
		Post("")
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("long-poll handshake: %w", err)
	}
	if !resp.IsSuccess() {
		_ = client.Close()
		return nil, core.NewConnError(core.ErrorTypeNetwork, core.TransportLongPoll,
			fmt.Sprintf("handshake rejected with status %d", resp.StatusCode()))
	}
	if hs.SID == "" {
		_ = client.Close()
		return nil, core.NewConnError(core.ErrorTypeNetwork, core.TransportLongPoll,
			"handshake response missing sid")
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	h := &lpHandle{
		client:   client,
		sid:      hs.SID,
		events:   make(chan Event, d.config.EventBuffer),
		loopDone: make(chan struct{}),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			FailThreshold: d.config.BreakerFailThreshold,
			Cooldown:      d.config.BreakerCooldown,
		}, d.logger),
		cancel: cancel,
		grace:  d.config.CloseGrace,
		logger: d.logger.With().Str("sid", hs.SID).Logger(),
	}

	d.logger.Info().Str("url", d.config.URL).Str("sid", hs.SID).Msg("long-poll session established")

	go h.pollLoop(pollCtx)
	return h, nil
}

// lpHandle is one live long-poll session. pollLoop is the only goroutine
// that sends on or closes the events channel; Close just cancels the loop
// and waits for it to emit the terminal event.
type lpHandle struct {
	client   *resty.Client
	sid      string
	events   chan Event
	loopDone chan struct{}
	breaker  *circuitbreaker.Breaker
	cancel   context.CancelFunc
	grace    time.Duration
	logger   zerolog.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func (h *lpHandle) Type() core.TransportType {
	return core.TransportLongPoll
}

// Send posts one message frame to the polling endpoint.
func (h *lpHandle) Send(data []byte) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return core.ErrNotConnected
	}
	h.mu.RUnlock()

	if !h.breaker.Allow() {
		return core.ErrPollCircuitOpen
	}

	resp, err := h.client.R().
		SetQueryParam("v", pollProtocolVersion).
		SetQueryParam("transport", pollTransportName).
		SetQueryParam("sid", h.sid).
		SetHeader("Content-Type", "application/json").
		SetBody(json.RawMessage(data)).
		Post("")
	ok := err == nil && resp.IsSuccess()
	h.breaker.Record(ok)
	if err != nil {
		return fmt.Errorf("long-poll send: %w", err)
	}
	if !resp.IsSuccess() {
		return core.NewConnError(core.ErrorTypeNetwork, core.TransportLongPoll,
			fmt.Sprintf("send rejected with status %d", resp.StatusCode()))
	}
	return nil
}

func (h *lpHandle) Events() <-chan Event {
	return h.events
}

// Close stops the poll loop, waits for the terminal event, and deletes the
// server-side session best-effort.
func (h *lpHandle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		h.cancel()
		<-h.loopDone

		ctx, cancel := context.WithTimeout(context.Background(), h.grace)
		defer cancel()
		_, _ = h.client.R().
			SetContext(ctx).
			SetQueryParam("sid", h.sid).
			Delete("")

		_ = h.client.Close()
	})
	return nil
}

// pollLoop drives poll cycles and owns the events channel end to end: it is
// the sole sender and closes the channel after the terminal EventClosed.
func (h *lpHandle) pollLoop(ctx context.Context) {
	defer close(h.loopDone)

	err := h.poll(ctx)

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.emitClosed(err)
}

// poll runs cycles until cancelled, the session expires, or the breaker
// declares the endpoint dead. A nil return means a clean cancellation.
func (h *lpHandle) poll(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !h.breaker.Allow() {
			// Breaker open: the endpoint is failing consistently. Surface as
			// a transport failure rather than spin on rejected cycles.
			return core.ErrPollCircuitOpen
		}

		var batch []json.RawMessage
		resp, err := h.client.R().
			SetContext(ctx).
			SetQueryParam("v", pollProtocolVersion).
			SetQueryParam("transport", pollTransportName).
			SetQueryParam("sid", h.sid).
			SetResult(&batch).
			Get("")

		if ctx.Err() != nil {
			return nil
		}

		ok := err == nil && resp.IsSuccess()
		h.breaker.Record(ok)
		if !ok {
			if err != nil {
				h.logger.Warn().Err(err).Msg("poll cycle failed")
			} else {
				h.logger.Warn().Int("status", resp.StatusCode()).Msg("poll cycle rejected")
				if resp.StatusCode() == 410 {
					// Server expired the session; no point continuing.
					return core.NewConnError(core.ErrorTypeAbnormalClose,
						core.TransportLongPoll, "poll session expired")
				}
			}
			continue
		}

		for _, frame := range batch {
			select {
			case h.events <- Event{Kind: EventFrame, Frame: []byte(frame)}:
			default:
				h.logger.Warn().Msg("event buffer full, dropping frame")
			}
		}
	}
}

// emitClosed delivers the terminal EventClosed and closes the channel. When
// the buffer is full of undelivered frames it evicts the oldest to make
// room, so the terminal event always lands even with no reader draining.
func (h *lpHandle) emitClosed(err error) {
	for {
		select {
		case h.events <- Event{Kind: EventClosed, Err: err}:
			close(h.events)
			return
		default:
			select {
			case <-h.events:
			default:
			}
		}
	}
}
