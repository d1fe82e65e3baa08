package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Identity is the authentication payload sent immediately after a successful
// handshake when the server requires it.
type Identity struct {
	// UserID identifies the authenticated user.
	UserID int64 `json:"user_id"`
	// UserName is the display name attached to outgoing messages.
	UserName string `json:"user_name,omitempty"`
}

// Config contains all configuration for a connection session: endpoints,
// identity, liveness timing, reconnection policy, transport probing, send
// queueing, and the long-poll circuit breaker.
type Config struct {
	// Origin is the http(s) origin the connection targets. The socket URL is
	// derived by swapping the scheme to ws(s).
	Origin string `json:"origin" validate:"required,url"`
	// SocketPath is the websocket endpoint path on the origin.
	SocketPath string `json:"socket_path"`
	// PollPath is the long-poll fallback endpoint path on the origin.
	PollPath string `json:"poll_path"`

	// Identity, when set, is sent as an auth message after each handshake.
	Identity *Identity `json:"identity,omitempty"`

	// HandshakeTimeout bounds how long a connection attempt may take.
	HandshakeTimeout time.Duration `json:"handshake_timeout" validate:"min=1ms"`
	// HeartbeatInterval is the period between ping messages while connected.
	HeartbeatInterval time.Duration `json:"heartbeat_interval" validate:"min=1ms"`
	// PongWait is the maximum time to wait for a pong before treating the
	// connection as dead.
	PongWait time.Duration `json:"pong_wait" validate:"min=1ms"`
	// CloseGrace bounds how long a graceful disconnect waits for the close
	// acknowledgement before forcing the handle shut.
	CloseGrace time.Duration `json:"close_grace" validate:"min=0"`

	// ReconnectBaseWait is the initial backoff delay.
	ReconnectBaseWait time.Duration `json:"reconnect_base_wait" validate:"min=0"`
	// ReconnectMaxWait caps the backoff delay.
	ReconnectMaxWait time.Duration `json:"reconnect_max_wait" validate:"min=0"`
	// ReconnectJitter is the fraction of the delay randomized in each direction.
	ReconnectJitter float64 `json:"reconnect_jitter" validate:"min=0,max=1"`
	// MaxReconnectAttempts is the number of automatic retries before the
	// session surfaces errored. Zero disables automatic reconnection.
	MaxReconnectAttempts int `json:"max_reconnect_attempts" validate:"min=0"`

	// ProbeWindow is the rolling window over which consecutive native-socket
	// failures trigger fallback escalation.
	ProbeWindow time.Duration `json:"probe_window" validate:"min=1ms"`
	// ProbeFallbackAttempts is how many attempts stay on long-poll after
	// escalation before native-socket is retried.
	ProbeFallbackAttempts int `json:"probe_fallback_attempts" validate:"min=1"`
	// ProbeCoolDown is how long after the last native-socket failure the probe
	// waits before suggesting native-socket again.
	ProbeCoolDown time.Duration `json:"probe_cooldown" validate:"min=0"`

	// SendQueueSize bounds the outbound queue used while not connected.
	// The oldest message is dropped on overflow.
	SendQueueSize int `json:"send_queue_size" validate:"min=1"`
	// SendRateLimit is the number of outbound messages permitted per
	// SendRatePeriod; a queue flush after reconnect honors the same budget.
	SendRateLimit int `json:"send_rate_limit" validate:"min=1"`
	// SendRatePeriod is the period over which SendRateLimit applies.
	SendRatePeriod time.Duration `json:"send_rate_period" validate:"min=1ms"`

	// PollTimeout bounds a single long-poll request cycle.
	PollTimeout time.Duration `json:"poll_timeout" validate:"min=1ms"`
	// PollBreakerFailThreshold is the consecutive poll failures that open the
	// long-poll circuit breaker.
	PollBreakerFailThreshold int `json:"poll_breaker_fail_threshold" validate:"min=1"`
	// PollBreakerCooldown is how long the breaker stays open before probing.
	PollBreakerCooldown time.Duration `json:"poll_breaker_cooldown" validate:"min=1ms"`

	// BackoffSeed seeds the jitter RNG; non-zero values make delays
	// reproducible for tests. Zero selects a time-based seed.
	BackoffSeed int64 `json:"backoff_seed,omitempty"`

	// LogLevel selects the zerolog level for session logging.
	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config with production defaults for the given
// origin: 10s handshake timeout, 25s heartbeats with 10s pong wait, 1s-30s
// jittered backoff with 10 attempts, and a 20-message send queue.
func DefaultConfig(origin string) *Config {
	return &Config{
		Origin:     origin,
		SocketPath: "/ws",
		PollPath:   "/poll",

		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 25 * time.Second,
		PongWait:          10 * time.Second,
		CloseGrace:        2 * time.Second,

		ReconnectBaseWait:    1 * time.Second,
		ReconnectMaxWait:     30 * time.Second,
		ReconnectJitter:      0.2,
		MaxReconnectAttempts: 10,

		ProbeWindow:           60 * time.Second,
		ProbeFallbackAttempts: 3,
		ProbeCoolDown:         2 * time.Minute,

		SendQueueSize:  20,
		SendRateLimit:  50,
		SendRatePeriod: time.Second,

		PollTimeout:              30 * time.Second,
		PollBreakerFailThreshold: 3,
		PollBreakerCooldown:      15 * time.Second,

		LogLevel: "info",
	}
}

var validate = validator.New()

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.ReconnectMaxWait < c.ReconnectBaseWait {
		return errors.New("ReconnectMaxWait must be at least ReconnectBaseWait")
	}
	if !strings.HasPrefix(c.SocketPath, "/") || !strings.HasPrefix(c.PollPath, "/") {
		return errors.New("endpoint paths must start with /")
	}
	return nil
}

// SocketURL derives the websocket URL from the origin by swapping http(s)
// for ws(s) and appending the socket path.
func (c *Config) SocketURL() (string, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported origin scheme: %s", u.Scheme)
	}
	u.Path = c.SocketPath
	return u.String(), nil
}

// PollURL derives the long-poll URL from the origin. The handshake query
// (protocol version and transport marker) is added per request by the
// long-poll transport.
func (c *Config) PollURL() (string, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported origin scheme: %s", u.Scheme)
	}
	u.Path = c.PollPath
	return u.String(), nil
}

// WithIdentity sets the auth identity and returns the config for chaining.
func (c *Config) WithIdentity(userID int64, userName string) *Config {
	c.Identity = &Identity{UserID: userID, UserName: userName}
	return c
}

// WithHeartbeat sets the heartbeat interval and pong wait and returns the
// config for chaining.
func (c *Config) WithHeartbeat(interval, pongWait time.Duration) *Config {
	c.HeartbeatInterval = interval
	c.PongWait = pongWait
	return c
}

// WithReconnect sets the backoff parameters and returns the config for chaining.
func (c *Config) WithReconnect(base, max time.Duration, maxAttempts int) *Config {
	c.ReconnectBaseWait = base
	c.ReconnectMaxWait = max
	c.MaxReconnectAttempts = maxAttempts
	return c
}

// WithSendQueue sets the outbound queue bound and returns the config for chaining.
func (c *Config) WithSendQueue(size int) *Config {
	c.SendQueueSize = size
	return c
}
