package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnError_Error(t *testing.T) {
	err := NewConnError(ErrorTypeHandshakeTimeout, TransportNativeSocket, "dial timed out")
	assert.Equal(t, "[native-socket] HANDSHAKE_TIMEOUT: dial timed out", err.Error())
	assert.WithinDuration(t, time.Now(), err.Timestamp, time.Second)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrorTypeNetwork, true},
		{ErrorTypeHandshakeTimeout, true},
		{ErrorTypeAbnormalClose, true},
		{ErrorTypeHeartbeat, true},
		{ErrorTypeRetriesExhausted, false},
		{ErrorTypeMalformedMessage, false},
		{ErrorTypeAuthentication, false},
		{ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.errType.String(), func(t *testing.T) {
			err := NewConnError(tt.errType, TransportNativeSocket, "boom")
			assert.Equal(t, tt.want, IsTransient(err))
		})
	}

	assert.False(t, IsTransient(errors.New("plain error")))
	assert.False(t, IsTransient(nil))
}

func TestIsTransient_Wrapped(t *testing.T) {
	inner := NewConnError(ErrorTypeNetwork, TransportLongPoll, "connection refused")
	wrapped := fmt.Errorf("dial: %w", inner)
	assert.True(t, IsTransient(wrapped))
}

func TestIsHandshakeFailure(t *testing.T) {
	assert.True(t, IsHandshakeFailure(NewConnError(ErrorTypeHandshakeTimeout, TransportNativeSocket, "x")))
	assert.True(t, IsHandshakeFailure(NewConnError(ErrorTypeAbnormalClose, TransportNativeSocket, "x")))
	assert.True(t, IsHandshakeFailure(ErrHandshakeTimeout))
	assert.False(t, IsHandshakeFailure(NewConnError(ErrorTypeNetwork, TransportNativeSocket, "x")))
	assert.False(t, IsHandshakeFailure(errors.New("plain")))
}

func TestErrorType_String(t *testing.T) {
	assert.Equal(t, "UNKNOWN", ErrorTypeUnknown.String())
	assert.Equal(t, "RETRIES_EXHAUSTED", ErrorTypeRetriesExhausted.String())
	assert.Equal(t, "AUTHENTICATION", ErrorTypeAuthentication.String())
}

func TestMetrics_Equal(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)

	base := Metrics{ReconnectCount: 2, LastConnectedAt: &now, LastError: "x", LatencyMs: 12}

	same := base
	sameTime := now
	same.LastConnectedAt = &sameTime
	require.True(t, base.Equal(same))

	diff := base
	diff.ReconnectCount = 3
	assert.False(t, base.Equal(diff))

	diff = base
	diff.LastConnectedAt = &later
	assert.False(t, base.Equal(diff))

	diff = base
	diff.LastConnectedAt = nil
	assert.False(t, base.Equal(diff))

	assert.True(t, Metrics{}.Equal(Metrics{}))
}
