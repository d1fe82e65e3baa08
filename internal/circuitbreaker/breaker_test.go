package circuitbreaker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, cooldown time.Duration) *Breaker {
	return New(Config{FailThreshold: threshold, Cooldown: cooldown}, zerolog.Nop())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	b.Record(false)
	b.Record(false)
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())

	b.Record(false)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
	assert.Equal(t, int64(1), b.Trips())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Failures())
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b := newTestBreaker(1, 20*time.Millisecond)

	b.Record(false)
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.Allow())

	time.Sleep(30 * time.Millisecond)

	assert.True(t, b.Allow(), "cooldown elapsed, probe admitted")
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	b.Record(false)
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.Allow())

	b.Record(true)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
	assert.True(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	b.Record(false)
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.Allow())

	b.Record(false)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
	assert.Equal(t, int64(2), b.Trips())
}

func TestBreaker_Reset(t *testing.T) {
	b := newTestBreaker(1, time.Minute)

	b.Record(false)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
	assert.True(t, b.Allow())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}
