package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errWorker = errors.New("worker timeout")

// clock is a manually advanced time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(failures int, cooldown time.Duration) (*Breaker, *clock, *[]CircuitState) {
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	var seen []CircuitState
	b := NewBreaker(BreakerConfig{
		Name:          "search",
		Failures:      failures,
		Cooldown:      cooldown,
		OnStateChange: func(_, to CircuitState) { seen = append(seen, to) },
	})
	b.now = clk.now
	return b, clk, &seen
}

func fail(b *Breaker) error {
	_, err := Call(context.Background(), b, func(context.Context) (int, error) { return 0, errWorker })
	return err
}

func succeed(b *Breaker) error {
	_, err := Call(context.Background(), b, func(context.Context) (int, error) { return 1, nil })
	return err
}

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b, _, _ := newTestBreaker(3, time.Minute)

	v, err := Call(context.Background(), b, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _, seen := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, fail(b), errWorker)
	}
	assert.Equal(t, CircuitClosed, b.State())

	assert.ErrorIs(t, fail(b), errWorker)
	assert.Equal(t, CircuitOpen, b.State())
	assert.Equal(t, []CircuitState{CircuitOpen}, *seen)

	called := false
	_, err := Call(context.Background(), b, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open circuit must not run the call")
}

func TestBreaker_SuccessResetsRun(t *testing.T) {
	b, _, _ := newTestBreaker(3, time.Minute)

	_ = fail(b)
	_ = fail(b)
	require.NoError(t, succeed(b))
	_ = fail(b)
	_ = fail(b)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_ProbeAfterCooldownCloses(t *testing.T) {
	b, clk, seen := newTestBreaker(1, time.Minute)
	_ = fail(b)

	clk.advance(59 * time.Second)
	assert.ErrorIs(t, succeed(b), ErrCircuitOpen)

	clk.advance(time.Second)
	assert.Equal(t, CircuitHalfOpen, b.State())
	require.NoError(t, succeed(b))
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}, *seen)
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clk, _ := newTestBreaker(2, time.Minute)
	_ = fail(b)
	_ = fail(b)

	clk.advance(time.Minute)
	assert.ErrorIs(t, fail(b), errWorker)
	assert.Equal(t, CircuitOpen, b.State())

	// The cooldown restarts from the failed probe.
	clk.advance(30 * time.Second)
	assert.ErrorIs(t, succeed(b), ErrCircuitOpen)
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	b, clk, _ := newTestBreaker(1, time.Minute)
	_ = fail(b)
	clk.advance(time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = Call(context.Background(), b, func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()

	<-started
	assert.ErrorIs(t, succeed(b), ErrCircuitOpen, "second caller rejected while probing")
	close(release)
	wg.Wait()
	assert.Equal(t, CircuitClosed, b.State())
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	assert.Equal(t, 3, b.cfg.Failures)
	assert.Equal(t, 5*time.Minute, b.cfg.Cooldown)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
