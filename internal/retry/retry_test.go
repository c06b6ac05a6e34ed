package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	waited []time.Duration
	block  bool
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waited = append(c.waited, d)
	ch := make(chan time.Time, 1)
	if !c.block {
		c.now = c.now.Add(d)
		ch <- c.now
	}
	return ch
}

var errTransient = errors.New("connection refused")

func TestDo_ExponentialScheduleThenLastError(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 3, Base: time.Second, Clock: clk},
		func(_ context.Context, attempt int) error {
			assert.Equal(t, calls, attempt)
			calls++
			return errTransient
		})

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls, "one attempt plus three retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, clk.waited)
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	clk := &fakeClock{}
	var retried []int
	err := Do(context.Background(), Policy{
		MaxRetries: 5, Base: 10 * time.Millisecond, Clock: clk,
		OnRetry: func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) },
	}, func(_ context.Context, attempt int) error {
		if attempt < 2 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, retried)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, clk.waited)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	clk := &fakeClock{}
	permanent := errors.New("deadline")
	calls := 0
	err := Do(context.Background(), Policy{
		MaxRetries: 3, Clock: clk,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context, int) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.waited)
}

func TestMachine_ZeroRetries(t *testing.T) {
	m := New(Policy{MaxRetries: 0, Clock: &fakeClock{}})
	assert.Equal(t, StateFailed, m.Record(errTransient))
	assert.ErrorIs(t, m.Err(), errTransient)
	assert.Equal(t, StateFailed, m.Record(nil), "terminal states are sticky")
}

func TestDo_ZeroRetriesRunsOnce(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 0, Base: time.Second, Clock: clk},
		func(context.Context, int) error {
			calls++
			return errTransient
		})

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.waited)
}

func TestMachine_WaitCanceled(t *testing.T) {
	clk := &fakeClock{block: true}
	m := New(Policy{MaxRetries: 2, Base: time.Minute, Clock: clk})
	require.Equal(t, StateWaiting, m.Record(errTransient))
	assert.Equal(t, time.Minute, m.Delay())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, StateFailed, m.State())
}
