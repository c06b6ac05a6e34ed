// Package retry drives bounded retries with exponential backoff as an explicit state machine.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v3"
)

// Clock abstracts time so backoff schedules can be tested without sleeping
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

var SystemClock Clock = systemClock{}

type State int

const (
	StateReady State = iota
	StateWaiting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateWaiting:
		return "waiting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Policy struct {
	// MaxRetries bounds the attempts after the first one
	MaxRetries int
	// Base is the delay before the first retry; each further retry doubles it
	Base      time.Duration
	Clock     Clock
	Retryable func(error) bool
	OnRetry   func(attempt int, delay time.Duration, err error)
}

type Machine struct {
	policy  Policy
	bo      backoff.BackOff
	attempt int
	state   State
	delay   time.Duration
	err     error
}

func New(p Policy) *Machine {
	if p.Clock == nil {
		p.Clock = SystemClock
	}
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Base << 20,
		MaxElapsedTime:      0,
		Clock:               p.Clock,
	}
	eb.Reset()
	return &Machine{
		policy: p,
		bo:     eb,
		state:  StateReady,
	}
}

// Attempt is the zero-based index of the attempt about to run
func (m *Machine) Attempt() int         { return m.attempt }
func (m *Machine) State() State         { return m.state }
func (m *Machine) Delay() time.Duration { return m.delay }
func (m *Machine) Err() error           { return m.err }

// Record feeds the outcome of the current attempt
func (m *Machine) Record(err error) State {
	if m.state != StateReady {
		return m.state
	}
	if err == nil {
		m.state, m.err = StateSucceeded, nil
		return m.state
	}
	m.err = err
	if m.policy.Retryable != nil && !m.policy.Retryable(err) {
		m.state = StateFailed
		return m.state
	}
	// attempt counts retries already taken; zero MaxRetries means one try only
	if m.attempt >= m.policy.MaxRetries {
		m.state = StateFailed
		return m.state
	}
	d := m.bo.NextBackOff()
	if d == backoff.Stop {
		m.state = StateFailed
		return m.state
	}
	m.delay = d
	m.state = StateWaiting
	return m.state
}

// Wait holds the caller for the scheduled delay; ctx cancellation ends the machine
func (m *Machine) Wait(ctx context.Context) error {
	if m.state != StateWaiting {
		return fmt.Errorf("retry: wait in state %s", m.state)
	}
	select {
	case <-ctx.Done():
		m.state = StateFailed
		m.err = fmt.Errorf("%w (retry aborted: %v)", m.err, ctx.Err())
		return m.err
	case <-m.policy.Clock.After(m.delay):
		m.attempt++
		m.state = StateReady
		return nil
	}
}

// Do runs op until it succeeds, fails terminally, or the retry budget is spent.
// The returned error is the last attempt's error.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	m := New(p)
	for {
		err := op(ctx, m.Attempt())
		switch m.Record(err) {
		case StateSucceeded:
			return nil
		case StateFailed:
			return m.Err()
		case StateWaiting:
			if p.OnRetry != nil {
				p.OnRetry(m.Attempt(), m.Delay(), err)
			}
			if werr := m.Wait(ctx); werr != nil {
				return werr
			}
		}
	}
}
