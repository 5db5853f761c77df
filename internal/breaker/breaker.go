// Package breaker adapts the teacher's circuit breaker
// (circuit_breaker/circuitbreaker.go) into a small per-entity guard wrapped
// around bridge-bound commands: turn_on, turn_off, set_value,
// set_temperature, set_hvac_mode, set_humidity, set_mode.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's three-valued lifecycle.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrOpen is returned when a call fast-fails because the breaker is open.
// Per this controller's error model it is a soft condition, never a panic:
// the device mutator returns it as an ordinary error without touching its
// FSM, and the load manager logs it and moves on to the next device.
var ErrOpen = errors.New("breaker: open, fast-failing")

// Config tunes one breaker instance.
type Config struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// Breaker is a mutex-protected Closed/Open/HalfOpen state machine guarding
// calls to one external entity.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	recentFails int
	openedAt    time.Time
}

// New constructs a breaker for the named entity; every command issued to
// that entity shares it.
func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, logger: logger, state: Closed}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op through the breaker. While Open and inside the reset
// timeout, it fast-fails with ErrOpen without invoking op. Once the reset
// timeout elapses it allows exactly one probing call through (HalfOpen);
// success closes the breaker, failure reopens it.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	state, openedAt := b.state, b.openedAt
	probe := state == Open && time.Since(openedAt) >= b.cfg.ResetTimeout
	if probe {
		b.state = HalfOpen
	}
	b.mu.Unlock()

	if state == HalfOpen {
		b.logger.Warn("breaker fast-fail while probe in flight", "name", b.name)
		return ErrOpen
	}
	if state == Open {
		if !probe {
			b.logger.Warn("breaker fast-fail", "name", b.name, "since_open", time.Since(openedAt))
			return ErrOpen
		}
		return b.halfOpenProbe(ctx, op)
	}

	if err := op(ctx); err != nil {
		b.onFailure(err)
		if b.State() == Open {
			return ErrOpen
		}
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) halfOpenProbe(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	b.state = HalfOpen
	b.mu.Unlock()

	if err := op(ctx); err != nil {
		b.mu.Lock()
		b.state, b.openedAt = Open, time.Now()
		b.recentFails++
		b.mu.Unlock()
		b.logger.Warn("breaker half-open probe failed", "name", b.name, "error", err)
		return err
	}

	b.mu.Lock()
	b.state, b.recentFails = Closed, 0
	b.mu.Unlock()
	b.logger.Info("breaker closed after successful probe", "name", b.name)
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state, b.recentFails = Closed, 0
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails++
	b.logger.Warn("breaker-guarded operation failed", "name", b.name, "failures", b.recentFails, "error", err)
	if b.recentFails >= b.cfg.MaxFailures {
		b.state, b.openedAt = Open, time.Now()
		b.logger.Error("breaker opened", "name", b.name, "max_failures", b.cfg.MaxFailures)
	}
}
