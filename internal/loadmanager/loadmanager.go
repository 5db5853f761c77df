// Package loadmanager implements the periodic load-management loop (C9):
// reading smoothed grid consumption and arbitrating shed/add actions across
// a priority-ordered device set.
package loadmanager

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nickw444/da-automation-nk-sub000/internal/device"
	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
)

// ActionKind tags whether a device action was a shed or an add.
type ActionKind string

const (
	ActionShed ActionKind = "shed"
	ActionAdd  ActionKind = "add"
)

// Action records one device mutation taken during a tick, the unit of work
// the optional audit trail (A6) and metrics (A4) consume.
type Action struct {
	Device string
	Kind   ActionKind
	DeltaW float64
}

// Hooks lets ambient collaborators (metrics, audit) observe the loop
// without the loop depending on them. The zero value (NoopHooks) does
// nothing.
type Hooks interface {
	TickCompleted(ticks uint64, gridW float64, gridPresent bool)
	ActionTaken(a Action)
	ShedBudgetRemaining(w float64)
}

// NoopHooks is the default Hooks implementation.
type NoopHooks struct{}

func (NoopHooks) TickCompleted(uint64, float64, bool) {}
func (NoopHooks) ActionTaken(Action)                  {}
func (NoopHooks) ShedBudgetRemaining(float64)         {}

// Stats is the RWMutex-guarded snapshot the status API (A3) reads.
type Stats struct {
	mu           sync.RWMutex
	ticks        uint64
	lastGridW    float64
	lastPresent  bool
	lastActions  map[string]Action
}

func newStats() *Stats {
	return &Stats{lastActions: make(map[string]Action)}
}

func (s *Stats) recordTick(gridW float64, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	s.lastGridW, s.lastPresent = gridW, present
}

func (s *Stats) recordAction(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActions[a.Device] = a
}

// Snapshot is the copyable view returned by DeviceLoadManager.Stats.
type Snapshot struct {
	Ticks            uint64
	LastGridW        float64
	LastGridPresent  bool
	LastActions      map[string]Action
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actions := make(map[string]Action, len(s.lastActions))
	for k, v := range s.lastActions {
		actions[k] = v
	}
	return Snapshot{Ticks: s.ticks, LastGridW: s.lastGridW, LastGridPresent: s.lastPresent, LastActions: actions}
}

// DeviceLoadManager is the periodic bang-bang arbitration loop over a fixed
// device set (C9).
type DeviceLoadManager struct {
	devices        []device.Device
	grid           entity.Sensor
	desiredGridW   float64
	maxBeforeShedW float64
	minBeforeAddW  float64
	interval       time.Duration
	logger         *slog.Logger
	hooks          Hooks

	stats   *Stats
	stopCh  chan struct{}
	once    sync.Once
}

// New constructs a DeviceLoadManager. desiredGridW, maxBeforeShedW and
// minBeforeAddW must satisfy minBeforeAddW < desiredGridW < maxBeforeShedW
// -- the caller (config, A1) is responsible for validating that invariant.
func New(devices []device.Device, grid entity.Sensor, desiredGridW, maxBeforeShedW, minBeforeAddW float64, interval time.Duration, logger *slog.Logger, hooks Hooks) *DeviceLoadManager {
	if logger == nil {
		logger = slog.Default()
	}
	if hooks == nil {
		hooks = NoopHooks{}
	}
	return &DeviceLoadManager{
		devices:        devices,
		grid:           grid,
		desiredGridW:   desiredGridW,
		maxBeforeShedW: maxBeforeShedW,
		minBeforeAddW:  minBeforeAddW,
		interval:       interval,
		logger:         logger,
		hooks:          hooks,
		stats:          newStats(),
		stopCh:         make(chan struct{}),
	}
}

// Stats returns a point-in-time snapshot of the loop's counters, the
// backing data for the status API (A3).
func (m *DeviceLoadManager) Stats() Snapshot { return m.stats.Snapshot() }

// Run drives the tick loop until ctx is cancelled or Stop is called. It
// blocks, the way the teacher's engine.Run blocks its caller goroutine.
func (m *DeviceLoadManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *DeviceLoadManager) tick(ctx context.Context) {
	state := m.grid.State()
	gridW, present := state.Value()
	m.stats.recordTick(gridW, present)
	m.hooks.TickCompleted(m.stats.Snapshot().Ticks, gridW, present)
	if !present {
		m.logger.Warn("grid consumption sensor absent, skipping tick")
		return
	}
	switch {
	case gridW > m.maxBeforeShedW:
		m.shed(ctx, gridW-m.desiredGridW)
	case gridW < m.minBeforeAddW:
		m.add(ctx, m.desiredGridW-gridW)
	}
}

func (m *DeviceLoadManager) shed(ctx context.Context, excess float64) {
	sorted := append([]device.Device(nil), m.devices...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() > sorted[j].Priority() })

	budget := excess
	for _, dev := range sorted {
		if budget <= 0 {
			break
		}
		if !dev.ManagementEnabled() {
			continue
		}
		if dev.ChangeState().Kind != device.None {
			continue
		}
		best, ok := pickLargestFitting(dev.DecreaseIncrements(), budget)
		if !ok {
			continue
		}
		if err := dev.DecreaseConsumptionBy(ctx, best); err != nil {
			m.logger.Warn("decrease_consumption_by failed", "device", dev.Name(), "error", err)
			continue
		}
		budget -= math.Abs(best.DeltaW)
		action := Action{Device: dev.Name(), Kind: ActionShed, DeltaW: best.DeltaW}
		m.stats.recordAction(action)
		m.hooks.ActionTaken(action)
	}
	m.hooks.ShedBudgetRemaining(budget)
	if budget > 0 {
		m.logger.Warn("shed budget not fully covered", "remaining_w", budget)
	}
}

func (m *DeviceLoadManager) add(ctx context.Context, surplus float64) {
	sorted := append([]device.Device(nil), m.devices...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })

	budget := surplus
	for _, dev := range m.devices {
		cs := dev.ChangeState()
		if cs.Kind == device.PendingIncrease {
			budget -= cs.ExpectedFutureConsumptionW - dev.CurrentConsumptionW()
		}
	}

	for _, dev := range sorted {
		if budget <= 0 {
			break
		}
		if !dev.ManagementEnabled() {
			continue
		}
		if dev.ChangeState().Kind != device.None {
			continue
		}
		best, ok := pickLargestFitting(dev.IncreaseIncrements(), budget)
		if !ok {
			continue
		}
		if err := dev.IncreaseConsumptionBy(ctx, best); err != nil {
			m.logger.Warn("increase_consumption_by failed", "device", dev.Name(), "error", err)
			continue
		}
		budget -= best.DeltaW
		action := Action{Device: dev.Name(), Kind: ActionAdd, DeltaW: best.DeltaW}
		m.stats.recordAction(action)
		m.hooks.ActionTaken(action)
	}
}

// pickLargestFitting returns the increment with the largest |delta| that
// does not exceed the remaining budget -- each device gets at most one
// action per tick, per this controller's deliberate choice not to sum
// multiple increments from the same device.
func pickLargestFitting(incs []device.Increment, budget float64) (device.Increment, bool) {
	var best *device.Increment
	for i := range incs {
		abs := math.Abs(incs[i].DeltaW)
		if abs > budget {
			continue
		}
		if best == nil || abs > math.Abs(best.DeltaW) {
			best = &incs[i]
		}
	}
	if best == nil {
		return device.Increment{}, false
	}
	return *best, true
}

// Stop cancels the tick loop and unconditionally stops every device.
func (m *DeviceLoadManager) Stop(ctx context.Context) {
	m.once.Do(func() { close(m.stopCh) })
	for _, dev := range m.devices {
		dev.Stop(ctx)
	}
}
