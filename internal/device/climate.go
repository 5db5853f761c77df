package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/fsm"
)

// ClimateOptions are ClimateDevice's fixed, class-specific constants.
type ClimateOptions struct {
	MinSetpointC    float64
	MaxSetpointC    float64
	SetpointStepC   float64

	CompressorStartupMinW  float64
	PowerOnSetpointOffsetC float64
	ConsumptionPerDegreeW  float64
	MaxCompressorW         float64
	FanOnlyMinW            float64
	HeatCoolMinW           float64

	SetpointChangeTransition time.Duration
	SetpointDebounce         time.Duration
	ModeChangeTransition     time.Duration
	ModeDebounce             time.Duration
	StartupTransition        time.Duration
	StartupDebounce          time.Duration
	FanOnlyTimeout           time.Duration
}

// InvalidDesiredModeError is a programmer error: the operator-facing
// controls must never hold a desired_mode outside {Heat, Cool, Off}.
type InvalidDesiredModeError struct {
	Mode entity.HVACMode
}

func (e *InvalidDesiredModeError) Error() string {
	return fmt.Sprintf("climate controls: desired_mode %s is not one of Heat/Cool/Off", e.Mode)
}

// ClimateControls is the operator-facing, concurrently-mutable setpoint and
// mode store for one ClimateDevice, mirroring the RWMutex-guarded per-zone
// runtime store the teacher's setpoints layer uses. The core only ever
// reads it; the operator UI/API is the only writer.
type ClimateControls struct {
	mu                    sync.RWMutex
	desiredSetpointC      float64
	desiredMode           entity.HVACMode
	enableComfortSetpoint bool
	comfortSetpointC      float64
	managementEnabled     bool
}

func NewClimateControls(desiredSetpointC float64, desiredMode entity.HVACMode, managementEnabled bool) *ClimateControls {
	return &ClimateControls{desiredSetpointC: desiredSetpointC, desiredMode: desiredMode, managementEnabled: managementEnabled}
}

func (c *ClimateControls) DesiredSetpointC() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.desiredSetpointC
}

// DesiredMode returns the configured desired mode, panicking if it has
// somehow been set to anything other than Heat/Cool/Off.
func (c *ClimateControls) DesiredMode() entity.HVACMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.desiredMode != entity.HVACOff && c.desiredMode != entity.HVACHeat && c.desiredMode != entity.HVACCool {
		panic(&InvalidDesiredModeError{Mode: c.desiredMode})
	}
	return c.desiredMode
}

// ComfortSetpointC returns the comfort bound and whether it is engaged.
func (c *ClimateControls) ComfortSetpointC() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.comfortSetpointC, c.enableComfortSetpoint
}

func (c *ClimateControls) ManagementEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.managementEnabled
}

func (c *ClimateControls) SetDesiredSetpointC(v float64) {
	c.mu.Lock()
	c.desiredSetpointC = v
	c.mu.Unlock()
}

func (c *ClimateControls) SetDesiredMode(mode entity.HVACMode) {
	c.mu.Lock()
	c.desiredMode = mode
	c.mu.Unlock()
}

func (c *ClimateControls) SetComfortSetpoint(enabled bool, v float64) {
	c.mu.Lock()
	c.enableComfortSetpoint = enabled
	c.comfortSetpointC = v
	c.mu.Unlock()
}

func (c *ClimateControls) SetManagementEnabled(v bool) {
	c.mu.Lock()
	c.managementEnabled = v
	c.mu.Unlock()
}

// ClimateDevice is an HVAC unit with mode, setpoint, a comfort bound, and a
// fan-only idle-out timer (C7).
type ClimateDevice struct {
	name        string
	priority    int
	climate     entity.Climate
	consumption entity.Sensor
	opts        ClimateOptions
	controls    *ClimateControls
	machine     *fsm.Machine

	mu           sync.Mutex
	fanOnlyTimer *time.Timer
}

func NewClimateDevice(name string, priority int, climate entity.Climate, consumption entity.Sensor, opts ClimateOptions, controls *ClimateControls) *ClimateDevice {
	return &ClimateDevice{
		name:        name,
		priority:    priority,
		climate:     climate,
		consumption: consumption,
		opts:        opts,
		controls:    controls,
		machine:     fsm.New(),
	}
}

func (d *ClimateDevice) Name() string             { return d.name }
func (d *ClimateDevice) Priority() int             { return d.priority }
func (d *ClimateDevice) ManagementEnabled() bool   { return d.controls.ManagementEnabled() }
func (d *ClimateDevice) ChangeState() ChangeState  { return changeStateFromFSM(d.machine.State()) }

func (d *ClimateDevice) CurrentConsumptionW() float64 {
	return d.consumption.State().OrZero()
}

const climateEpsilon = 1e-6

func signFor(mode entity.HVACMode) float64 {
	if mode == entity.HVACHeat {
		return 1
	}
	return -1
}

func (d *ClimateDevice) IncreaseIncrements() []Increment {
	desiredMode := d.controls.DesiredMode()
	if desiredMode == entity.HVACOff {
		return nil
	}
	s := signFor(desiredMode)

	observedMode := d.climate.State()
	modeChangeRequired := observedMode != desiredMode || observedMode == entity.HVACOff

	currentW := d.CurrentConsumptionW()
	floorAdjust := 0.0
	if modeChangeRequired || currentW < d.opts.HeatCoolMinW {
		floorAdjust = d.opts.CompressorStartupMinW
	}

	var baseline float64
	if observedMode == entity.HVACOff || observedMode == entity.HVACFanOnly {
		baseline = d.climate.RoomTemperature().OrZero()
	} else {
		baseline = d.climate.TargetTemperature().OrZero()
	}

	desired := d.controls.DesiredSetpointC()
	if s > 0 && baseline >= desired {
		return nil
	}
	if s < 0 && baseline <= desired {
		return nil
	}

	var candidates []float64
	if observedMode == entity.HVACOff {
		sp := baseline + s*d.opts.PowerOnSetpointOffsetC
		if s > 0 && sp > desired {
			sp = desired
		}
		if s < 0 && sp < desired {
			sp = desired
		}
		candidates = []float64{sp}
	} else {
		for sp := baseline + s*d.opts.SetpointStepC; (s > 0 && sp <= desired+climateEpsilon) || (s < 0 && sp >= desired-climateEpsilon); sp += s * d.opts.SetpointStepC {
			candidates = append(candidates, sp)
		}
	}

	var incs []Increment
	for _, sp := range candidates {
		tempPower := math.Abs(baseline-sp) * d.opts.ConsumptionPerDegreeW
		targetW := math.Min(floorAdjust+tempPower+currentW, d.opts.MaxCompressorW)
		delta := targetW - currentW
		if math.Abs(delta) < 10 {
			continue
		}
		payload := ClimatePayload{TargetSetpointC: sp, HasTargetSetpointC: true}
		if modeChangeRequired {
			payload.ModeChange = desiredMode
			payload.HasModeChange = true
		}
		incs = append(incs, Increment{Kind: KindClimate, DeltaW: delta, Climate: payload})
	}
	return dedupeByDelta(incs)
}

func (d *ClimateDevice) DecreaseIncrements() []Increment {
	observedMode := d.climate.State()
	if observedMode == entity.HVACOff || observedMode == entity.HVACFanOnly {
		return nil
	}
	s := signFor(observedMode)
	currentSetpoint := d.climate.TargetTemperature().OrZero()
	comfort, comfortEngaged := d.controls.ComfortSetpointC()

	if comfortEngaged {
		if (s > 0 && currentSetpoint <= comfort) || (s < 0 && currentSetpoint >= comfort) {
			return nil
		}
	}

	bound := d.opts.MinSetpointC
	if s < 0 {
		bound = d.opts.MaxSetpointC
	}
	if comfortEngaged {
		bound = comfort
	}

	currentW := d.CurrentConsumptionW()
	var incs []Increment
	for sp := currentSetpoint - s*d.opts.SetpointStepC; (s > 0 && sp >= bound-climateEpsilon) || (s < 0 && sp <= bound+climateEpsilon); sp -= s * d.opts.SetpointStepC {
		reduction := math.Abs(sp-currentSetpoint) * d.opts.ConsumptionPerDegreeW
		if capW := currentW - d.opts.HeatCoolMinW; reduction > capW {
			reduction = capW
		}
		delta := -reduction
		if delta >= 0 {
			continue
		}
		incs = append(incs, Increment{Kind: KindClimate, DeltaW: delta, Climate: ClimatePayload{TargetSetpointC: sp, HasTargetSetpointC: true}})
	}
	incs = dedupeByDelta(incs)

	if (observedMode == entity.HVACHeat || observedMode == entity.HVACCool) && !comfortEngaged && currentW > d.opts.FanOnlyMinW {
		incs = append(incs, Increment{
			Kind:   KindClimate,
			DeltaW: -(currentW - d.opts.FanOnlyMinW),
			Climate: ClimatePayload{
				ModeChange:    entity.HVACFanOnly,
				HasModeChange: true,
			},
		})
	}
	return dedupeByDelta(incs)
}

func (d *ClimateDevice) clearFanOnlyTimerLocked() {
	d.mu.Lock()
	if d.fanOnlyTimer != nil {
		d.fanOnlyTimer.Stop()
		d.fanOnlyTimer = nil
	}
	d.mu.Unlock()
}

func (d *ClimateDevice) armFanOnlyTimer(ctx context.Context) {
	d.mu.Lock()
	if d.fanOnlyTimer != nil {
		d.fanOnlyTimer.Stop()
	}
	d.fanOnlyTimer = time.AfterFunc(d.opts.FanOnlyTimeout, func() {
		_ = d.climate.TurnOff(ctx)
		d.machine.Reset()
	})
	d.mu.Unlock()
}

func (d *ClimateDevice) IncreaseConsumptionBy(ctx context.Context, inc Increment) error {
	if validateMutation(d.name, d.IncreaseIncrements(), inc, d.ChangeState()) {
		return nil
	}
	current := d.CurrentConsumptionW()
	observedMode := d.climate.State()

	switch {
	case observedMode == entity.HVACOff:
		cmd := entity.ClimateCommand{TemperatureC: inc.Climate.TargetSetpointC}
		if inc.Climate.HasModeChange {
			cmd.HVACMode, cmd.HasHVACMode = inc.Climate.ModeChange, true
		}
		if err := d.climate.SetTemperature(ctx, cmd); err != nil {
			return err
		}
		// current_w is assumed 0 on startup, so the expected future
		// consumption is the increment's delta alone.
		d.machine.TransitionToPending(fsm.IncreasePending, inc.DeltaW, d.opts.StartupTransition, d.opts.StartupDebounce)
	case inc.Climate.HasModeChange:
		if inc.Climate.HasTargetSetpointC {
			if err := d.climate.SetTemperature(ctx, entity.ClimateCommand{TemperatureC: inc.Climate.TargetSetpointC, HVACMode: inc.Climate.ModeChange, HasHVACMode: true}); err != nil {
				return err
			}
		} else if err := d.climate.SetHVACMode(ctx, inc.Climate.ModeChange); err != nil {
			return err
		}
		d.clearFanOnlyTimerLocked()
		d.machine.TransitionToPending(fsm.IncreasePending, current+inc.DeltaW, d.opts.ModeChangeTransition, d.opts.ModeDebounce)
	default:
		if err := d.climate.SetTemperature(ctx, entity.ClimateCommand{TemperatureC: inc.Climate.TargetSetpointC}); err != nil {
			return err
		}
		d.machine.TransitionToPending(fsm.IncreasePending, current+inc.DeltaW, d.opts.SetpointChangeTransition, d.opts.SetpointDebounce)
	}
	return nil
}

func (d *ClimateDevice) DecreaseConsumptionBy(ctx context.Context, inc Increment) error {
	if validateMutation(d.name, d.DecreaseIncrements(), inc, d.ChangeState()) {
		return nil
	}
	current := d.CurrentConsumptionW()
	if inc.Climate.HasModeChange {
		if err := d.climate.SetHVACMode(ctx, entity.HVACFanOnly); err != nil {
			return err
		}
		d.machine.TransitionToPending(fsm.DecreasePending, current+inc.DeltaW, d.opts.ModeChangeTransition, d.opts.ModeDebounce)
		d.armFanOnlyTimer(ctx)
		return nil
	}
	if err := d.climate.SetTemperature(ctx, entity.ClimateCommand{TemperatureC: inc.Climate.TargetSetpointC}); err != nil {
		return err
	}
	d.machine.TransitionToPending(fsm.DecreasePending, current+inc.DeltaW, d.opts.SetpointChangeTransition, d.opts.SetpointDebounce)
	return nil
}

func (d *ClimateDevice) Stop(ctx context.Context) {
	d.clearFanOnlyTimerLocked()
	_ = d.climate.TurnOff(ctx)
	d.machine.Reset()
}
