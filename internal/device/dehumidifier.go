package device

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/fsm"
)

// DehumidifierOptions are DehumidifierDevice's fixed, class-specific
// constants.
type DehumidifierOptions struct {
	MinSetpointPct          float64
	MaxSetpointPct          float64
	SetpointStepPct         float64
	ExpectedDehumidifyingW  float64
	ExpectedFanOnlyW        float64
	FanOnlyTimeout          time.Duration
	SetpointChangeTransition time.Duration
	SetpointDebounce         time.Duration
}

// DehumidifierControls is the operator-facing setpoint store for one
// DehumidifierDevice.
type DehumidifierControls struct {
	mu                    sync.RWMutex
	desiredSetpointPct    float64
	enableComfortSetpoint bool
	comfortSetpointPct    float64
	managementEnabled     bool
}

func NewDehumidifierControls(desiredSetpointPct float64, managementEnabled bool) *DehumidifierControls {
	return &DehumidifierControls{desiredSetpointPct: desiredSetpointPct, managementEnabled: managementEnabled}
}

func (c *DehumidifierControls) DesiredSetpointPct() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.desiredSetpointPct
}

func (c *DehumidifierControls) ComfortSetpointPct() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.comfortSetpointPct, c.enableComfortSetpoint
}

func (c *DehumidifierControls) ManagementEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.managementEnabled
}

func (c *DehumidifierControls) SetDesiredSetpointPct(v float64) {
	c.mu.Lock()
	c.desiredSetpointPct = v
	c.mu.Unlock()
}

func (c *DehumidifierControls) SetComfortSetpoint(enabled bool, v float64) {
	c.mu.Lock()
	c.enableComfortSetpoint = enabled
	c.comfortSetpointPct = v
	c.mu.Unlock()
}

func (c *DehumidifierControls) SetManagementEnabled(v bool) {
	c.mu.Lock()
	c.managementEnabled = v
	c.mu.Unlock()
}

// DehumidifierDevice is a humidity bang-bang appliance with observational
// fan-only detection and a comfort bound (C8).
type DehumidifierDevice struct {
	name            string
	priority        int
	humidifier      entity.Humidifier
	power           entity.Sensor
	humidityReading entity.Sensor
	opts            DehumidifierOptions
	controls        *DehumidifierControls
	machine         *fsm.Machine

	mu           sync.Mutex
	fanOnlyTimer *time.Timer
}

func NewDehumidifierDevice(name string, priority int, humidifier entity.Humidifier, power, humidityReading entity.Sensor, opts DehumidifierOptions, controls *DehumidifierControls) *DehumidifierDevice {
	d := &DehumidifierDevice{
		name:            name,
		priority:        priority,
		humidifier:      humidifier,
		power:           power,
		humidityReading: humidityReading,
		opts:            opts,
		controls:        controls,
		machine:         fsm.New(),
	}
	power.OnUpdate(d.onConsumptionChanged)
	return d
}

func (d *DehumidifierDevice) Name() string           { return d.name }
func (d *DehumidifierDevice) Priority() int           { return d.priority }
func (d *DehumidifierDevice) ManagementEnabled() bool { return d.controls.ManagementEnabled() }
func (d *DehumidifierDevice) ChangeState() ChangeState {
	return changeStateFromFSM(d.machine.State())
}

func (d *DehumidifierDevice) CurrentConsumptionW() float64 {
	return d.power.State().OrZero()
}

func (d *DehumidifierDevice) isOn() bool {
	v, present := d.humidifier.State()
	return present && v == entity.On
}

func (d *DehumidifierDevice) isFanOnly() bool {
	if !d.isOn() {
		return false
	}
	observedW := d.power.State().OrZero()
	return math.Abs(observedW-d.opts.ExpectedFanOnlyW) <= 0.2*d.opts.ExpectedFanOnlyW
}

func clampPct(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func (d *DehumidifierDevice) IncreaseIncrements() []Increment {
	humidity, present := d.humidityReading.State().Value()
	if !present {
		return nil
	}
	desired := d.controls.DesiredSetpointPct()

	if !d.isOn() {
		if humidity > desired {
			sp := clampPct(desired, d.opts.MinSetpointPct, d.opts.MaxSetpointPct)
			return []Increment{{
				Kind:         KindDehumidifier,
				DeltaW:       d.opts.ExpectedDehumidifyingW,
				Dehumidifier: DehumidifierPayload{TargetHumidityPct: sp},
			}}
		}
		return nil
	}

	currentSetpoint := d.humidifier.Attributes().Humidity.OrZero()
	currentW := d.CurrentConsumptionW()
	inFanOnly := d.isFanOnly()

	var incs []Increment
	for sp := currentSetpoint - d.opts.SetpointStepPct; sp >= desired-climateEpsilon && sp >= d.opts.MinSetpointPct-climateEpsilon; sp -= d.opts.SetpointStepPct {
		if !(sp < humidity && inFanOnly) {
			continue
		}
		delta := d.opts.ExpectedDehumidifyingW - currentW
		if delta <= 0 {
			continue
		}
		incs = append(incs, Increment{Kind: KindDehumidifier, DeltaW: delta, Dehumidifier: DehumidifierPayload{TargetHumidityPct: sp}})
	}
	return dedupeByDelta(incs)
}

func (d *DehumidifierDevice) DecreaseIncrements() []Increment {
	if !d.isOn() {
		return nil
	}
	humidity, present := d.humidityReading.State().Value()
	if !present {
		return nil
	}
	comfort, comfortEngaged := d.controls.ComfortSetpointPct()
	bound := d.opts.MaxSetpointPct
	if comfortEngaged && comfort < bound {
		bound = comfort
	}

	currentSetpoint := d.humidifier.Attributes().Humidity.OrZero()
	currentW := d.CurrentConsumptionW()
	dehumidifying := d.isOn() && !d.isFanOnly()

	var incs []Increment
	for sp := currentSetpoint + d.opts.SetpointStepPct; sp <= bound+climateEpsilon; sp += d.opts.SetpointStepPct {
		if !(dehumidifying && sp >= humidity) {
			continue
		}
		delta := d.opts.ExpectedFanOnlyW - currentW
		if delta >= 0 {
			continue
		}
		incs = append(incs, Increment{Kind: KindDehumidifier, DeltaW: delta, Dehumidifier: DehumidifierPayload{TargetHumidityPct: sp}})
	}
	return dedupeByDelta(incs)
}

func (d *DehumidifierDevice) IncreaseConsumptionBy(ctx context.Context, inc Increment) error {
	if validateMutation(d.name, d.IncreaseIncrements(), inc, d.ChangeState()) {
		return nil
	}
	current := d.CurrentConsumptionW()
	if !d.isOn() {
		if err := d.humidifier.TurnOn(ctx); err != nil {
			return err
		}
	}
	if err := d.humidifier.SetHumidity(ctx, inc.Dehumidifier.TargetHumidityPct); err != nil {
		return err
	}
	d.machine.TransitionToPending(fsm.IncreasePending, current+inc.DeltaW, d.opts.SetpointChangeTransition, d.opts.SetpointDebounce)
	return nil
}

func (d *DehumidifierDevice) DecreaseConsumptionBy(ctx context.Context, inc Increment) error {
	if validateMutation(d.name, d.DecreaseIncrements(), inc, d.ChangeState()) {
		return nil
	}
	current := d.CurrentConsumptionW()
	if err := d.humidifier.SetHumidity(ctx, inc.Dehumidifier.TargetHumidityPct); err != nil {
		return err
	}
	d.machine.TransitionToPending(fsm.DecreasePending, current+inc.DeltaW, d.opts.SetpointChangeTransition, d.opts.SetpointDebounce)
	return nil
}

// onConsumptionChanged re-arms or cancels the fan-only idle-out timer
// whenever the observed power reading changes, armed only while the device
// is in fan-only and the comfort bound is disabled.
func (d *DehumidifierDevice) onConsumptionChanged() {
	inFanOnly := d.isFanOnly()
	_, comfortEngaged := d.controls.ComfortSetpointPct()

	d.mu.Lock()
	defer d.mu.Unlock()
	if inFanOnly && !comfortEngaged {
		if d.fanOnlyTimer == nil {
			d.fanOnlyTimer = time.AfterFunc(d.opts.FanOnlyTimeout, d.fanOnlyTimerFired)
		}
		return
	}
	if d.fanOnlyTimer != nil {
		d.fanOnlyTimer.Stop()
		d.fanOnlyTimer = nil
	}
}

func (d *DehumidifierDevice) fanOnlyTimerFired() {
	_ = d.humidifier.TurnOff(context.Background())
	d.machine.Reset()
	d.mu.Lock()
	d.fanOnlyTimer = nil
	d.mu.Unlock()
}

func (d *DehumidifierDevice) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.fanOnlyTimer != nil {
		d.fanOnlyTimer.Stop()
		d.fanOnlyTimer = nil
	}
	d.mu.Unlock()
	_ = d.humidifier.TurnOff(ctx)
	d.machine.Reset()
}
