package device

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/fsm"
)

// DirectConsumptionOptions are DirectConsumptionDevice's fixed constants.
type DirectConsumptionOptions struct {
	StartingMinCurrentA float64
	MaxCurrentA         float64
	CurrentStepA        float64
	ChangeTransition    time.Duration
	Debounce            time.Duration
	StoppingThresholdA  float64
	StoppingTimeout     time.Duration
}

// DirectConsumptionDevice models a continuously-variable current-controlled
// load such as an EV charger (C6).
type DirectConsumptionDevice struct {
	name        string
	priority    int
	mgmtEnabled func() bool

	setting  entity.Number
	power    entity.Sensor
	voltage  entity.Sensor
	enable   entity.Boolean
	canEnable entity.BinarySensor

	opts    DirectConsumptionOptions
	machine *fsm.Machine

	mu        sync.Mutex
	stopTimer *time.Timer
}

func NewDirectConsumptionDevice(name string, priority int, mgmtEnabled func() bool, setting entity.Number, power, voltage entity.Sensor, enable entity.Boolean, canEnable entity.BinarySensor, opts DirectConsumptionOptions) *DirectConsumptionDevice {
	return &DirectConsumptionDevice{
		name:        name,
		priority:    priority,
		mgmtEnabled: mgmtEnabled,
		setting:     setting,
		power:       power,
		voltage:     voltage,
		enable:      enable,
		canEnable:   canEnable,
		opts:        opts,
		machine:     fsm.New(),
	}
}

func (d *DirectConsumptionDevice) Name() string           { return d.name }
func (d *DirectConsumptionDevice) Priority() int           { return d.priority }
func (d *DirectConsumptionDevice) ManagementEnabled() bool { return d.mgmtEnabled() }
func (d *DirectConsumptionDevice) ChangeState() ChangeState {
	return changeStateFromFSM(d.machine.State())
}

func (d *DirectConsumptionDevice) voltageV() float64 {
	return d.voltage.State().Or(240)
}

func (d *DirectConsumptionDevice) CurrentConsumptionW() float64 {
	return d.power.State().OrZero()
}

func (d *DirectConsumptionDevice) IncreaseIncrements() []Increment {
	v, present := d.enable.State()
	enabled := present && v == entity.On
	voltage := d.voltageV()

	if !enabled {
		ce, cePresent := d.canEnable.State()
		if !cePresent || ce == entity.Off {
			return nil
		}
		var incs []Increment
		for a := d.opts.StartingMinCurrentA; a <= d.opts.MaxCurrentA+1e-9; a += d.opts.CurrentStepA {
			incs = append(incs, Increment{
				Kind:   KindDirectConsumption,
				DeltaW: a * voltage,
				DirectConsumption: DirectConsumptionPayload{
					TargetCurrentA: a,
					Enable:         true,
				},
			})
		}
		return dedupeByDelta(incs)
	}

	setting := d.setting.State().OrZero()
	observedW := d.power.State().OrZero()
	gap := setting - observedW/voltage
	if gap >= 2*d.opts.CurrentStepA {
		return nil
	}
	var incs []Increment
	for a := setting + d.opts.CurrentStepA; a <= d.opts.MaxCurrentA+1e-9; a += d.opts.CurrentStepA {
		incs = append(incs, Increment{
			Kind:   KindDirectConsumption,
			DeltaW: (a - setting) * voltage,
			DirectConsumption: DirectConsumptionPayload{
				TargetCurrentA: a,
			},
		})
	}
	return dedupeByDelta(incs)
}

func (d *DirectConsumptionDevice) DecreaseIncrements() []Increment {
	v, present := d.enable.State()
	if !present || v != entity.On {
		return nil
	}
	voltage := d.voltageV()
	observedW := d.power.State().OrZero()
	eq := math.Floor((observedW/voltage)/d.opts.CurrentStepA) * d.opts.CurrentStepA

	var incs []Increment
	for a := eq - d.opts.CurrentStepA; a >= -1e-9; a -= d.opts.CurrentStepA {
		if a < 0 {
			a = 0
		}
		incs = append(incs, Increment{
			Kind:   KindDirectConsumption,
			DeltaW: a*voltage - observedW,
			DirectConsumption: DirectConsumptionPayload{
				TargetCurrentA: a,
			},
		})
		if a == 0 {
			break
		}
	}
	return dedupeByDelta(incs)
}

func (d *DirectConsumptionDevice) IncreaseConsumptionBy(ctx context.Context, inc Increment) error {
	if validateMutation(d.name, d.IncreaseIncrements(), inc, d.ChangeState()) {
		return nil
	}
	if inc.DirectConsumption.Enable {
		if err := d.enable.TurnOn(ctx); err != nil {
			return err
		}
	}
	if err := d.setting.SetValue(ctx, inc.DirectConsumption.TargetCurrentA); err != nil {
		return err
	}
	d.machine.TransitionToPending(fsm.IncreasePending, d.CurrentConsumptionW()+inc.DeltaW, d.opts.ChangeTransition, d.opts.Debounce)
	d.evaluateStopMonitor(ctx)
	return nil
}

func (d *DirectConsumptionDevice) DecreaseConsumptionBy(ctx context.Context, inc Increment) error {
	if validateMutation(d.name, d.DecreaseIncrements(), inc, d.ChangeState()) {
		return nil
	}
	if err := d.setting.SetValue(ctx, inc.DirectConsumption.TargetCurrentA); err != nil {
		return err
	}
	d.machine.TransitionToPending(fsm.DecreasePending, d.CurrentConsumptionW()+inc.DeltaW, d.opts.ChangeTransition, d.opts.Debounce)
	d.evaluateStopMonitor(ctx)
	return nil
}

// evaluateStopMonitor re-arms or cancels the low-current auto-stop timer
// whenever the current setting changes, per the device's enable state and
// the stopping threshold.
func (d *DirectConsumptionDevice) evaluateStopMonitor(ctx context.Context) {
	d.mu.Lock()
	if d.stopTimer != nil {
		d.stopTimer.Stop()
		d.stopTimer = nil
	}
	v, present := d.enable.State()
	enabled := present && v == entity.On
	setting := d.setting.State().OrZero()
	if enabled && setting < d.opts.StoppingThresholdA {
		d.stopTimer = time.AfterFunc(d.opts.StoppingTimeout, func() {
			d.onStopTimerFired(ctx)
		})
	}
	d.mu.Unlock()
}

func (d *DirectConsumptionDevice) onStopTimerFired(ctx context.Context) {
	v, present := d.enable.State()
	enabled := present && v == entity.On
	setting := d.setting.State().OrZero()
	if !enabled || setting >= d.opts.StoppingThresholdA {
		return
	}
	_ = d.enable.TurnOff(ctx)
	d.machine.Reset()
}

func (d *DirectConsumptionDevice) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.stopTimer != nil {
		d.stopTimer.Stop()
		d.stopTimer = nil
	}
	d.mu.Unlock()
	_ = d.enable.TurnOff(ctx)
	_ = d.setting.SetValue(ctx, 0)
	d.machine.Reset()
}
