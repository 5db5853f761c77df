package device

import (
	"context"
	"time"

	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/fsm"
)

// BooleanOptions are BooleanDevice's fixed, class-specific constants.
type BooleanOptions struct {
	ExpectedConsumptionW float64
	ChangeTransition      time.Duration
	TurnOffDebounce        time.Duration
	TurnOnDebounce         time.Duration
}

// BooleanDevice is a simple on/off appliance with a one-shot increment in
// either direction (C5).
type BooleanDevice struct {
	name       string
	priority   int
	mgmtEnabled func() bool
	sw         entity.Boolean
	consumption entity.Sensor
	opts       BooleanOptions
	machine    *fsm.Machine
}

// NewBooleanDevice wires a boolean entity and an optional observed-
// consumption sensor (may be nil, in which case the expected wattage is
// always used) into a BooleanDevice.
func NewBooleanDevice(name string, priority int, mgmtEnabled func() bool, sw entity.Boolean, consumption entity.Sensor, opts BooleanOptions) *BooleanDevice {
	return &BooleanDevice{
		name:        name,
		priority:    priority,
		mgmtEnabled: mgmtEnabled,
		sw:          sw,
		consumption: consumption,
		opts:        opts,
		machine:     fsm.New(),
	}
}

func (d *BooleanDevice) Name() string             { return d.name }
func (d *BooleanDevice) Priority() int             { return d.priority }
func (d *BooleanDevice) ManagementEnabled() bool   { return d.mgmtEnabled() }
func (d *BooleanDevice) ChangeState() ChangeState  { return changeStateFromFSM(d.machine.State()) }

func (d *BooleanDevice) observedConsumptionW() float64 {
	if d.consumption == nil {
		return 0
	}
	return d.consumption.State().Or(0)
}

func (d *BooleanDevice) CurrentConsumptionW() float64 {
	v, present := d.sw.State()
	if !present || v == entity.Off {
		return 0
	}
	if d.consumption != nil {
		if val, ok := d.consumption.State().Value(); ok {
			return val
		}
	}
	return d.opts.ExpectedConsumptionW
}

func (d *BooleanDevice) IncreaseIncrements() []Increment {
	v, present := d.sw.State()
	if present && v == entity.On {
		return nil
	}
	return []Increment{{
		Kind:    KindBoolean,
		DeltaW:  d.opts.ExpectedConsumptionW,
		Boolean: BooleanPayload{Action: ActionTurnOn},
	}}
}

func (d *BooleanDevice) DecreaseIncrements() []Increment {
	v, present := d.sw.State()
	if !present || v == entity.Off {
		return nil
	}
	observed := d.observedConsumptionW()
	delta := -observed
	if observed == 0 {
		delta = -d.opts.ExpectedConsumptionW
	}
	if delta == 0 {
		return nil
	}
	return []Increment{{
		Kind:    KindBoolean,
		DeltaW:  delta,
		Boolean: BooleanPayload{Action: ActionTurnOff},
	}}
}

func (d *BooleanDevice) IncreaseConsumptionBy(ctx context.Context, inc Increment) error {
	if validateMutation(d.name, d.IncreaseIncrements(), inc, d.ChangeState()) {
		return nil
	}
	current := d.CurrentConsumptionW()
	if err := d.sw.TurnOn(ctx); err != nil {
		return err
	}
	d.machine.TransitionToPending(fsm.IncreasePending, current+inc.DeltaW, d.opts.ChangeTransition, d.opts.TurnOnDebounce)
	return nil
}

func (d *BooleanDevice) DecreaseConsumptionBy(ctx context.Context, inc Increment) error {
	if validateMutation(d.name, d.DecreaseIncrements(), inc, d.ChangeState()) {
		return nil
	}
	current := d.CurrentConsumptionW()
	if err := d.sw.TurnOff(ctx); err != nil {
		return err
	}
	d.machine.TransitionToPending(fsm.DecreasePending, current+inc.DeltaW, d.opts.ChangeTransition, d.opts.TurnOffDebounce)
	return nil
}

func (d *BooleanDevice) Stop(ctx context.Context) {
	_ = d.sw.TurnOff(ctx)
	d.machine.Reset()
}
