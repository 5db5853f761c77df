// Package device implements the base device contract (C4), the increment
// tagged variant shared by every device class, and the four concrete device
// classes (C5-C8: boolean, direct-consumption, climate, dehumidifier).
package device

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/fsm"
)

// Kind tags which device class produced an Increment.
type Kind int

const (
	KindBoolean Kind = iota
	KindDirectConsumption
	KindClimate
	KindDehumidifier
)

// BooleanAction is the Boolean device's increment action.
type BooleanAction int

const (
	ActionTurnOn BooleanAction = iota
	ActionTurnOff
)

// BooleanPayload is the Boolean device's increment payload.
type BooleanPayload struct {
	Action BooleanAction
}

// DirectConsumptionPayload is the direct-consumption device's increment
// payload.
type DirectConsumptionPayload struct {
	TargetCurrentA float64
	Enable         bool
}

// ClimatePayload is the climate device's increment payload.
type ClimatePayload struct {
	TargetSetpointC    float64
	HasTargetSetpointC bool
	ModeChange         entity.HVACMode
	HasModeChange      bool
}

// DehumidifierPayload is the dehumidifier device's increment payload.
type DehumidifierPayload struct {
	TargetHumidityPct float64
}

// Increment is the DeviceIncrement tagged variant: a candidate action
// together with its estimated watt delta. Only the payload field matching
// Kind is populated; the whole struct is comparable so the base contract's
// validator can check "is this exactly one of the increments I reported"
// with ==, per full value-equality rather than identity.
type Increment struct {
	Kind   Kind
	DeltaW float64

	Boolean           BooleanPayload
	DirectConsumption DirectConsumptionPayload
	Climate           ClimatePayload
	Dehumidifier      DehumidifierPayload
}

// ChangeKind tags the three observable outcomes of change_state().
type ChangeKind int

const (
	None ChangeKind = iota
	PendingIncrease
	PendingDecrease
	InDebounce
)

// ChangeState is change_state()'s return value.
type ChangeState struct {
	Kind                       ChangeKind
	ExpectedFutureConsumptionW float64
}

func changeStateFromFSM(s fsm.State) ChangeState {
	switch s.Kind {
	case fsm.IncreasePending:
		return ChangeState{Kind: PendingIncrease, ExpectedFutureConsumptionW: s.ExpectedFutureConsumptionW}
	case fsm.DecreasePending:
		return ChangeState{Kind: PendingDecrease, ExpectedFutureConsumptionW: s.ExpectedFutureConsumptionW}
	case fsm.Debounce:
		return ChangeState{Kind: InDebounce}
	default:
		return ChangeState{Kind: None}
	}
}

// Device is the polymorphic contract the load manager drives (C4). All
// queries are synchronous reads of currently-observed state; no increment
// computation performs I/O.
type Device interface {
	Name() string
	Priority() int
	ManagementEnabled() bool
	CurrentConsumptionW() float64
	ChangeState() ChangeState
	IncreaseIncrements() []Increment
	DecreaseIncrements() []Increment
	IncreaseConsumptionBy(ctx context.Context, inc Increment) error
	DecreaseConsumptionBy(ctx context.Context, inc Increment) error
	Stop(ctx context.Context)
}

// ManagementToggle is an atomic on/off flag for devices that don't have a
// richer operator-facing Controls store of their own (BooleanDevice,
// DirectConsumptionDevice). Pass Get as their mgmtEnabled constructor
// argument; the HTTP status API calls SetManagementEnabled to flip it.
type ManagementToggle struct {
	enabled atomic.Bool
}

// NewManagementToggle constructs a toggle starting at initial.
func NewManagementToggle(initial bool) *ManagementToggle {
	t := &ManagementToggle{}
	t.enabled.Store(initial)
	return t
}

// Get reports whether management is currently enabled.
func (t *ManagementToggle) Get() bool { return t.enabled.Load() }

// SetManagementEnabled flips the toggle. ClimateControls and
// DehumidifierControls expose the same method so the HTTP layer can treat
// every device's management switch uniformly.
func (t *ManagementToggle) SetManagementEnabled(v bool) { t.enabled.Store(v) }

// ValidationError is the domain validation error raised when a mutator is
// invoked with an increment that was not actually offered, or while a
// change is already in flight. Per this controller's error model it is
// caught nowhere in the core; the load-management loop lets it crash the
// tick, since it indicates a violated invariant between arbitration and the
// device.
type ValidationError struct {
	Device    string
	Reason    string
	Increment Increment
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("device %q: %s (increment=%+v)", e.Device, e.Reason, e.Increment)
}

// validateMutation applies the shared validation helper described in
// spec.md C4.2. It returns true when the mutator should silently no-op
// (device is in debounce) and panics with a *ValidationError for the two
// other invariant violations.
func validateMutation(deviceName string, candidates []Increment, inc Increment, cs ChangeState) (skip bool) {
	if cs.Kind == InDebounce {
		return true
	}
	found := false
	for _, c := range candidates {
		if c == inc {
			found = true
			break
		}
	}
	if !found {
		panic(&ValidationError{Device: deviceName, Reason: "increment not present in currently reported increments", Increment: inc})
	}
	if cs.Kind == PendingIncrease || cs.Kind == PendingDecrease {
		panic(&ValidationError{Device: deviceName, Reason: "mutator invoked while a change is already pending", Increment: inc})
	}
	return false
}

// dedupeByDelta drops zero-delta entries and keeps only the first increment
// for each distinct delta value, preserving generation order -- the
// "no entry whose |delta| is zero or which duplicates an earlier entry's
// delta" rule every increment generator must honour.
func dedupeByDelta(incs []Increment) []Increment {
	seen := make(map[float64]struct{}, len(incs))
	out := make([]Increment, 0, len(incs))
	for _, inc := range incs {
		if inc.DeltaW == 0 {
			continue
		}
		if _, ok := seen[inc.DeltaW]; ok {
			continue
		}
		seen[inc.DeltaW] = struct{}{}
		out = append(out, inc)
	}
	return out
}
