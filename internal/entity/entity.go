// Package entity declares the read-only/write-only views over external
// home-automation entities that the load-management core depends on (C1).
// Implementations are supplied by the host: internal/entity/fake for tests
// and a dry-run demo, internal/entity/mqttbridge for a real broker.
package entity

import (
	"context"

	"github.com/nickw444/da-automation-nk-sub000/internal/numeric"
)

// BinaryValue is the two-valued state a BinarySensor or Boolean entity
// reports when present.
type BinaryValue int

const (
	Off BinaryValue = iota
	On
)

func (v BinaryValue) String() string {
	if v == On {
		return "on"
	}
	return "off"
}

// BinarySensor is a read-only on/off/absent observation.
type BinarySensor interface {
	// State reports the current value and whether it is present.
	State() (BinaryValue, bool)
	// OnUpdate registers a callback invoked whenever the underlying entity
	// changes. Callbacks run on the goroutine that delivers the update (the
	// bridge's own goroutine, or the caller of a fake's setter); they are not
	// serialised with the load manager's tick and may run concurrently with
	// a tick iteration.
	OnUpdate(cb func())
}

// Sensor is a read-only numeric observation, normalised per the C2 rule.
type Sensor interface {
	State() numeric.State
	OnUpdate(cb func())
}

// Boolean is a controllable on/off appliance (switch/light/fan/input_boolean).
type Boolean interface {
	State() (BinaryValue, bool)
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	OnUpdate(cb func())
}

// NumberAttributes mirrors the optional min/max/step an entity publishes
// about itself.
type NumberAttributes struct {
	Min, Max, Step    float64
	HasMin, HasMax, HasStep bool
}

// Number is a controllable numeric setting (e.g. a charger's current limit).
type Number interface {
	State() numeric.State
	Attributes() NumberAttributes
	SetValue(ctx context.Context, v float64) error
}

// HVACMode is the climate entity's observed or commanded mode.
type HVACMode int

const (
	HVACOff HVACMode = iota
	HVACHeat
	HVACCool
	HVACFanOnly
)

func (m HVACMode) String() string {
	switch m {
	case HVACOff:
		return "off"
	case HVACHeat:
		return "heat"
	case HVACCool:
		return "cool"
	case HVACFanOnly:
		return "fan_only"
	default:
		return "unknown"
	}
}

// ClimateAttributes is the subset of a climate entity's reported attributes
// the core consults.
type ClimateAttributes struct {
	CurrentTemperature numeric.State
	Temperature        numeric.State
	MinTemp, MaxTemp   float64
	HVACModes          []HVACMode
}

// ClimateCommand is what SetTemperature sends: a target temperature and,
// optionally, a simultaneous mode change (used on startup-from-off and on
// mode-change mutators).
type ClimateCommand struct {
	TemperatureC float64
	HVACMode     HVACMode
	HasHVACMode  bool
}

// Climate is an HVAC unit: mode, room temperature, and target setpoint.
type Climate interface {
	State() HVACMode
	RoomTemperature() numeric.State
	TargetTemperature() numeric.State
	Attributes() ClimateAttributes
	SetTemperature(ctx context.Context, cmd ClimateCommand) error
	SetHVACMode(ctx context.Context, mode HVACMode) error
	TurnOff(ctx context.Context) error
}

// HumidifierAttributes mirrors a dehumidifier entity's reported attributes.
type HumidifierAttributes struct {
	Humidity                 numeric.State
	MinHumidity, MaxHumidity float64
	Mode                     string
	AvailableModes           []string
}

// Humidifier is a dehumidifying appliance with a target humidity setpoint.
type Humidifier interface {
	State() (BinaryValue, bool)
	Attributes() HumidifierAttributes
	SetHumidity(ctx context.Context, pct float64) error
	SetMode(ctx context.Context, mode string) error
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	OnUpdate(cb func())
}
