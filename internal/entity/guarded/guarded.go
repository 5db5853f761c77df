// Package guarded decorates the command-capable entity adapters (Boolean,
// Number, Climate, Humidifier) with a per-entity circuit breaker (A5),
// so every bridge-bound command -- turn_on, turn_off, set_value,
// set_temperature, set_hvac_mode, set_humidity, set_mode -- is issued
// through breaker.Breaker.Execute. An ErrOpen return is an ordinary mutator
// error to the device and load-manager layers above: the FSM is left
// untouched and the loop moves on to the next device, exactly as for any
// other failed command.
package guarded

import (
	"context"

	"github.com/nickw444/da-automation-nk-sub000/internal/breaker"
	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/numeric"
)

// Boolean wraps an entity.Boolean with a breaker.
type Boolean struct {
	inner entity.Boolean
	b     *breaker.Breaker
}

func NewBoolean(inner entity.Boolean, b *breaker.Breaker) *Boolean { return &Boolean{inner, b} }

func (g *Boolean) State() (entity.BinaryValue, bool) { return g.inner.State() }
func (g *Boolean) OnUpdate(cb func())                { g.inner.OnUpdate(cb) }
func (g *Boolean) TurnOn(ctx context.Context) error  { return g.b.Execute(ctx, g.inner.TurnOn) }
func (g *Boolean) TurnOff(ctx context.Context) error { return g.b.Execute(ctx, g.inner.TurnOff) }

// Number wraps an entity.Number with a breaker.
type Number struct {
	inner entity.Number
	b     *breaker.Breaker
}

func NewNumber(inner entity.Number, b *breaker.Breaker) *Number { return &Number{inner, b} }

func (g *Number) State() numeric.State                 { return g.inner.State() }
func (g *Number) Attributes() entity.NumberAttributes  { return g.inner.Attributes() }
func (g *Number) SetValue(ctx context.Context, v float64) error {
	return g.b.Execute(ctx, func(ctx context.Context) error { return g.inner.SetValue(ctx, v) })
}

// Climate wraps an entity.Climate with a breaker.
type Climate struct {
	inner entity.Climate
	b     *breaker.Breaker
}

func NewClimate(inner entity.Climate, b *breaker.Breaker) *Climate { return &Climate{inner, b} }

func (g *Climate) State() entity.HVACMode                   { return g.inner.State() }
func (g *Climate) RoomTemperature() numeric.State           { return g.inner.RoomTemperature() }
func (g *Climate) TargetTemperature() numeric.State         { return g.inner.TargetTemperature() }
func (g *Climate) Attributes() entity.ClimateAttributes     { return g.inner.Attributes() }
func (g *Climate) TurnOff(ctx context.Context) error        { return g.b.Execute(ctx, g.inner.TurnOff) }
func (g *Climate) SetHVACMode(ctx context.Context, mode entity.HVACMode) error {
	return g.b.Execute(ctx, func(ctx context.Context) error { return g.inner.SetHVACMode(ctx, mode) })
}
func (g *Climate) SetTemperature(ctx context.Context, cmd entity.ClimateCommand) error {
	return g.b.Execute(ctx, func(ctx context.Context) error { return g.inner.SetTemperature(ctx, cmd) })
}

// Humidifier wraps an entity.Humidifier with a breaker.
type Humidifier struct {
	inner entity.Humidifier
	b     *breaker.Breaker
}

func NewHumidifier(inner entity.Humidifier, b *breaker.Breaker) *Humidifier {
	return &Humidifier{inner, b}
}

func (g *Humidifier) State() (entity.BinaryValue, bool)        { return g.inner.State() }
func (g *Humidifier) Attributes() entity.HumidifierAttributes  { return g.inner.Attributes() }
func (g *Humidifier) OnUpdate(cb func())                       { g.inner.OnUpdate(cb) }
func (g *Humidifier) TurnOn(ctx context.Context) error         { return g.b.Execute(ctx, g.inner.TurnOn) }
func (g *Humidifier) TurnOff(ctx context.Context) error        { return g.b.Execute(ctx, g.inner.TurnOff) }
func (g *Humidifier) SetMode(ctx context.Context, mode string) error {
	return g.b.Execute(ctx, func(ctx context.Context) error { return g.inner.SetMode(ctx, mode) })
}
func (g *Humidifier) SetHumidity(ctx context.Context, pct float64) error {
	return g.b.Execute(ctx, func(ctx context.Context) error { return g.inner.SetHumidity(ctx, pct) })
}
