// Package fake provides in-memory test doubles for the entity adapters (C1),
// used by the device and load-manager unit tests and by the -dry-run demo
// mode of cmd/loadmanagerd.
package fake

import (
	"context"
	"sync"

	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/numeric"
)

// BinarySensor is a settable fake entity.BinarySensor.
type BinarySensor struct {
	mu      sync.Mutex
	present bool
	value   entity.BinaryValue
	subs    []func()
}

func NewBinarySensor() *BinarySensor { return &BinarySensor{} }

func (s *BinarySensor) State() (entity.BinaryValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.present
}

func (s *BinarySensor) OnUpdate(cb func()) {
	s.mu.Lock()
	s.subs = append(s.subs, cb)
	s.mu.Unlock()
}

// Set updates the observed value and fires subscribers.
func (s *BinarySensor) Set(v entity.BinaryValue) {
	s.mu.Lock()
	s.present, s.value = true, v
	subs := append([]func(){}, s.subs...)
	s.mu.Unlock()
	for _, cb := range subs {
		cb()
	}
}

// SetAbsent marks the sensor unavailable.
func (s *BinarySensor) SetAbsent() {
	s.mu.Lock()
	s.present = false
	s.mu.Unlock()
}

// Sensor is a settable fake entity.Sensor.
type Sensor struct {
	mu    sync.Mutex
	value numeric.State
	subs  []func()
}

func NewSensor() *Sensor { return &Sensor{value: numeric.Absent} }

func (s *Sensor) State() numeric.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *Sensor) OnUpdate(cb func()) {
	s.mu.Lock()
	s.subs = append(s.subs, cb)
	s.mu.Unlock()
}

func (s *Sensor) Set(v float64) {
	s.mu.Lock()
	s.value = numeric.Of(v)
	subs := append([]func(){}, s.subs...)
	s.mu.Unlock()
	for _, cb := range subs {
		cb()
	}
}

func (s *Sensor) SetAbsent() {
	s.mu.Lock()
	s.value = numeric.Absent
	s.mu.Unlock()
}

// Boolean is a settable, command-recording fake entity.Boolean.
type Boolean struct {
	mu       sync.Mutex
	present  bool
	value    entity.BinaryValue
	subs     []func()
	onCalls  int
	offCalls int
	failNext error
}

func NewBoolean(initial entity.BinaryValue) *Boolean {
	return &Boolean{present: true, value: initial}
}

func (b *Boolean) State() (entity.BinaryValue, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.present
}

func (b *Boolean) OnUpdate(cb func()) {
	b.mu.Lock()
	b.subs = append(b.subs, cb)
	b.mu.Unlock()
}

// FailNextCommand makes the next TurnOn/TurnOff call return err instead of
// succeeding, for exercising the circuit breaker and error paths.
func (b *Boolean) FailNextCommand(err error) {
	b.mu.Lock()
	b.failNext = err
	b.mu.Unlock()
}

func (b *Boolean) TurnOn(ctx context.Context) error {
	return b.command(entity.On, &b.onCalls)
}

func (b *Boolean) TurnOff(ctx context.Context) error {
	return b.command(entity.Off, &b.offCalls)
}

func (b *Boolean) command(v entity.BinaryValue, counter *int) error {
	b.mu.Lock()
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		b.mu.Unlock()
		return err
	}
	b.present, b.value = true, v
	*counter++
	subs := append([]func(){}, b.subs...)
	b.mu.Unlock()
	for _, cb := range subs {
		cb()
	}
	return nil
}

func (b *Boolean) OnCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onCalls
}

func (b *Boolean) OffCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offCalls
}

// Number is a settable fake entity.Number with its own current-value sensor
// semantics (state is the commanded/observed setting).
type Number struct {
	mu    sync.Mutex
	value numeric.State
	attrs entity.NumberAttributes
}

func NewNumber(initial float64, attrs entity.NumberAttributes) *Number {
	return &Number{value: numeric.Of(initial), attrs: attrs}
}

func (n *Number) State() numeric.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value
}

func (n *Number) Attributes() entity.NumberAttributes {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attrs
}

func (n *Number) SetValue(ctx context.Context, v float64) error {
	n.mu.Lock()
	n.value = numeric.Of(v)
	n.mu.Unlock()
	return nil
}

// Climate is a settable, command-recording fake entity.Climate.
type Climate struct {
	mu          sync.Mutex
	mode        entity.HVACMode
	roomTemp    numeric.State
	targetTemp  numeric.State
	attrs       entity.ClimateAttributes
	lastCommand entity.ClimateCommand
	setTempN    int
	setModeN    int
	turnOffN    int
}

func NewClimate(mode entity.HVACMode, roomTempC, targetTempC float64, attrs entity.ClimateAttributes) *Climate {
	return &Climate{
		mode:       mode,
		roomTemp:   numeric.Of(roomTempC),
		targetTemp: numeric.Of(targetTempC),
		attrs:      attrs,
	}
}

func (c *Climate) State() entity.HVACMode { c.mu.Lock(); defer c.mu.Unlock(); return c.mode }

func (c *Climate) RoomTemperature() numeric.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomTemp
}

func (c *Climate) TargetTemperature() numeric.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetTemp
}

func (c *Climate) Attributes() entity.ClimateAttributes {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attrs
}

func (c *Climate) SetTemperature(ctx context.Context, cmd entity.ClimateCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCommand = cmd
	c.targetTemp = numeric.Of(cmd.TemperatureC)
	if cmd.HasHVACMode {
		c.mode = cmd.HVACMode
	}
	c.setTempN++
	return nil
}

func (c *Climate) SetHVACMode(ctx context.Context, mode entity.HVACMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	c.setModeN++
	return nil
}

func (c *Climate) TurnOff(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = entity.HVACOff
	c.turnOffN++
	return nil
}

func (c *Climate) SetRoomTemperature(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomTemp = numeric.Of(v)
}

func (c *Climate) LastCommand() entity.ClimateCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCommand
}

func (c *Climate) TurnOffCalls() int { c.mu.Lock(); defer c.mu.Unlock(); return c.turnOffN }

// Humidifier is a settable, command-recording fake entity.Humidifier.
type Humidifier struct {
	mu         sync.Mutex
	present    bool
	on         bool
	attrs      entity.HumidifierAttributes
	subs       []func()
	turnOnN    int
	turnOffN   int
	setHumidN  int
	lastHumid  float64
}

func NewHumidifier(on bool, attrs entity.HumidifierAttributes) *Humidifier {
	return &Humidifier{present: true, on: on, attrs: attrs}
}

func (h *Humidifier) State() (entity.BinaryValue, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.present {
		return entity.Off, false
	}
	if h.on {
		return entity.On, true
	}
	return entity.Off, true
}

func (h *Humidifier) Attributes() entity.HumidifierAttributes {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attrs
}

func (h *Humidifier) SetHumidity(ctx context.Context, pct float64) error {
	h.mu.Lock()
	h.attrs.Humidity = numeric.Of(pct)
	h.lastHumid = pct
	h.setHumidN++
	subs := append([]func(){}, h.subs...)
	h.mu.Unlock()
	for _, cb := range subs {
		cb()
	}
	return nil
}

func (h *Humidifier) SetMode(ctx context.Context, mode string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attrs.Mode = mode
	return nil
}

func (h *Humidifier) TurnOn(ctx context.Context) error {
	h.mu.Lock()
	h.on = true
	h.turnOnN++
	subs := append([]func(){}, h.subs...)
	h.mu.Unlock()
	for _, cb := range subs {
		cb()
	}
	return nil
}

func (h *Humidifier) TurnOff(ctx context.Context) error {
	h.mu.Lock()
	h.on = false
	h.turnOffN++
	subs := append([]func(){}, h.subs...)
	h.mu.Unlock()
	for _, cb := range subs {
		cb()
	}
	return nil
}

func (h *Humidifier) OnUpdate(cb func()) {
	h.mu.Lock()
	h.subs = append(h.subs, cb)
	h.mu.Unlock()
}

// SetHumidityReading sets the Humidity attribute (the value devices read as
// the target setpoint) and fires subscribers, without counting as a
// SetHumidity command.
func (h *Humidifier) SetHumidityReading(pct float64) {
	h.mu.Lock()
	h.attrs.Humidity = numeric.Of(pct)
	subs := append([]func(){}, h.subs...)
	h.mu.Unlock()
	for _, cb := range subs {
		cb()
	}
}

func (h *Humidifier) TurnOnCalls() int  { h.mu.Lock(); defer h.mu.Unlock(); return h.turnOnN }
func (h *Humidifier) TurnOffCalls() int { h.mu.Lock(); defer h.mu.Unlock(); return h.turnOffN }
