// Package mqttbridge binds the C1 entity adapters (entity.BinarySensor,
// entity.Sensor, entity.Boolean, entity.Number, entity.Climate,
// entity.Humidifier) to a real MQTT broker, grounded on
// device/internal/{simulator,sensor,publisher}.go's
// eclipse/paho.mqtt.golang usage: one topic per entity, JSON payloads,
// Publish+token.Wait() for writes, Subscribe callbacks for state updates.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/numeric"
)

// Bridge owns the single MQTT client connection every entity adapter in
// this package publishes through and subscribes on.
type Bridge struct {
	client mqtt.Client
	logger *slog.Logger
}

// Connect dials the broker, the way device/internal.Simulator does in its
// constructor, and returns a Bridge ready to mint entity adapters.
func Connect(brokerAddr, clientID string, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := mqtt.NewClientOptions().AddBroker(brokerAddr).SetClientID(clientID).SetAutoReconnect(true)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttbridge: connect to %s: %w", brokerAddr, token.Error())
	}
	return &Bridge{client: c, logger: logger}, nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() { b.client.Disconnect(250) }

func (b *Bridge) publish(topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mqttbridge: marshal payload for %s: %w", topic, err)
	}
	token := b.client.Publish(topic, 0, false, raw)
	token.Wait()
	if err := token.Error(); err != nil {
		b.logger.Warn("mqttbridge publish failed", "topic", topic, "error", err)
		return err
	}
	return nil
}

// ---- binary sensor / numeric sensor state topics ----

type binaryPayload struct {
	State string `json:"state"`
}

type numericPayload struct {
	State *float64 `json:"state"`
}

// floatPtrState coerces an optional numeric field decoded from a bridge
// payload into a numeric.State, treating a missing field the same as any
// other "no data" reading.
func floatPtrState(v *float64) numeric.State {
	if v == nil {
		return numeric.Absent
	}
	return numeric.Of(*v)
}

// binaryState is shared, goroutine-safe storage for the last value observed
// on a binary state topic, plus the registered update callbacks.
type binaryState struct {
	mu        sync.RWMutex
	value     entity.BinaryValue
	present   bool
	callbacks []func()
}

func (s *binaryState) set(v entity.BinaryValue, present bool) {
	s.mu.Lock()
	s.value, s.present = v, present
	cbs := append([]func(){}, s.callbacks...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (s *binaryState) State() (entity.BinaryValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.present
}

func (s *binaryState) OnUpdate(cb func()) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

func subscribeBinary(b *Bridge, topic string) *binaryState {
	s := &binaryState{}
	b.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p binaryPayload
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			b.logger.Warn("mqttbridge: malformed binary payload", "topic", topic, "error", err)
			return
		}
		switch p.State {
		case "on":
			s.set(entity.On, true)
		case "off":
			s.set(entity.Off, true)
		default:
			s.set(entity.Off, false)
		}
	})
	return s
}

type numericState struct {
	mu        sync.RWMutex
	value     numeric.State
	callbacks []func()
}

func (s *numericState) set(v numeric.State) {
	s.mu.Lock()
	s.value = v
	cbs := append([]func(){}, s.callbacks...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (s *numericState) State() numeric.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

func (s *numericState) OnUpdate(cb func()) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

func subscribeNumeric(b *Bridge, topic string) *numericState {
	s := &numericState{value: numeric.Absent}
	b.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p numericPayload
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			b.logger.Warn("mqttbridge: malformed numeric payload", "topic", topic, "error", err)
			return
		}
		s.set(floatPtrState(p.State))
	})
	return s
}

// BinarySensor binds entity.BinarySensor to a state topic.
type BinarySensor struct{ *binaryState }

// NewBinarySensor subscribes to stateTopic and returns a live BinarySensor.
func NewBinarySensor(b *Bridge, stateTopic string) *BinarySensor {
	return &BinarySensor{subscribeBinary(b, stateTopic)}
}

// Sensor binds entity.Sensor to a state topic.
type Sensor struct{ *numericState }

// NewSensor subscribes to stateTopic and returns a live Sensor.
func NewSensor(b *Bridge, stateTopic string) *Sensor {
	return &Sensor{subscribeNumeric(b, stateTopic)}
}

// Boolean binds entity.Boolean to a state topic and a command topic.
type Boolean struct {
	*binaryState
	bridge     *Bridge
	cmdTopic   string
}

// NewBoolean subscribes to stateTopic for updates and publishes commands to
// cmdTopic.
func NewBoolean(b *Bridge, stateTopic, cmdTopic string) *Boolean {
	return &Boolean{subscribeBinary(b, stateTopic), b, cmdTopic}
}

type boolCommand struct {
	Command string `json:"command"`
}

func (bo *Boolean) TurnOn(ctx context.Context) error {
	return bo.bridge.publish(bo.cmdTopic, boolCommand{Command: "turn_on"})
}

func (bo *Boolean) TurnOff(ctx context.Context) error {
	return bo.bridge.publish(bo.cmdTopic, boolCommand{Command: "turn_off"})
}

// Number binds entity.Number to a state topic and a set-value command topic.
type Number struct {
	*numericState
	bridge   *Bridge
	cmdTopic string
	attrs    entity.NumberAttributes
}

// NewNumber subscribes to stateTopic and publishes SetValue commands to
// cmdTopic. attrs is the static min/max/step the entity was configured with
// (MQTT entities don't publish their own attribute discovery here).
func NewNumber(b *Bridge, stateTopic, cmdTopic string, attrs entity.NumberAttributes) *Number {
	return &Number{subscribeNumeric(b, stateTopic), b, cmdTopic, attrs}
}

func (n *Number) Attributes() entity.NumberAttributes { return n.attrs }

type numberCommand struct {
	Value float64 `json:"value"`
}

func (n *Number) SetValue(ctx context.Context, v float64) error {
	return n.bridge.publish(n.cmdTopic, numberCommand{Value: v})
}

// climatePayload is the state-topic JSON shape a climate entity publishes.
type climatePayload struct {
	Mode               string   `json:"mode"`
	CurrentTemperature *float64 `json:"current_temperature"`
	TargetTemperature  *float64 `json:"target_temperature"`
}

func parseHVACMode(s string) entity.HVACMode {
	switch s {
	case "heat":
		return entity.HVACHeat
	case "cool":
		return entity.HVACCool
	case "fan_only":
		return entity.HVACFanOnly
	default:
		return entity.HVACOff
	}
}

// Climate binds entity.Climate to a state topic and a command topic.
type Climate struct {
	mu       sync.RWMutex
	mode     entity.HVACMode
	current  numeric.State
	target   numeric.State
	attrs    entity.ClimateAttributes
	bridge   *Bridge
	cmdTopic string
}

// NewClimate subscribes to stateTopic and publishes commands to cmdTopic.
// attrs.MinTemp/MaxTemp/HVACModes come from static entity configuration.
func NewClimate(b *Bridge, stateTopic, cmdTopic string, attrs entity.ClimateAttributes) *Climate {
	c := &Climate{attrs: attrs, bridge: b, cmdTopic: cmdTopic}
	b.client.Subscribe(stateTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p climatePayload
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			b.logger.Warn("mqttbridge: malformed climate payload", "topic", stateTopic, "error", err)
			return
		}
		c.mu.Lock()
		c.mode = parseHVACMode(p.Mode)
		c.current = floatPtrState(p.CurrentTemperature)
		c.target = floatPtrState(p.TargetTemperature)
		c.mu.Unlock()
	})
	return c
}

func (c *Climate) State() entity.HVACMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *Climate) RoomTemperature() numeric.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Climate) TargetTemperature() numeric.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.target
}

func (c *Climate) Attributes() entity.ClimateAttributes {
	c.mu.RLock()
	defer c.mu.RUnlock()
	attrs := c.attrs
	attrs.CurrentTemperature = c.current
	attrs.Temperature = c.target
	return attrs
}

type climateCommand struct {
	Temperature *float64 `json:"temperature,omitempty"`
	HVACMode    *string  `json:"hvac_mode,omitempty"`
}

func hvacModeString(m entity.HVACMode) string {
	return m.String()
}

func (c *Climate) SetTemperature(ctx context.Context, cmd entity.ClimateCommand) error {
	payload := climateCommand{Temperature: &cmd.TemperatureC}
	if cmd.HasHVACMode {
		s := hvacModeString(cmd.HVACMode)
		payload.HVACMode = &s
	}
	return c.bridge.publish(c.cmdTopic, payload)
}

func (c *Climate) SetHVACMode(ctx context.Context, mode entity.HVACMode) error {
	s := hvacModeString(mode)
	return c.bridge.publish(c.cmdTopic, climateCommand{HVACMode: &s})
}

func (c *Climate) TurnOff(ctx context.Context) error {
	off := hvacModeString(entity.HVACOff)
	return c.bridge.publish(c.cmdTopic, climateCommand{HVACMode: &off})
}

// humidifierPayload is the state-topic JSON shape a humidifier publishes.
type humidifierPayload struct {
	State    string   `json:"state"`
	Humidity *float64 `json:"humidity"`
	Mode     string   `json:"mode"`
}

// Humidifier binds entity.Humidifier to a state topic and a command topic.
type Humidifier struct {
	mu        sync.RWMutex
	value     entity.BinaryValue
	present   bool
	humidity  numeric.State
	mode      string
	attrs     entity.HumidifierAttributes
	bridge    *Bridge
	cmdTopic  string
	callbacks []func()
}

// NewHumidifier subscribes to stateTopic and publishes commands to cmdTopic.
func NewHumidifier(b *Bridge, stateTopic, cmdTopic string, attrs entity.HumidifierAttributes) *Humidifier {
	h := &Humidifier{attrs: attrs, bridge: b, cmdTopic: cmdTopic}
	b.client.Subscribe(stateTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p humidifierPayload
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			b.logger.Warn("mqttbridge: malformed humidifier payload", "topic", stateTopic, "error", err)
			return
		}
		h.mu.Lock()
		switch p.State {
		case "on":
			h.value, h.present = entity.On, true
		case "off":
			h.value, h.present = entity.Off, true
		default:
			h.present = false
		}
		h.humidity = floatPtrState(p.Humidity)
		h.mode = p.Mode
		cbs := append([]func(){}, h.callbacks...)
		h.mu.Unlock()
		for _, cb := range cbs {
			cb()
		}
	})
	return h
}

func (h *Humidifier) State() (entity.BinaryValue, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value, h.present
}

func (h *Humidifier) Attributes() entity.HumidifierAttributes {
	h.mu.RLock()
	defer h.mu.RUnlock()
	attrs := h.attrs
	attrs.Humidity = h.humidity
	attrs.Mode = h.mode
	return attrs
}

func (h *Humidifier) OnUpdate(cb func()) {
	h.mu.Lock()
	h.callbacks = append(h.callbacks, cb)
	h.mu.Unlock()
}

type humidifierCommand struct {
	Command  string   `json:"command"`
	Humidity *float64 `json:"humidity,omitempty"`
	Mode     *string  `json:"mode,omitempty"`
}

func (h *Humidifier) TurnOn(ctx context.Context) error {
	return h.bridge.publish(h.cmdTopic, humidifierCommand{Command: "turn_on"})
}

func (h *Humidifier) TurnOff(ctx context.Context) error {
	return h.bridge.publish(h.cmdTopic, humidifierCommand{Command: "turn_off"})
}

func (h *Humidifier) SetHumidity(ctx context.Context, pct float64) error {
	return h.bridge.publish(h.cmdTopic, humidifierCommand{Command: "set_humidity", Humidity: &pct})
}

func (h *Humidifier) SetMode(ctx context.Context, mode string) error {
	return h.bridge.publish(h.cmdTopic, humidifierCommand{Command: "set_mode", Mode: &mode})
}
