// Package numeric coerces possibly-string/unknown entity states into a
// definite numeric reading, the way the load-management core needs to treat
// every sensor value it touches.
package numeric

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// State is either a number or Absent. Absent stands in for entity states
// that carry no usable reading: "unavailable", "unknown", empty strings,
// null, NaN, and +/-Inf all normalise to it.
type State struct {
	value  float64
	absent bool
}

// Absent is the zero-information reading.
var Absent = State{absent: true}

// Of wraps a known-good float64 as a present State.
func Of(v float64) State {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Absent
	}
	return State{value: v}
}

// Present reports whether the state carries a usable reading.
func (s State) Present() bool { return !s.absent }

// Value returns the numeric reading and whether it was present.
func (s State) Value() (float64, bool) {
	if s.absent {
		return 0, false
	}
	return s.value, true
}

// Or returns the reading, or fallback when absent.
func (s State) Or(fallback float64) float64 {
	if s.absent {
		return fallback
	}
	return s.value
}

// OrZero returns the reading, or 0 when absent -- the documented default for
// consumers that fall back to "0 W" rather than skipping the tick entirely.
func (s State) OrZero() float64 { return s.Or(0) }

// FromAny coerces a raw entity state -- typically a string, a number, nil,
// or a json.Number decoded from a bridge payload -- into a State. Any value
// that is not a finite number, or a string that does not parse exactly as
// one, becomes Absent. Recognised "no data" strings ("unavailable",
// "unknown", "", "null") are rejected before the numeric parse is attempted
// so they never coincidentally parse as a number.
func FromAny(raw any) State {
	switch v := raw.(type) {
	case nil:
		return Absent
	case float64:
		return Of(v)
	case float32:
		return Of(float64(v))
	case int:
		return Of(float64(v))
	case int64:
		return Of(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Absent
		}
		return Of(f)
	case string:
		return FromString(v)
	default:
		return Absent
	}
}

// FromString applies the C2 normalisation rule to a raw string reading.
func FromString(s string) State {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "", "unavailable", "unknown", "null", "nan":
		return Absent
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return Absent
	}
	return Of(f)
}
