package numeric

import (
	"encoding/json"
	"math"
	"testing"
)

func TestFromString(t *testing.T) {
	cases := []struct {
		in     string
		want   float64
		absent bool
	}{
		{"12.5", 12.5, false},
		{"  7  ", 7, false},
		{"-3.2", -3.2, false},
		{"unavailable", 0, true},
		{"unknown", 0, true},
		{"", 0, true},
		{"null", 0, true},
		{"not-a-number", 0, true},
	}
	for _, c := range cases {
		got := FromString(c.in)
		if got.Present() == c.absent {
			t.Fatalf("FromString(%q) presence = %v, want absent=%v", c.in, got.Present(), c.absent)
		}
		if v, ok := got.Value(); ok && v != c.want {
			t.Fatalf("FromString(%q) = %v, want %v", c.in, v, c.want)
		}
	}
}

func TestFromAnyRejectsNonFinite(t *testing.T) {
	if FromAny(math.NaN()).Present() {
		t.Fatal("NaN should be absent")
	}
	if FromAny(math.Inf(1)).Present() {
		t.Fatal("+Inf should be absent")
	}
	if !FromAny(json.Number("42.1")).Present() {
		t.Fatal("json.Number should parse")
	}
	if FromAny(nil).Present() {
		t.Fatal("nil should be absent")
	}
}

func TestOrAndOrZero(t *testing.T) {
	if Absent.OrZero() != 0 {
		t.Fatal("Absent.OrZero() must be 0")
	}
	if Of(5).Or(99) != 5 {
		t.Fatal("present value should win over fallback")
	}
	if Absent.Or(99) != 99 {
		t.Fatal("absent should use fallback")
	}
}
