package device

import (
	"testing"
	"time"

	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/entity/fake"
	"github.com/nickw444/da-automation-nk-sub000/internal/numeric"
)

func testDehumidifierOptions() DehumidifierOptions {
	return DehumidifierOptions{
		MinSetpointPct:           30,
		MaxSetpointPct:           80,
		SetpointStepPct:          5,
		ExpectedDehumidifyingW:   300,
		ExpectedFanOnlyW:         50,
		FanOnlyTimeout:           10 * time.Millisecond,
		SetpointChangeTransition: time.Millisecond,
		SetpointDebounce:         time.Millisecond,
	}
}

func TestDehumidifierStartupIncrement(t *testing.T) {
	h := fake.NewHumidifier(false, entity.HumidifierAttributes{})
	power := fake.NewSensor()
	humidity := fake.NewSensor()
	humidity.Set(70)
	controls := NewDehumidifierControls(50, true)
	d := NewDehumidifierDevice("dehumidifier", 3, h, power, humidity, testDehumidifierOptions(), controls)

	incs := d.IncreaseIncrements()
	if len(incs) != 1 || incs[0].DeltaW != 300 || incs[0].Dehumidifier.TargetHumidityPct != 50 {
		t.Fatalf("unexpected startup increments: %+v", incs)
	}
}

func TestDehumidifierNoIncrementWhenAlreadyBelowDesired(t *testing.T) {
	h := fake.NewHumidifier(false, entity.HumidifierAttributes{})
	power := fake.NewSensor()
	humidity := fake.NewSensor()
	humidity.Set(40)
	controls := NewDehumidifierControls(50, true)
	d := NewDehumidifierDevice("dehumidifier", 3, h, power, humidity, testDehumidifierOptions(), controls)

	if incs := d.IncreaseIncrements(); len(incs) != 0 {
		t.Fatalf("expected no increments when humidity already below desired, got %+v", incs)
	}
}

func TestDehumidifierFanOnlyIncreaseDeduped(t *testing.T) {
	h := fake.NewHumidifier(true, entity.HumidifierAttributes{Humidity: numeric.Of(60)})
	power := fake.NewSensor()
	power.Set(50) // within the fan-only band for ExpectedFanOnlyW=50
	humidity := fake.NewSensor()
	humidity.Set(70)
	controls := NewDehumidifierControls(50, true)
	d := NewDehumidifierDevice("dehumidifier", 3, h, power, humidity, testDehumidifierOptions(), controls)

	incs := d.IncreaseIncrements()
	if len(incs) != 1 || incs[0].DeltaW != 250 || incs[0].Dehumidifier.TargetHumidityPct != 55 {
		t.Fatalf("expected one deduped fan-only increment, got %+v", incs)
	}
}

func TestDehumidifierDecreaseWhileDehumidifying(t *testing.T) {
	h := fake.NewHumidifier(true, entity.HumidifierAttributes{Humidity: numeric.Of(40)})
	power := fake.NewSensor()
	power.Set(300)
	humidity := fake.NewSensor()
	humidity.Set(45)
	controls := NewDehumidifierControls(50, true)
	d := NewDehumidifierDevice("dehumidifier", 3, h, power, humidity, testDehumidifierOptions(), controls)

	decs := d.DecreaseIncrements()
	if len(decs) != 1 || decs[0].DeltaW != -250 || decs[0].Dehumidifier.TargetHumidityPct != 45 {
		t.Fatalf("expected one deduped decrease increment, got %+v", decs)
	}
}
