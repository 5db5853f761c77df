package device

import (
	"context"
	"testing"
	"time"

	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/entity/fake"
)

func newTestDirectConsumptionDevice() (*DirectConsumptionDevice, *fake.Number, *fake.Sensor, *fake.Sensor, *fake.Boolean, *fake.BinarySensor) {
	setting := fake.NewNumber(0, entity.NumberAttributes{})
	power := fake.NewSensor()
	voltage := fake.NewSensor()
	voltage.Set(240)
	enable := fake.NewBoolean(entity.Off)
	canEnable := fake.NewBinarySensor()
	canEnable.Set(entity.On)

	d := NewDirectConsumptionDevice("charger", 5, func() bool { return true }, setting, power, voltage, enable, canEnable, DirectConsumptionOptions{
		StartingMinCurrentA: 6,
		MaxCurrentA:         16,
		CurrentStepA:        1,
		ChangeTransition:    time.Millisecond,
		Debounce:            time.Millisecond,
		StoppingThresholdA:  2,
		StoppingTimeout:     10 * time.Millisecond,
	})
	return d, setting, power, voltage, enable, canEnable
}

func TestDirectConsumptionTrickle(t *testing.T) {
	d, setting, power, _, enable, _ := newTestDirectConsumptionDevice()
	_ = enable.TurnOn(context.Background())
	_ = setting.SetValue(context.Background(), 10)
	power.Set(1440)

	if incs := d.IncreaseIncrements(); len(incs) != 0 {
		t.Fatalf("expected no increase increments in trickle regime, got %+v", incs)
	}

	decs := d.DecreaseIncrements()
	wantDeltas := []float64{-240, -480, -720, -960, -1200, -1440}
	if len(decs) != len(wantDeltas) {
		t.Fatalf("expected %d decrease increments, got %d: %+v", len(wantDeltas), len(decs), decs)
	}
	for i, want := range wantDeltas {
		if decs[i].DeltaW != want {
			t.Fatalf("decrease[%d]: want delta %v, got %v", i, want, decs[i].DeltaW)
		}
	}
}

func TestDirectConsumptionDisabledWithPermission(t *testing.T) {
	d, _, _, _, _, _ := newTestDirectConsumptionDevice()
	incs := d.IncreaseIncrements()
	if len(incs) != 11 { // 6..16 inclusive, step 1
		t.Fatalf("expected 11 enable increments, got %d: %+v", len(incs), incs)
	}
	if !incs[0].DirectConsumption.Enable || incs[0].DirectConsumption.TargetCurrentA != 6 {
		t.Fatalf("unexpected first increment: %+v", incs[0])
	}
}

func TestDirectConsumptionAutoStop(t *testing.T) {
	d, setting, power, _, enable, _ := newTestDirectConsumptionDevice()
	ctx := context.Background()
	incs := d.IncreaseIncrements()
	if err := d.IncreaseConsumptionBy(ctx, incs[0]); err != nil {
		t.Fatalf("IncreaseConsumptionBy: %v", err)
	}
	// Settle below the stopping threshold.
	power.Set(100)
	_ = setting.SetValue(ctx, 1)
	d.evaluateStopMonitor(ctx)
	time.Sleep(20 * time.Millisecond)
	if v, present := enable.State(); !present || v != entity.Off {
		t.Fatalf("expected auto-stop to disable the load, got %s present=%v", v, present)
	}
}
