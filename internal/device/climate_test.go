package device

import (
	"testing"

	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/entity/fake"
)

func testClimateOptions() ClimateOptions {
	return ClimateOptions{
		MinSetpointC:           16,
		MaxSetpointC:           30,
		SetpointStepC:          1,
		CompressorStartupMinW:  600,
		PowerOnSetpointOffsetC: 2,
		ConsumptionPerDegreeW:  350,
		MaxCompressorW:         2500,
		FanOnlyMinW:            100,
		HeatCoolMinW:           0,
	}
}

func TestClimateStartupCool(t *testing.T) {
	clim := fake.NewClimate(entity.HVACOff, 26, 24, entity.ClimateAttributes{})
	power := fake.NewSensor()
	controls := NewClimateControls(20, entity.HVACCool, true)
	d := NewClimateDevice("ac", 1, clim, power, testClimateOptions(), controls)

	incs := d.IncreaseIncrements()
	if len(incs) != 1 {
		t.Fatalf("expected a single startup increment, got %+v", incs)
	}
	inc := incs[0]
	if inc.DeltaW != 1300 || inc.Climate.TargetSetpointC != 24 || !inc.Climate.HasModeChange || inc.Climate.ModeChange != entity.HVACCool {
		t.Fatalf("unexpected startup increment: %+v", inc)
	}
}

func TestClimateRunningMoreAggressiveCool(t *testing.T) {
	clim := fake.NewClimate(entity.HVACCool, 26, 24, entity.ClimateAttributes{})
	power := fake.NewSensor()
	power.Set(1200)
	controls := NewClimateControls(20, entity.HVACCool, true)
	d := NewClimateDevice("ac", 1, clim, power, testClimateOptions(), controls)

	incs := d.IncreaseIncrements()
	want := []struct {
		delta float64
		sp    float64
	}{
		{350, 23},
		{700, 22},
		{1050, 21},
		{1300, 20},
	}
	if len(incs) != len(want) {
		t.Fatalf("expected %d increments, got %d: %+v", len(want), len(incs), incs)
	}
	for i, w := range want {
		if incs[i].DeltaW != w.delta || incs[i].Climate.TargetSetpointC != w.sp {
			t.Fatalf("increment[%d]: want {%v,%v}, got %+v", i, w.delta, w.sp, incs[i])
		}
	}
}

func TestClimateFanOnlyDecreaseOffered(t *testing.T) {
	clim := fake.NewClimate(entity.HVACCool, 22, 20, entity.ClimateAttributes{})
	power := fake.NewSensor()
	power.Set(150)
	controls := NewClimateControls(20, entity.HVACCool, true)
	d := NewClimateDevice("ac", 1, clim, power, testClimateOptions(), controls)

	decs := d.DecreaseIncrements()
	found := false
	for _, dec := range decs {
		if dec.Climate.HasModeChange && dec.Climate.ModeChange == entity.HVACFanOnly {
			found = true
			if dec.DeltaW != -(150 - 100) {
				t.Fatalf("unexpected fan-only delta: %v", dec.DeltaW)
			}
		}
	}
	if !found {
		t.Fatal("expected a fan-only decrease increment to be offered")
	}
}
