package device

import (
	"context"
	"testing"
	"time"

	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/entity/fake"
	"github.com/nickw444/da-automation-nk-sub000/internal/fsm"
)

func TestBooleanCycle(t *testing.T) {
	sw := fake.NewBoolean(entity.Off)
	d := NewBooleanDevice("plug", 1, func() bool { return true }, sw, nil, BooleanOptions{
		ExpectedConsumptionW: 50,
		ChangeTransition:     time.Millisecond,
		TurnOnDebounce:       10 * time.Millisecond,
		TurnOffDebounce:      10 * time.Millisecond,
	})

	incs := d.IncreaseIncrements()
	if len(incs) != 1 || incs[0].DeltaW != 50 || incs[0].Boolean.Action != ActionTurnOn {
		t.Fatalf("unexpected increase increments: %+v", incs)
	}

	ctx := context.Background()
	if err := d.IncreaseConsumptionBy(ctx, incs[0]); err != nil {
		t.Fatalf("IncreaseConsumptionBy: %v", err)
	}
	if cs := d.ChangeState(); cs.Kind != PendingIncrease || cs.ExpectedFutureConsumptionW != 50 {
		t.Fatalf("expected Pending(increase, 50), got %+v", cs)
	}
	if sw.OnCalls() != 1 {
		t.Fatalf("expected TurnOn to be called once, got %d", sw.OnCalls())
	}

	time.Sleep(5 * time.Millisecond)
	if d.ChangeState().Kind != InDebounce {
		t.Fatalf("expected InDebounce after transition, got %+v", d.ChangeState())
	}

	time.Sleep(15 * time.Millisecond)
	if d.ChangeState().Kind != None {
		t.Fatalf("expected None after debounce, got %+v", d.ChangeState())
	}
}

func TestBooleanMutatorRejectsUnknownIncrement(t *testing.T) {
	sw := fake.NewBoolean(entity.Off)
	d := NewBooleanDevice("plug", 1, func() bool { return true }, sw, nil, BooleanOptions{
		ExpectedConsumptionW: 50,
		ChangeTransition:     time.Millisecond,
		TurnOnDebounce:       time.Millisecond,
		TurnOffDebounce:      time.Millisecond,
	})
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for an increment not currently offered")
		}
		if _, ok := r.(*ValidationError); !ok {
			t.Fatalf("expected *ValidationError, got %T", r)
		}
	}()
	_ = d.IncreaseConsumptionBy(context.Background(), Increment{Kind: KindBoolean, DeltaW: 999, Boolean: BooleanPayload{Action: ActionTurnOn}})
}

func TestBooleanStop(t *testing.T) {
	sw := fake.NewBoolean(entity.On)
	d := NewBooleanDevice("plug", 1, func() bool { return true }, sw, nil, BooleanOptions{
		ExpectedConsumptionW: 50,
		ChangeTransition:     time.Millisecond,
		TurnOnDebounce:       time.Millisecond,
		TurnOffDebounce:      time.Millisecond,
	})
	d.machine.TransitionToPending(fsm.IncreasePending, 50, time.Millisecond, time.Millisecond)
	d.Stop(context.Background())
	if v, _ := sw.State(); v != entity.Off {
		t.Fatalf("expected switch off after stop, got %s", v)
	}
	if d.ChangeState().Kind != None {
		t.Fatalf("expected None after stop, got %+v", d.ChangeState())
	}
	time.Sleep(10 * time.Millisecond)
	if d.ChangeState().Kind != None {
		t.Fatalf("stop did not clear timers: %+v", d.ChangeState())
	}
}
