package loadmanager

import (
	"context"
	"testing"
	"time"

	"github.com/nickw444/da-automation-nk-sub000/internal/device"
	"github.com/nickw444/da-automation-nk-sub000/internal/entity/fake"
)

type mockDevice struct {
	name        string
	priority    int
	mgmt        bool
	consumption float64
	state       device.ChangeState
	increase    []device.Increment
	decrease    []device.Increment

	increaseCalls []device.Increment
	decreaseCalls []device.Increment
	stopped       bool
}

func (m *mockDevice) Name() string                   { return m.name }
func (m *mockDevice) Priority() int                   { return m.priority }
func (m *mockDevice) ManagementEnabled() bool         { return m.mgmt }
func (m *mockDevice) CurrentConsumptionW() float64    { return m.consumption }
func (m *mockDevice) ChangeState() device.ChangeState { return m.state }
func (m *mockDevice) IncreaseIncrements() []device.Increment { return m.increase }
func (m *mockDevice) DecreaseIncrements() []device.Increment { return m.decrease }

func (m *mockDevice) IncreaseConsumptionBy(ctx context.Context, inc device.Increment) error {
	m.increaseCalls = append(m.increaseCalls, inc)
	return nil
}

func (m *mockDevice) DecreaseConsumptionBy(ctx context.Context, inc device.Increment) error {
	m.decreaseCalls = append(m.decreaseCalls, inc)
	return nil
}

func (m *mockDevice) Stop(ctx context.Context) { m.stopped = true }

func TestShedArbitrationVisitsHighestPriorityFirst(t *testing.T) {
	prio10 := &mockDevice{name: "d10", priority: 10, mgmt: true, decrease: []device.Increment{{DeltaW: -200}, {DeltaW: -500}, {DeltaW: -750}, {DeltaW: -900}}}
	prio5 := &mockDevice{name: "d5", priority: 5, mgmt: true, decrease: []device.Increment{{DeltaW: -500}}}
	prio1 := &mockDevice{name: "d1", priority: 1, mgmt: true, decrease: []device.Increment{{DeltaW: -200}}}

	grid := fake.NewSensor()
	mgr := New([]device.Device{prio1, prio5, prio10}, grid, 0, 0, 0, time.Second, nil, nil)
	mgr.shed(context.Background(), 750)

	if len(prio10.decreaseCalls) != 1 || prio10.decreaseCalls[0].DeltaW != -750 {
		t.Fatalf("expected d10 to shed 750, got %+v", prio10.decreaseCalls)
	}
	if len(prio5.decreaseCalls) != 0 || len(prio1.decreaseCalls) != 0 {
		t.Fatalf("expected lower-priority devices untouched once budget is exhausted: d5=%+v d1=%+v", prio5.decreaseCalls, prio1.decreaseCalls)
	}
}

func TestAddWithPendingIncreasePreDeductsBudget(t *testing.T) {
	d1 := &mockDevice{
		name: "d1", priority: 1, mgmt: true, consumption: 200,
		state: device.ChangeState{Kind: device.PendingIncrease, ExpectedFutureConsumptionW: 800},
	}
	d2 := &mockDevice{
		name: "d2", priority: 2, mgmt: true,
		state:    device.ChangeState{Kind: device.None},
		increase: []device.Increment{{DeltaW: 150}},
	}

	grid := fake.NewSensor()
	mgr := New([]device.Device{d1, d2}, grid, 0, 0, 0, time.Second, nil, nil)
	mgr.add(context.Background(), 700)

	if len(d1.increaseCalls) != 0 {
		t.Fatalf("device with a pending increase must not be mutated again: %+v", d1.increaseCalls)
	}
	if len(d2.increaseCalls) != 0 {
		t.Fatalf("expected no action once the pending pre-pass leaves only 100W of budget for a 150W increment, got %+v", d2.increaseCalls)
	}
}

func TestShedSkipsManagementDisabledAndPendingDevices(t *testing.T) {
	disabled := &mockDevice{name: "disabled", priority: 10, mgmt: false, decrease: []device.Increment{{DeltaW: -1000}}}
	pending := &mockDevice{name: "pending", priority: 9, mgmt: true, state: device.ChangeState{Kind: device.PendingDecrease}, decrease: []device.Increment{{DeltaW: -1000}}}
	available := &mockDevice{name: "available", priority: 1, mgmt: true, decrease: []device.Increment{{DeltaW: -300}}}

	grid := fake.NewSensor()
	mgr := New([]device.Device{disabled, pending, available}, grid, 0, 0, 0, time.Second, nil, nil)
	mgr.shed(context.Background(), 1000)

	if len(disabled.decreaseCalls) != 0 || len(pending.decreaseCalls) != 0 {
		t.Fatalf("management-disabled and in-flight devices must be skipped")
	}
	if len(available.decreaseCalls) != 1 {
		t.Fatalf("expected the remaining device to be shed, got %+v", available.decreaseCalls)
	}
}

func TestStopCancelsLoopAndStopsDevices(t *testing.T) {
	d := &mockDevice{name: "d", priority: 1, mgmt: true}
	grid := fake.NewSensor()
	mgr := New([]device.Device{d}, grid, 100, 200, 50, time.Millisecond, nil, nil)

	done := make(chan struct{})
	go func() {
		mgr.Run(context.Background())
		close(done)
	}()
	mgr.Stop(context.Background())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if !d.stopped {
		t.Fatal("expected device.Stop to be called")
	}
}
