package fleet

import (
	"context"
	"testing"

	"github.com/worldforge/orchestrator/internal/domain"
)

func newTestMachines() []domain.Machine {
	return []domain.Machine{
		{Hostname: "a", Address: "a.local", Capacity: 3, Status: domain.Available},
		{Hostname: "b", Address: "b.local", Capacity: 2, Status: domain.Available},
	}
}

func TestRegistry_AssignFillsFirstMachineBeforeSpillingOver(t *testing.T) {
	r := New(newTestMachines(), nil)

	var got []string
	for i := 0; i < 5; i++ {
		m, err := r.Assign()
		if err != nil {
			t.Fatalf("Assign #%d: %v", i, err)
		}
		got = append(got, m.Hostname)
	}

	want := []string{"a", "a", "a", "b", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Assign order = %v, want %v", got, want)
		}
	}

	if _, err := r.Assign(); err != domain.ErrNoCapacity {
		t.Fatalf("Assign at full capacity = %v, want ErrNoCapacity", err)
	}
}

func TestRegistry_ReleaseFreesASlotForReassignment(t *testing.T) {
	r := New(newTestMachines(), nil)
	for i := 0; i < 5; i++ {
		if _, err := r.Assign(); err != nil {
			t.Fatalf("Assign #%d: %v", i, err)
		}
	}

	r.Release("a")

	m, err := r.Assign()
	if err != nil {
		t.Fatalf("Assign after release: %v", err)
	}
	if m.Hostname != "a" {
		t.Fatalf("Assign after releasing a = %s, want a", m.Hostname)
	}
}

func TestRegistry_ReleaseClampsAtZero(t *testing.T) {
	r := New(newTestMachines(), nil)
	r.Release("a")
	r.Release("a")

	stats := r.Stats()
	for _, m := range stats.PerMachine {
		if m.Hostname == "a" && m.Running != 0 {
			t.Fatalf("Running = %d, want 0 (clamped)", m.Running)
		}
	}
}

func TestRegistry_OfflineMachineNeverSelected(t *testing.T) {
	machines := newTestMachines()
	machines[0].Status = domain.Offline
	r := New(machines, nil)

	m, err := r.Assign()
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if m.Hostname != "b" {
		t.Fatalf("Assign = %s, want b (a is offline)", m.Hostname)
	}
}

type fakeProber struct {
	offline map[string]bool
}

func (p fakeProber) Probe(address string) bool {
	return !p.offline[address]
}

func TestRegistry_ProbeMarksMachinesOfflineAndExcludesThem(t *testing.T) {
	r := New(newTestMachines(), fakeProber{offline: map[string]bool{"a.local": true}})

	if err := r.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	m, err := r.Assign()
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if m.Hostname != "b" {
		t.Fatalf("Assign after probing a offline = %s, want b", m.Hostname)
	}
}

func TestRegistry_ReleaseAfterAssignOnIdleFleetRestoresOriginalState(t *testing.T) {
	r := New(newTestMachines(), nil)
	before := r.Stats()

	m, err := r.Assign()
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	r.Release(m.Hostname)

	after := r.Stats()
	if before.UsedCapacity != after.UsedCapacity {
		t.Fatalf("UsedCapacity after assign+release = %d, want %d", after.UsedCapacity, before.UsedCapacity)
	}
}

func TestRegistry_SnapshotReflectsCurrentRunningCounts(t *testing.T) {
	r := New(newTestMachines(), nil)
	if _, err := r.Assign(); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	snap := r.Snapshot()
	var total int
	for _, m := range snap {
		total += m.Running
	}
	if total != 1 {
		t.Fatalf("Snapshot total running = %d, want 1", total)
	}
}

type fakePersister struct {
	saved []domain.Machine
}

func (f *fakePersister) SaveMachineSnapshot(_ context.Context, machines []domain.Machine) error {
	f.saved = append([]domain.Machine(nil), machines...)
	return nil
}

func TestRegistry_ProbeWritesThroughToPersister(t *testing.T) {
	p := &fakePersister{}
	r := New(newTestMachines(), fakeProber{offline: map[string]bool{"a.local": true}}, WithPersister(p))

	if err := r.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if len(p.saved) != 2 {
		t.Fatalf("persisted %d machines, want 2", len(p.saved))
	}
	for _, m := range p.saved {
		if m.Hostname == "a" && m.Status != domain.Offline {
			t.Fatalf("persisted snapshot did not reflect probe result for a: %+v", m)
		}
	}
}
