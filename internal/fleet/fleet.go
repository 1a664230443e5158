// Package fleet implements the fleet registry and load balancer: a
// fill-first bin packer over a fixed set of executor machines. It keeps
// machines in an ordered slice guarded by a single write lock, ordered
// rather than keyed, since assign's tie-break depends on insertion order.
package fleet

import (
	"context"
	"sync"

	"github.com/worldforge/orchestrator/internal/domain"
)

// Prober abstracts the connectivity check probe() uses to mark machines
// Available or Offline. Implementations live with whatever transport the
// deployment uses to reach executor hosts (SSH, an agent daemon, etc.);
// Registry depends only on this narrow interface.
type Prober interface {
	// Probe reports whether the machine at address is currently reachable.
	Probe(address string) bool
}

// Persister mirrors the fleet's machine snapshot to durable storage after
// every probe, the supplemented cold-start recovery feature recorded in
// SPEC_FULL.md (original_source/miyabi-orchestrator's load_balancer.rs
// persists this same periodic snapshot). Implementations live in
// internal/store; Registry depends only on this narrow interface to avoid
// an import cycle, the same shape internal/queue.Persister uses.
type Persister interface {
	SaveMachineSnapshot(ctx context.Context, machines []domain.Machine) error
}

// Stats summarizes the fleet's aggregate capacity.
type Stats struct {
	TotalCapacity int
	UsedCapacity  int
	PerMachine    []MachineUtilization
}

// MachineUtilization reports one machine's running/capacity pair.
type MachineUtilization struct {
	Hostname    string
	Running     int
	Capacity    int
	Utilization float64
}

// Registry is the fleet registry and load balancer. Machines are held in an
// ordered slice (not a map) because assign's tie-break falls back to
// insertion order when two machines share the same running count and
// capacity.
type Registry struct {
	mu        sync.Mutex
	machines  []domain.Machine
	prober    Prober
	persister Persister
}

// Option configures a Registry at construction, mirroring the functional
// options pattern internal/queue uses.
type Option func(*Registry)

// WithPersister attaches a write-through machine-snapshot backend, written
// on every Probe call.
func WithPersister(p Persister) Option {
	return func(r *Registry) { r.persister = p }
}

// New constructs a Registry over the given machines, in insertion order.
func New(machines []domain.Machine, prober Prober, opts ...Option) *Registry {
	r := &Registry{
		machines: append([]domain.Machine(nil), machines...),
		prober:   prober,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Assign selects the machine with the highest running count among those
// with running < capacity and status Available (fill-first bin packing),
// tie-breaking on higher capacity then insertion order, and increments its
// running count. It returns ErrNoCapacity if every machine is full or
// offline.
func (r *Registry) Assign() (domain.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := -1
	for i, m := range r.machines {
		if !m.HasSpareCapacity() {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		if better(m, r.machines[best]) {
			best = i
		}
	}
	if best == -1 {
		return domain.Machine{}, domain.ErrNoCapacity
	}

	r.machines[best].Running++
	return r.machines[best], nil
}

// better reports whether candidate should be preferred over current under
// assign's fill-first tie-break: higher running wins, then higher capacity,
// then whichever comes first in the slice (insertion order), which is
// already satisfied by scanning left to right and only replacing on a
// strict improvement.
func better(candidate, current domain.Machine) bool {
	if candidate.Running != current.Running {
		return candidate.Running > current.Running
	}
	if candidate.Capacity != current.Capacity {
		return candidate.Capacity > current.Capacity
	}
	return false
}

// Release decrements the named machine's running count, clamped at 0. It is
// a no-op if the hostname is not tracked.
func (r *Registry) Release(hostname string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.machines {
		if m.Hostname == hostname {
			if r.machines[i].Running > 0 {
				r.machines[i].Running--
			}
			return
		}
	}
}

// Probe re-checks every machine's connectivity via the configured Prober and
// updates its Status accordingly. Offline machines are excluded from future
// Assign calls until a later Probe marks them Available again. If a
// Persister is attached, the resulting machine snapshot is written through
// in the same call, so a cold start can recover fleet state without
// re-probing every host before the first Assign.
func (r *Registry) Probe(ctx context.Context) error {
	r.mu.Lock()
	if r.prober != nil {
		for i, m := range r.machines {
			if r.prober.Probe(m.Address) {
				r.machines[i].Status = domain.Available
			} else {
				r.machines[i].Status = domain.Offline
			}
		}
	}
	snapshot := append([]domain.Machine(nil), r.machines...)
	persister := r.persister
	r.mu.Unlock()

	if persister == nil {
		return nil
	}
	return persister.SaveMachineSnapshot(ctx, snapshot)
}

// Stats reports aggregate and per-machine capacity utilization.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{PerMachine: make([]MachineUtilization, 0, len(r.machines))}
	for _, m := range r.machines {
		stats.TotalCapacity += m.Capacity
		stats.UsedCapacity += m.Running
		stats.PerMachine = append(stats.PerMachine, MachineUtilization{
			Hostname:    m.Hostname,
			Running:     m.Running,
			Capacity:    m.Capacity,
			Utilization: m.Utilization(),
		})
	}
	return stats
}

// Snapshot returns a copy of the fleet's current machine states, for the
// persistence layer's machine snapshot table.
func (r *Registry) Snapshot() []domain.Machine {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]domain.Machine(nil), r.machines...)
}
