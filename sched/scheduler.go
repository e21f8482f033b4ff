package sched

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/environment"
	"github.com/evochora/evochora-sub010/isa"
	"github.com/evochora/evochora-sub010/organism"
)

// TickObserver is notified once per completed tick, after births and deaths
// have been folded into the live list. Capture (the periodic
// snapshot/delta/chunk pipeline) implements this to record state without
// the scheduler needing to know anything about chunk batching.
type TickObserver interface {
	OnTick(tick int64, env *environment.Environment, organisms []*organism.Organism)
}

// Scheduler orders the four phases of one tick: partition
// assignment, parallel step, serial conflict resolution, and post-step
// energy/death/birth processing.
type Scheduler struct {
	pool      *Pool
	env       *environment.Environment
	thermo    isa.ThermoPolicy
	majorAxis int
	observer  TickObserver
	nextID    uint16
	tick      int64
}

// Option customizes a Scheduler at construction.
type Option func(*Scheduler)

// WithMajorAxis selects which axis row-band partitioning splits on.
// Defaults to axis 0.
func WithMajorAxis(axis int) Option {
	return func(s *Scheduler) { s.majorAxis = axis }
}

// WithObserver registers a TickObserver invoked at the end of every tick.
func WithObserver(o TickObserver) Option {
	return func(s *Scheduler) { s.observer = o }
}

// NewScheduler builds a Scheduler. nextID seeds the id counter used to
// assign freshly-spawned organisms; callers restoring a checkpoint should
// pass one past the highest id already in use.
func NewScheduler(pool *Pool, env *environment.Environment, thermo isa.ThermoPolicy, nextID uint16, opts ...Option) (*Scheduler, error) {
	if pool == nil || env == nil {
		return nil, errors.New("sched: pool and env are required")
	}
	s := &Scheduler{pool: pool, env: env, thermo: thermo, majorAxis: 0, nextID: nextID}
	for _, opt := range opts {
		opt(s)
	}
	if s.majorAxis < 0 || s.majorAxis >= env.Dim() {
		return nil, errors.Errorf("sched: major axis %d out of range for %d-dimensional environment", s.majorAxis, env.Dim())
	}
	return s, nil
}

// Tick runs one full simulation step over organisms and returns the updated
// live list (deaths stay in the list with IsDead set, per the
// never-revived invariant; births are appended with fresh ids).
func (s *Scheduler) Tick(organisms []*organism.Organism) ([]*organism.Organism, error) {
	axisLen := s.env.Shape()[s.majorAxis]
	bs := bands(axisLen, s.pool.Size())

	assigned := make([][]*organism.Organism, len(bs))
	for _, o := range organisms {
		if o.IsDead {
			continue
		}
		idx := bandIndexOf(majorAxisValue(o.IP, s.majorAxis), bs)
		assigned[idx] = append(assigned[idx], o)
	}
	// Within a band, organisms step in organism_id order; the actual write
	// outcome is decided later by applyQueuedWrites, which orders every
	// write across every band by (organism_id, operand_index), so this
	// ordering only affects each organism's own view of the environment
	// during its own step, not which write wins a shared cell.
	for _, orgs := range assigned {
		sort.Slice(orgs, func(i, j int) bool { return orgs[i].ID < orgs[j].ID })
	}

	// Each worker writes only to its own partition's slot in these
	// pre-sized slices, never to a shared map or a slice index another
	// worker touches, so there is no concurrent-write race even though the
	// slices themselves are shared across goroutines.
	sinksByPartition := make([][]*isa.QueueSink, len(bs))
	results := make([][]isa.StepResult, len(bs))

	err := s.pool.Dispatch(len(bs), len(bs), func(threadIndex, from, to int) error {
		for p := from; p < to; p++ {
			orgs := assigned[p]
			res := make([]isa.StepResult, len(orgs))
			sinks := make([]*isa.QueueSink, len(orgs))
			for i, o := range orgs {
				sink := &isa.QueueSink{OrganismID: o.ID}
				res[i] = isa.Step(o, s.env, sink, s.thermo)
				sinks[i] = sink
			}
			results[p] = res
			sinksByPartition[p] = sinks
		}
		return nil
	})
	if err != nil {
		return organisms, err
	}

	s.applyQueuedWrites(sinksByPartition)

	births := s.collectBirths(results)
	s.applyDeaths(organisms)
	organisms = s.applyBirths(organisms, births)

	s.tick++
	if s.observer != nil {
		s.observer.OnTick(s.tick, s.env, organisms)
	}
	return organisms, nil
}

// applyQueuedWrites gathers every write queued during the parallel phase,
// from every band, and applies them in one deterministic serial pass ordered
// by (organism_id, operand_index). Because no write is ever applied during
// the parallel phase itself, the outcome is independent of which worker ran
// first, how many bands there were, or where band boundaries fell.
func (s *Scheduler) applyQueuedWrites(sinksByPartition [][]*isa.QueueSink) {
	var all []isa.QueuedWrite
	for _, sinks := range sinksByPartition {
		for _, sink := range sinks {
			all = append(all, sink.Queued...)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].OrganismID != all[j].OrganismID {
			return all[i].OrganismID < all[j].OrganismID
		}
		return all[i].OperandIndex < all[j].OperandIndex
	})
	for _, w := range all {
		_ = s.env.Set(w.Coord, w.Molecule, w.Owner)
	}
}

func (s *Scheduler) collectBirths(results [][]isa.StepResult) []isa.BirthRequest {
	var births []isa.BirthRequest
	for _, partition := range results {
		for _, r := range partition {
			births = append(births, r.Births...)
		}
	}
	return births
}

// applyDeaths kills every organism whose energy fell below zero this tick.
// Explicit KILL already set IsDead during the step itself.
func (s *Scheduler) applyDeaths(organisms []*organism.Organism) {
	for _, o := range organisms {
		if !o.IsDead && o.ER < 0 {
			o.Kill()
		}
	}
}

func (s *Scheduler) applyBirths(organisms []*organism.Organism, births []isa.BirthRequest) []*organism.Organism {
	for _, b := range births {
		wrapped, err := s.env.Wrap(b.BirthCell)
		if err != nil {
			continue
		}
		child, err := organism.Create(s.nextID, b.ParentID, s.tick, "", wrapped, b.DV, b.Energy, b.Energy)
		if err != nil {
			continue
		}
		s.nextID++
		organisms = append(organisms, child)
	}
	return organisms
}
