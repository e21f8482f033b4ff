// Package capture implements the periodic snapshot/delta recording:
// a Capturer observes completed ticks, decides whether
// each is a full snapshot or an incremental delta against the previous
// tick, and wraps chunk_interval ticks' worth of output into a
// TickDataChunk for handoff to the batch codec (chunkio).
//
// Capture, persist, and notify run sequentially, one after another once the
// parallel step phase finishes for the tick, rather than overlapping with
// it.
package capture

import (
	"reflect"

	"github.com/golang/glog"

	"github.com/evochora/evochora-sub010/environment"
	"github.com/evochora/evochora-sub010/molecule"
	"github.com/evochora/evochora-sub010/organism"
)

// CellRecord is one non-empty (or newly-cleared) cell: its flat index in
// the environment's column-major layout, and its current molecule word.
// A zero Molecule in a delta means the cell was cleared this tick.
type CellRecord struct {
	FlatIndex int
	Molecule  molecule.Molecule
}

// OrganismSnapshot is a deep, self-contained copy of one organism's state
// at a point in time, suitable for serialization without aliasing the
// live Organism's slices.
type OrganismSnapshot struct {
	ID        uint16
	ParentID  uint16
	BirthTick int64
	ProgramID string

	InitialPosition environment.Coord
	IP              environment.Coord
	DV              environment.Coord

	ER, SR, MR int32
	MaxEnergy  int32

	DR  [organism.NumDR]organism.StackValue
	PR  [organism.NumPR]int32
	FPR [organism.NumFPR]int32
	LR  [organism.NumLR]environment.Coord

	DataStack     []organism.StackValue
	LocationStack []environment.Coord
	CallStack     []organism.ProcFrame

	DPs           []environment.Coord
	ActiveDPIndex int

	InstructionFailed bool
	FailureReason     organism.FailureReason
	IsDead            bool
}

func snapshotOf(o *organism.Organism) OrganismSnapshot {
	s := OrganismSnapshot{
		ID:                o.ID,
		ParentID:          o.ParentID,
		BirthTick:         o.BirthTick,
		ProgramID:         o.ProgramID,
		InitialPosition:   o.InitialPosition.Clone(),
		IP:                o.IP.Clone(),
		DV:                o.DV.Clone(),
		ER:                o.ER,
		SR:                o.SR,
		MR:                o.MR,
		MaxEnergy:         o.MaxEnergy,
		DR:                o.DR,
		PR:                o.PR,
		FPR:               o.FPR,
		ActiveDPIndex:     o.ActiveDPIndex,
		InstructionFailed: o.InstructionFailed,
		FailureReason:     o.FailureReason,
		IsDead:            o.IsDead,
	}
	for i, lr := range o.LR {
		s.LR[i] = lr.Clone()
	}
	if o.DataStack != nil {
		s.DataStack = append([]organism.StackValue(nil), o.DataStack...)
	}
	if o.LocationStack != nil {
		s.LocationStack = make([]environment.Coord, len(o.LocationStack))
		for i, c := range o.LocationStack {
			s.LocationStack[i] = c.Clone()
		}
	}
	if o.CallStack != nil {
		s.CallStack = append([]organism.ProcFrame(nil), o.CallStack...)
	}
	if o.DPs != nil {
		s.DPs = make([]environment.Coord, len(o.DPs))
		for i, c := range o.DPs {
			s.DPs[i] = c.Clone()
		}
	}
	return s
}

// TickData is a full snapshot: every non-empty cell and every live
// organism's state at one tick.
type TickData struct {
	Tick      int64
	Cells     []CellRecord
	Organisms []OrganismSnapshot
}

// TickDelta enumerates only what changed since the previous tick: cells
// (including zero molecules for clears) and organisms whose snapshot
// differs from last tick's (including deaths and new births).
type TickDelta struct {
	Tick      int64
	Cells     []CellRecord
	Organisms []OrganismSnapshot
}

// TickDataChunk wraps chunk_interval ticks of capture output: one leading
// snapshot plus the deltas that followed it.
type TickDataChunk struct {
	FirstTick int64
	LastTick  int64
	TickCount int64
	Snapshot  *TickData
	Deltas    []*TickDelta
}

// BatchSink receives a completed run of batch_size chunks for persistence
// (chunkio.Sink is one implementation).
type BatchSink interface {
	HandleBatch(chunks []*TickDataChunk) error
}

// Capturer observes ticks via sched.TickObserver and produces chunks.
type Capturer struct {
	snapshotInterval int64
	chunkInterval    int64
	batchSize        int
	sink             BatchSink

	prevCells     map[int]molecule.Molecule
	prevOrganisms map[uint16]OrganismSnapshot

	current      *TickDataChunk
	ticksInChunk int64
	pendingBatch []*TickDataChunk
}

// New builds a Capturer. snapshotInterval, chunkInterval, and batchSize
// must all be at least 1 (smaller values are raised to 1). A TickDataChunk
// carries exactly one TickData snapshot, so snapshots follow chunk
// boundaries alone: the first tick OnTick sees, and every chunkInterval-th
// tick after it, opens a chunk and is captured as its snapshot; every other
// tick is captured as a delta. snapshotInterval is stored but not
// consulted, so a tick with tick%snapshotInterval==0 that does not open a
// chunk is captured as a delta.
func New(snapshotInterval, chunkInterval int64, batchSize int, sink BatchSink) *Capturer {
	if snapshotInterval < 1 {
		snapshotInterval = 1
	}
	if chunkInterval < 1 {
		chunkInterval = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &Capturer{
		snapshotInterval: snapshotInterval,
		chunkInterval:    chunkInterval,
		batchSize:        batchSize,
		sink:             sink,
		prevCells:        make(map[int]molecule.Molecule),
		prevOrganisms:    make(map[uint16]OrganismSnapshot),
	}
}

// OnTick implements sched.TickObserver: it is called once per completed
// tick with the post-step live organism list. Chunk boundaries are purely
// periodic by tick count (chunk_interval); a chunk's first tick is always
// its TickData snapshot, every later tick in the chunk is a TickDelta.
func (c *Capturer) OnTick(tick int64, env *environment.Environment, organisms []*organism.Organism) {
	currentCells := scanNonEmpty(env)
	currentOrganisms := make(map[uint16]OrganismSnapshot, len(organisms))
	for _, o := range organisms {
		currentOrganisms[o.ID] = snapshotOf(o)
	}

	if c.current == nil {
		c.beginSnapshot(tick, currentCells, currentOrganisms)
	} else {
		c.appendDelta(tick, currentCells, currentOrganisms)
	}

	c.prevCells = currentCells
	c.prevOrganisms = currentOrganisms
	c.ticksInChunk++

	if c.ticksInChunk >= c.chunkInterval {
		c.finalizeChunk()
	}
}

func (c *Capturer) beginSnapshot(tick int64, cells map[int]molecule.Molecule, organisms map[uint16]OrganismSnapshot) {
	data := &TickData{Tick: tick}
	for idx, m := range cells {
		data.Cells = append(data.Cells, CellRecord{FlatIndex: idx, Molecule: m})
	}
	for _, snap := range organisms {
		if !snap.IsDead {
			data.Organisms = append(data.Organisms, snap)
		}
	}
	c.current = &TickDataChunk{FirstTick: tick, Snapshot: data}
}

func (c *Capturer) appendDelta(tick int64, cells map[int]molecule.Molecule, organisms map[uint16]OrganismSnapshot) {
	delta := &TickDelta{Tick: tick}
	for idx, m := range cells {
		if prev, ok := c.prevCells[idx]; !ok || prev != m {
			delta.Cells = append(delta.Cells, CellRecord{FlatIndex: idx, Molecule: m})
		}
	}
	for idx := range c.prevCells {
		if _, stillPresent := cells[idx]; !stillPresent {
			delta.Cells = append(delta.Cells, CellRecord{FlatIndex: idx, Molecule: molecule.Zero})
		}
	}
	for id, snap := range organisms {
		if prev, ok := c.prevOrganisms[id]; !ok || !reflect.DeepEqual(prev, snap) {
			delta.Organisms = append(delta.Organisms, snap)
		}
	}
	c.current.Deltas = append(c.current.Deltas, delta)
}

func (c *Capturer) finalizeChunk() {
	if c.current == nil {
		c.ticksInChunk = 0
		return
	}
	c.current.LastTick = c.current.FirstTick + c.ticksInChunk - 1
	c.current.TickCount = c.ticksInChunk
	c.pendingBatch = append(c.pendingBatch, c.current)
	c.current = nil
	c.ticksInChunk = 0

	if len(c.pendingBatch) >= c.batchSize {
		c.flushBatch()
	}
}

// Flush forces the current in-progress chunk (if any) and any accumulated
// batch to be handed to the sink, for use at simulation shutdown.
func (c *Capturer) Flush() error {
	if c.current != nil {
		c.finalizeChunk()
	}
	if len(c.pendingBatch) > 0 {
		return c.flushBatchErr()
	}
	return nil
}

// flushBatch is used from OnTick, whose sched.TickObserver signature has no
// error return; a flush failure here is logged rather than lost, and the
// caller can still observe it by calling Flush directly at shutdown.
func (c *Capturer) flushBatch() {
	if err := c.flushBatchErr(); err != nil {
		glog.Errorf("capture: batch flush failed: %v", err)
	}
}

func (c *Capturer) flushBatchErr() error {
	batch := c.pendingBatch
	c.pendingBatch = nil
	if c.sink == nil {
		return nil
	}
	return c.sink.HandleBatch(batch)
}

func scanNonEmpty(env *environment.Environment) map[int]molecule.Molecule {
	out := make(map[int]molecule.Molecule)
	n := env.Len()
	for i := 0; i < n; i++ {
		m := env.GetFlat(i)
		if !m.IsEmpty() {
			out[i] = m
		}
	}
	return out
}
