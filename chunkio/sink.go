package chunkio

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/capture"
	"github.com/evochora/evochora-sub010/environment"
	"github.com/evochora/evochora-sub010/organism"
	"github.com/evochora/evochora-sub010/wire"
)

// PathFunc computes the on-disk batch file path for a run and tick range;
// storage owns the actual directory layout, this package only needs
// a path to stream bytes to.
type PathFunc func(runID string, firstTick, lastTick int64, codec Codec) string

// Sink adapts the write-side of this package to capture.BatchSink, so a
// Capturer can hand its chunk batches straight to the on-disk codec.
type Sink struct {
	RunID   string
	Codec   Codec
	PathFor PathFunc
}

// HandleBatch implements capture.BatchSink.
func (s *Sink) HandleBatch(chunks []*capture.TickDataChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	firstTick := chunks[0].FirstTick
	lastTick := chunks[len(chunks)-1].LastTick
	path := s.PathFor(s.RunID, firstTick, lastTick, s.Codec)

	ch := make(chan *wire.TickDataChunk, len(chunks))
	for _, c := range chunks {
		ch <- ToWireChunk(s.RunID, c)
	}
	close(ch)

	_, err := WriteBatchStreaming(path, s.Codec, ch, uuid.NewString())
	if err != nil {
		return errors.Wrapf(err, "chunkio: write batch for run %s ticks [%d,%d]", s.RunID, firstTick, lastTick)
	}
	return nil
}

// ToWireChunk converts a capture-side chunk into its wire encoding, exported
// so callers that write through storage.Resource directly (rather than via
// Sink's own file path) can reuse the same conversion.
func ToWireChunk(runID string, c *capture.TickDataChunk) *wire.TickDataChunk {
	out := &wire.TickDataChunk{
		SimulationRunID: runID,
		FirstTick:       c.FirstTick,
		LastTick:        c.LastTick,
		TickCount:       int32(c.TickCount),
	}
	if c.Snapshot != nil {
		snap := toWireTickData(runID, c.Snapshot)
		out.Snapshot = &snap
	}
	for _, d := range c.Deltas {
		out.Deltas = append(out.Deltas, toWireTickDelta(runID, d))
	}
	return out
}

func toWireTickData(runID string, d *capture.TickData) wire.TickData {
	return wire.TickData{
		TickNumber:      d.Tick,
		SimulationRunID: runID,
		Organisms:       toWireOrganisms(d.Organisms),
		CellColumns:     toWireColumns(d.Cells),
	}
}

func toWireTickDelta(runID string, d *capture.TickDelta) wire.TickDelta {
	return wire.TickDelta{
		TickNumber:      d.Tick,
		SimulationRunID: runID,
		Type:            wire.DeltaIncremental,
		Organisms:       toWireOrganisms(d.Organisms),
		ChangedCells:    toWireColumns(d.Cells),
	}
}

func toWireColumns(cells []capture.CellRecord) wire.CellDataColumns {
	if len(cells) == 0 {
		return wire.CellDataColumns{}
	}
	cols := wire.CellDataColumns{
		FlatIndices:  make([]int32, len(cells)),
		MoleculeData: make([]int32, len(cells)),
		OwnerIDs:     make([]int32, len(cells)),
	}
	for i, c := range cells {
		cols.FlatIndices[i] = int32(c.FlatIndex)
		cols.MoleculeData[i] = int32(uint32(c.Molecule))
		cols.OwnerIDs[i] = int32(c.Molecule.Owner())
	}
	return cols
}

func toWireOrganisms(snaps []capture.OrganismSnapshot) []wire.OrganismState {
	if len(snaps) == 0 {
		return nil
	}
	out := make([]wire.OrganismState, len(snaps))
	for i, s := range snaps {
		out[i] = wire.OrganismState{
			ID:                uint32(s.ID),
			ParentID:          uint32(s.ParentID),
			BirthTick:         s.BirthTick,
			ProgramID:         s.ProgramID,
			InitialPosition:   []int32(s.InitialPosition),
			IP:                []int32(s.IP),
			DV:                []int32(s.DV),
			ER:                s.ER,
			SR:                s.SR,
			MR:                s.MR,
			MaxEnergy:         s.MaxEnergy,
			DR:                toWireStackValues(s.DR[:]),
			PR:                s.PR[:],
			FPR:               s.FPR[:],
			LR:                toWireCoords(s.LR[:]),
			DataStack:         toWireStackValues(s.DataStack),
			LocationStack:     toWireCoordSlice(s.LocationStack),
			CallStack:         toWireFrames(s.CallStack),
			DPs:               toWireCoordSlice(s.DPs),
			ActiveDPIndex:     int32(s.ActiveDPIndex),
			InstructionFailed: s.InstructionFailed,
			FailureReason:     string(s.FailureReason),
			IsDead:            s.IsDead,
		}
	}
	return out
}

func toWireStackValues(vs []organism.StackValue) []wire.StackValue {
	out := make([]wire.StackValue, len(vs))
	for i, v := range vs {
		out[i] = wire.StackValue{IsVector: v.IsVector, Int: v.Int, Vector: []int32(v.Vector)}
	}
	return out
}

func toWireCoords(cs []environment.Coord) [][]int32 {
	out := make([][]int32, len(cs))
	for i, c := range cs {
		out[i] = []int32(c)
	}
	return out
}

func toWireCoordSlice(cs []environment.Coord) [][]int32 {
	if len(cs) == 0 {
		return nil
	}
	return toWireCoords(cs)
}

func toWireFrames(fs []organism.ProcFrame) []wire.ProcFrame {
	if len(fs) == 0 {
		return nil
	}
	out := make([]wire.ProcFrame, len(fs))
	for i, f := range fs {
		remap := make([]wire.RemapEntry, 0, len(f.RegisterRemap))
		for k, v := range f.RegisterRemap {
			remap = append(remap, wire.RemapEntry{Key: int32(k), Value: int32(v)})
		}
		out[i] = wire.ProcFrame{
			Name:          f.Name,
			ReturnIP:      []int32(f.ReturnIP),
			SavedDV:       []int32(f.SavedDV),
			SavedPRs:      f.SavedPRs[:],
			SavedFPRs:     f.SavedFPRs[:],
			RegisterRemap: remap,
		}
	}
	return out
}
