package indexer

import (
	"github.com/evochora/evochora-sub010/environment"
	"github.com/evochora/evochora-sub010/wire"
)

// CellRow is one flushed cell, decoded to the coordinate space a run's
// shape describes. 1D, 2D, 3D, ... runs all produce CellRow the same way;
// shape is the only thing that varies.
type CellRow struct {
	Tick     int64
	Coord    environment.Coord
	Molecule int32
	OwnerID  int32
}

// DecodeCellColumns expands a tick's columnar cell encoding into one CellRow
// per reported cell, converting each flat index back to a coordinate using
// shape alone — the run's actual Environment is never allocated here.
func DecodeCellColumns(shape []int32, tick int64, cols wire.CellDataColumns) []CellRow {
	rows := make([]CellRow, len(cols.FlatIndices))
	for i, flat := range cols.FlatIndices {
		rows[i] = CellRow{
			Tick:     tick,
			Coord:    environment.CoordFromFlat(shape, int(flat)),
			Molecule: cols.MoleculeData[i],
			OwnerID:  cols.OwnerIDs[i],
		}
	}
	return rows
}

// OrganismRow is the organism-indexer flavor's summary of one organism at
// one tick, the counterpart to CellRow for the environment-indexer flavor.
type OrganismRow struct {
	Tick              int64
	ID                uint32
	ProgramID         string
	IP                []int32
	DV                []int32
	Energy            int32
	InstructionFailed bool
	FailureReason     string
	IsDead            bool
}

// DecodeOrganisms summarizes a tick's organism states. Callers pass an
// empty slice when the chunk was read with wire.Filter.SkipOrganisms set.
func DecodeOrganisms(tick int64, organisms []wire.OrganismState) []OrganismRow {
	rows := make([]OrganismRow, len(organisms))
	for i, o := range organisms {
		rows[i] = OrganismRow{
			Tick:              tick,
			ID:                o.ID,
			ProgramID:         o.ProgramID,
			IP:                o.IP,
			DV:                o.DV,
			Energy:            o.ER,
			InstructionFailed: o.InstructionFailed,
			FailureReason:     o.FailureReason,
			IsDead:            o.IsDead,
		}
	}
	return rows
}
