package wire

import "google.golang.org/protobuf/encoding/protowire"

// CellDataColumns field numbers.
const (
	CellFlatIndicesField protowire.Number = 1
	CellMoleculeDataField protowire.Number = 2
	CellOwnerIDsField     protowire.Number = 3
)

// CellDataColumns is the columnar cell encoding shared by TickData's
// cell_columns and TickDelta's changed_cells: parallel arrays indexed the
// same way, one entry per reported cell.
type CellDataColumns struct {
	FlatIndices  []int32
	MoleculeData []int32
	OwnerIDs     []int32
}

// Marshal encodes the columns as a protobuf message.
func (c CellDataColumns) Marshal() []byte {
	var b []byte
	b = appendPackedVarints(b, CellFlatIndicesField, c.FlatIndices)
	b = appendPackedVarints(b, CellMoleculeDataField, c.MoleculeData)
	b = appendPackedVarints(b, CellOwnerIDsField, c.OwnerIDs)
	return b
}

// UnmarshalCellDataColumns decodes columns produced by Marshal.
func UnmarshalCellDataColumns(b []byte) (CellDataColumns, error) {
	var c CellDataColumns
	for len(b) > 0 {
		num, typ, n, err := consumeTag(b)
		if err != nil {
			return c, err
		}
		b = b[n:]
		switch num {
		case CellFlatIndicesField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return c, errTruncated
			}
			b = b[n:]
			if c.FlatIndices, err = consumePackedVarints(raw); err != nil {
				return c, err
			}
		case CellMoleculeDataField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return c, errTruncated
			}
			b = b[n:]
			if c.MoleculeData, err = consumePackedVarints(raw); err != nil {
				return c, err
			}
		case CellOwnerIDsField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return c, errTruncated
			}
			b = b[n:]
			if c.OwnerIDs, err = consumePackedVarints(raw); err != nil {
				return c, err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return c, errTruncated
			}
			b = b[n:]
		}
	}
	return c, nil
}

// TickData field numbers.
const (
	TickDataTickNumberField           protowire.Number = 1
	TickDataSimulationRunIDField      protowire.Number = 2
	TickDataCaptureTimeMsField        protowire.Number = 3
	TickDataOrganismsField            protowire.Number = 4
	TickDataCellColumnsField          protowire.Number = 5
	TickDataTotalOrganismsCreated     protowire.Number = 6
)

// TickData is a full snapshot of every non-empty cell and every live
// organism at one tick.
type TickData struct {
	TickNumber            int64
	SimulationRunID       string
	CaptureTimeMs         int64
	Organisms             []OrganismState
	CellColumns           CellDataColumns
	TotalOrganismsCreated int64
}

// Marshal encodes the snapshot as a protobuf message.
func (t TickData) Marshal() []byte {
	var b []byte
	b = appendInt64Field(b, TickDataTickNumberField, t.TickNumber)
	b = appendStringField(b, TickDataSimulationRunIDField, t.SimulationRunID)
	b = appendInt64Field(b, TickDataCaptureTimeMsField, t.CaptureTimeMs)
	for _, o := range t.Organisms {
		b = appendRepeatedMessageField(b, TickDataOrganismsField, o.Marshal())
	}
	b = appendMessageField(b, TickDataCellColumnsField, t.CellColumns.Marshal())
	b = appendInt64Field(b, TickDataTotalOrganismsCreated, t.TotalOrganismsCreated)
	return b
}

// UnmarshalTickData decodes a TickData produced by Marshal, honoring filter
// to skip organisms and/or cell columns without materializing them.
func UnmarshalTickData(b []byte, filter Filter) (TickData, error) {
	var t TickData
	for len(b) > 0 {
		num, typ, n, err := consumeTag(b)
		if err != nil {
			return t, err
		}
		b = b[n:]
		switch num {
		case TickDataTickNumberField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, errTruncated
			}
			b = b[n:]
			t.TickNumber = int64(val)
		case TickDataSimulationRunIDField:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return t, errTruncated
			}
			b = b[n:]
			t.SimulationRunID = s
		case TickDataCaptureTimeMsField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, errTruncated
			}
			b = b[n:]
			t.CaptureTimeMs = int64(val)
		case TickDataOrganismsField:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return t, errTruncated
			}
			if !filter.SkipOrganisms {
				raw, bn := protowire.ConsumeBytes(b)
				if bn < 0 {
					return t, errTruncated
				}
				o, err := UnmarshalOrganismState(raw)
				if err != nil {
					return t, err
				}
				t.Organisms = append(t.Organisms, o)
			}
			b = b[n:]
		case TickDataCellColumnsField:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return t, errTruncated
			}
			if !filter.SkipCells {
				raw, bn := protowire.ConsumeBytes(b)
				if bn < 0 {
					return t, errTruncated
				}
				cols, err := UnmarshalCellDataColumns(raw)
				if err != nil {
					return t, err
				}
				t.CellColumns = cols
			}
			b = b[n:]
		case TickDataTotalOrganismsCreated:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, errTruncated
			}
			b = b[n:]
			t.TotalOrganismsCreated = int64(val)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return t, errTruncated
			}
			b = b[n:]
		}
	}
	return t, nil
}

// DeltaType distinguishes an ordinary incremental delta from a keyframe
// delta that a consumer may use as a resync point.
type DeltaType int32

const (
	DeltaIncremental DeltaType = 0
	DeltaKeyframe     DeltaType = 1
)

// TickDelta field numbers. Mirrors TickData but the organisms field sits at
// 5 (field 4 is delta_type) and changed_cells replaces cell_columns.
const (
	TickDeltaTickNumberField       protowire.Number = 1
	TickDeltaSimulationRunIDField  protowire.Number = 2
	TickDeltaCaptureTimeMsField    protowire.Number = 3
	TickDeltaDeltaTypeField        protowire.Number = 4
	TickDeltaOrganismsField        protowire.Number = 5
	TickDeltaChangedCellsField     protowire.Number = 6
	TickDeltaTotalOrganismsCreated protowire.Number = 7
)

// TickDelta enumerates only what changed since the previous tick.
type TickDelta struct {
	TickNumber            int64
	SimulationRunID       string
	CaptureTimeMs         int64
	Type                  DeltaType
	Organisms             []OrganismState
	ChangedCells          CellDataColumns
	TotalOrganismsCreated int64
}

// Marshal encodes the delta as a protobuf message.
func (t TickDelta) Marshal() []byte {
	var b []byte
	b = appendInt64Field(b, TickDeltaTickNumberField, t.TickNumber)
	b = appendStringField(b, TickDeltaSimulationRunIDField, t.SimulationRunID)
	b = appendInt64Field(b, TickDeltaCaptureTimeMsField, t.CaptureTimeMs)
	b = appendInt32Field(b, TickDeltaDeltaTypeField, int32(t.Type))
	for _, o := range t.Organisms {
		b = appendRepeatedMessageField(b, TickDeltaOrganismsField, o.Marshal())
	}
	b = appendMessageField(b, TickDeltaChangedCellsField, t.ChangedCells.Marshal())
	b = appendInt64Field(b, TickDeltaTotalOrganismsCreated, t.TotalOrganismsCreated)
	return b
}

// UnmarshalTickDelta decodes a TickDelta produced by Marshal.
func UnmarshalTickDelta(b []byte, filter Filter) (TickDelta, error) {
	var t TickDelta
	for len(b) > 0 {
		num, typ, n, err := consumeTag(b)
		if err != nil {
			return t, err
		}
		b = b[n:]
		switch num {
		case TickDeltaTickNumberField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, errTruncated
			}
			b = b[n:]
			t.TickNumber = int64(val)
		case TickDeltaSimulationRunIDField:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return t, errTruncated
			}
			b = b[n:]
			t.SimulationRunID = s
		case TickDeltaCaptureTimeMsField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, errTruncated
			}
			b = b[n:]
			t.CaptureTimeMs = int64(val)
		case TickDeltaDeltaTypeField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, errTruncated
			}
			b = b[n:]
			t.Type = DeltaType(int32(val))
		case TickDeltaOrganismsField:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return t, errTruncated
			}
			if !filter.SkipOrganisms {
				raw, bn := protowire.ConsumeBytes(b)
				if bn < 0 {
					return t, errTruncated
				}
				o, err := UnmarshalOrganismState(raw)
				if err != nil {
					return t, err
				}
				t.Organisms = append(t.Organisms, o)
			}
			b = b[n:]
		case TickDeltaChangedCellsField:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return t, errTruncated
			}
			if !filter.SkipCells {
				raw, bn := protowire.ConsumeBytes(b)
				if bn < 0 {
					return t, errTruncated
				}
				cols, err := UnmarshalCellDataColumns(raw)
				if err != nil {
					return t, err
				}
				t.ChangedCells = cols
			}
			b = b[n:]
		case TickDeltaTotalOrganismsCreated:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, errTruncated
			}
			b = b[n:]
			t.TotalOrganismsCreated = int64(val)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return t, errTruncated
			}
			b = b[n:]
		}
	}
	return t, nil
}

// TickDataChunk field numbers.
const (
	ChunkSimulationRunIDField protowire.Number = 1
	ChunkFirstTickField       protowire.Number = 2
	ChunkLastTickField        protowire.Number = 3
	ChunkTickCountField       protowire.Number = 4
	ChunkSnapshotField        protowire.Number = 5
	ChunkDeltasField          protowire.Number = 6
)

// TickDataChunk is one snapshot plus the deltas that followed it, the unit
// a batch file is a sequence of.
type TickDataChunk struct {
	SimulationRunID string
	FirstTick       int64
	LastTick        int64
	TickCount       int32
	Snapshot        *TickData
	Deltas          []TickDelta
}

// Header is the subset of TickDataChunk fields for_each_raw_chunk peeks at
// without parsing the (possibly large) snapshot or delta payloads.
type Header struct {
	SimulationRunID string
	FirstTick       int64
	LastTick        int64
	TickCount       int32
}

// Marshal encodes the chunk as a protobuf message.
func (c TickDataChunk) Marshal() []byte {
	var b []byte
	b = appendStringField(b, ChunkSimulationRunIDField, c.SimulationRunID)
	b = appendInt64Field(b, ChunkFirstTickField, c.FirstTick)
	b = appendInt64Field(b, ChunkLastTickField, c.LastTick)
	b = appendInt32Field(b, ChunkTickCountField, c.TickCount)
	if c.Snapshot != nil {
		b = appendRepeatedMessageField(b, ChunkSnapshotField, c.Snapshot.Marshal())
	}
	for _, d := range c.Deltas {
		b = appendRepeatedMessageField(b, ChunkDeltasField, d.Marshal())
	}
	return b
}

// UnmarshalTickDataChunk decodes a chunk produced by Marshal, honoring
// filter for every embedded snapshot/delta.
func UnmarshalTickDataChunk(b []byte, filter Filter) (TickDataChunk, error) {
	var c TickDataChunk
	for len(b) > 0 {
		num, typ, n, err := consumeTag(b)
		if err != nil {
			return c, err
		}
		b = b[n:]
		switch num {
		case ChunkSimulationRunIDField:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return c, errTruncated
			}
			b = b[n:]
			c.SimulationRunID = s
		case ChunkFirstTickField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c, errTruncated
			}
			b = b[n:]
			c.FirstTick = int64(val)
		case ChunkLastTickField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c, errTruncated
			}
			b = b[n:]
			c.LastTick = int64(val)
		case ChunkTickCountField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c, errTruncated
			}
			b = b[n:]
			c.TickCount = int32(int64(val))
		case ChunkSnapshotField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return c, errTruncated
			}
			b = b[n:]
			snap, err := UnmarshalTickData(raw, filter)
			if err != nil {
				return c, err
			}
			c.Snapshot = &snap
		case ChunkDeltasField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return c, errTruncated
			}
			b = b[n:]
			delta, err := UnmarshalTickDelta(raw, filter)
			if err != nil {
				return c, err
			}
			c.Deltas = append(c.Deltas, delta)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return c, errTruncated
			}
			b = b[n:]
		}
	}
	return c, nil
}

// PeekHeader reads only the scalar top-level fields of a TickDataChunk
// (simulation_run_id, first_tick, last_tick, tick_count), skipping the
// snapshot and deltas fields without decoding them. Used by
// for_each_raw_chunk to report a chunk's bounds before handing the raw
// frame bytes to the caller.
func PeekHeader(b []byte) (Header, error) {
	var h Header
	for len(b) > 0 {
		num, typ, n, err := consumeTag(b)
		if err != nil {
			return h, err
		}
		b = b[n:]
		switch num {
		case ChunkSimulationRunIDField:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return h, errTruncated
			}
			b = b[n:]
			h.SimulationRunID = s
		case ChunkFirstTickField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return h, errTruncated
			}
			b = b[n:]
			h.FirstTick = int64(val)
		case ChunkLastTickField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return h, errTruncated
			}
			b = b[n:]
			h.LastTick = int64(val)
		case ChunkTickCountField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return h, errTruncated
			}
			b = b[n:]
			h.TickCount = int32(int64(val))
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return h, errTruncated
			}
			b = b[n:]
		}
	}
	return h, nil
}
