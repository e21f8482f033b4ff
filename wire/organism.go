package wire

import "google.golang.org/protobuf/encoding/protowire"

// StackValue field numbers.
const (
	stackValueIsVectorField protowire.Number = 1
	stackValueIntField      protowire.Number = 2
	stackValueVectorField   protowire.Number = 3
)

// StackValue mirrors organism.StackValue: either a plain integer or a
// vector (coordinate/displacement), never both.
type StackValue struct {
	IsVector bool
	Int      int32
	Vector   []int32
}

func (v StackValue) marshal() []byte {
	var b []byte
	b = appendBoolField(b, stackValueIsVectorField, v.IsVector)
	if v.IsVector {
		b = appendMessageField(b, stackValueVectorField, MarshalCoord(v.Vector))
	} else {
		b = appendInt32Field(b, stackValueIntField, v.Int)
	}
	return b
}

func unmarshalStackValue(b []byte) (StackValue, error) {
	var v StackValue
	for len(b) > 0 {
		num, typ, n, err := consumeTag(b)
		if err != nil {
			return v, err
		}
		b = b[n:]
		switch {
		case num == stackValueIsVectorField && typ == protowire.VarintType:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, errTruncated
			}
			b = b[n:]
			v.IsVector = val != 0
		case num == stackValueIntField && typ == protowire.VarintType:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, errTruncated
			}
			b = b[n:]
			v.Int = int32(int64(val))
		case num == stackValueVectorField && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, errTruncated
			}
			b = b[n:]
			vec, err := UnmarshalCoord(raw)
			if err != nil {
				return v, err
			}
			v.Vector = vec
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return v, errTruncated
			}
			b = b[n:]
		}
	}
	return v, nil
}

// RemapEntry is one (register index -> register index) pair of a
// ProcFrame's call-time register remap.
type RemapEntry struct {
	Key   int32
	Value int32
}

const (
	remapEntryKeyField   protowire.Number = 1
	remapEntryValueField protowire.Number = 2
)

func (e RemapEntry) marshal() []byte {
	var b []byte
	b = appendInt32Field(b, remapEntryKeyField, e.Key)
	b = appendInt32Field(b, remapEntryValueField, e.Value)
	return b
}

func unmarshalRemapEntry(b []byte) (RemapEntry, error) {
	var e RemapEntry
	for len(b) > 0 {
		num, typ, n, err := consumeTag(b)
		if err != nil {
			return e, err
		}
		b = b[n:]
		switch {
		case num == remapEntryKeyField && typ == protowire.VarintType:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, errTruncated
			}
			b = b[n:]
			e.Key = int32(int64(val))
		case num == remapEntryValueField && typ == protowire.VarintType:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, errTruncated
			}
			b = b[n:]
			e.Value = int32(int64(val))
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, errTruncated
			}
			b = b[n:]
		}
	}
	return e, nil
}

// ProcFrame field numbers.
const (
	procFrameNameField         protowire.Number = 1
	procFrameReturnIPField     protowire.Number = 2
	procFrameSavedDVField      protowire.Number = 3
	procFrameSavedPRsField     protowire.Number = 4
	procFrameSavedFPRsField    protowire.Number = 5
	procFrameRegisterRemap     protowire.Number = 6
)

// ProcFrame mirrors organism.ProcFrame.
type ProcFrame struct {
	Name          string
	ReturnIP      []int32
	SavedDV       []int32
	SavedPRs      []int32
	SavedFPRs     []int32
	RegisterRemap []RemapEntry
}

func (f ProcFrame) marshal() []byte {
	var b []byte
	b = appendStringField(b, procFrameNameField, f.Name)
	b = appendMessageField(b, procFrameReturnIPField, MarshalCoord(f.ReturnIP))
	b = appendMessageField(b, procFrameSavedDVField, MarshalCoord(f.SavedDV))
	b = appendPackedVarints(b, procFrameSavedPRsField, f.SavedPRs)
	b = appendPackedVarints(b, procFrameSavedFPRsField, f.SavedFPRs)
	for _, e := range f.RegisterRemap {
		b = appendRepeatedMessageField(b, procFrameRegisterRemap, e.marshal())
	}
	return b
}

func unmarshalProcFrame(b []byte) (ProcFrame, error) {
	var f ProcFrame
	for len(b) > 0 {
		num, typ, n, err := consumeTag(b)
		if err != nil {
			return f, err
		}
		b = b[n:]
		switch {
		case num == procFrameNameField && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return f, errTruncated
			}
			b = b[n:]
			f.Name = s
		case num == procFrameReturnIPField && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, errTruncated
			}
			b = b[n:]
			if f.ReturnIP, err = UnmarshalCoord(raw); err != nil {
				return f, err
			}
		case num == procFrameSavedDVField && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, errTruncated
			}
			b = b[n:]
			if f.SavedDV, err = UnmarshalCoord(raw); err != nil {
				return f, err
			}
		case num == procFrameSavedPRsField && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, errTruncated
			}
			b = b[n:]
			if f.SavedPRs, err = consumePackedVarints(raw); err != nil {
				return f, err
			}
		case num == procFrameSavedFPRsField && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, errTruncated
			}
			b = b[n:]
			if f.SavedFPRs, err = consumePackedVarints(raw); err != nil {
				return f, err
			}
		case num == procFrameRegisterRemap && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, errTruncated
			}
			b = b[n:]
			entry, err := unmarshalRemapEntry(raw)
			if err != nil {
				return f, err
			}
			f.RegisterRemap = append(f.RegisterRemap, entry)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return f, errTruncated
			}
			b = b[n:]
		}
	}
	return f, nil
}

// OrganismState field numbers (TickData.organisms / TickDelta.organisms).
const (
	OrganismIDField                protowire.Number = 1
	OrganismParentIDField          protowire.Number = 2
	OrganismBirthTickField         protowire.Number = 3
	OrganismProgramIDField         protowire.Number = 4
	OrganismInitialPositionField   protowire.Number = 5
	OrganismIPField                protowire.Number = 6
	OrganismDVField                protowire.Number = 7
	OrganismERField                protowire.Number = 8
	OrganismSRField                protowire.Number = 9
	OrganismMRField                protowire.Number = 10
	OrganismMaxEnergyField         protowire.Number = 11
	OrganismDRField                protowire.Number = 12
	OrganismPRField                protowire.Number = 13
	OrganismFPRField               protowire.Number = 14
	OrganismLRField                protowire.Number = 15
	OrganismDataStackField         protowire.Number = 16
	OrganismLocationStackField     protowire.Number = 17
	OrganismCallStackField         protowire.Number = 18
	OrganismDPsField               protowire.Number = 19
	OrganismActiveDPIndexField     protowire.Number = 20
	OrganismInstructionFailedField protowire.Number = 21
	OrganismFailureReasonField     protowire.Number = 22
	OrganismIsDeadField            protowire.Number = 23
)

// OrganismState is the wire form of one organism's full state as captured
// in a TickData snapshot or a TickDelta's changed-organism list.
type OrganismState struct {
	ID, ParentID      uint32
	BirthTick         int64
	ProgramID         string
	InitialPosition   []int32
	IP, DV            []int32
	ER, SR, MR        int32
	MaxEnergy         int32
	DR                []StackValue
	PR, FPR           []int32
	LR                [][]int32
	DataStack         []StackValue
	LocationStack     [][]int32
	CallStack         []ProcFrame
	DPs               [][]int32
	ActiveDPIndex     int32
	InstructionFailed bool
	FailureReason     string
	IsDead            bool
}

// Marshal encodes the organism state as a protobuf message.
func (o OrganismState) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, OrganismIDField, uint64(o.ID))
	b = appendVarintField(b, OrganismParentIDField, uint64(o.ParentID))
	b = appendInt64Field(b, OrganismBirthTickField, o.BirthTick)
	b = appendStringField(b, OrganismProgramIDField, o.ProgramID)
	b = appendMessageField(b, OrganismInitialPositionField, MarshalCoord(o.InitialPosition))
	b = appendMessageField(b, OrganismIPField, MarshalCoord(o.IP))
	b = appendMessageField(b, OrganismDVField, MarshalCoord(o.DV))
	b = appendInt32Field(b, OrganismERField, o.ER)
	b = appendInt32Field(b, OrganismSRField, o.SR)
	b = appendInt32Field(b, OrganismMRField, o.MR)
	b = appendInt32Field(b, OrganismMaxEnergyField, o.MaxEnergy)
	for _, v := range o.DR {
		b = appendRepeatedMessageField(b, OrganismDRField, v.marshal())
	}
	b = appendPackedVarints(b, OrganismPRField, o.PR)
	b = appendPackedVarints(b, OrganismFPRField, o.FPR)
	for _, c := range o.LR {
		b = appendRepeatedMessageField(b, OrganismLRField, MarshalCoord(c))
	}
	for _, v := range o.DataStack {
		b = appendRepeatedMessageField(b, OrganismDataStackField, v.marshal())
	}
	for _, c := range o.LocationStack {
		b = appendRepeatedMessageField(b, OrganismLocationStackField, MarshalCoord(c))
	}
	for _, f := range o.CallStack {
		b = appendRepeatedMessageField(b, OrganismCallStackField, f.marshal())
	}
	for _, c := range o.DPs {
		b = appendRepeatedMessageField(b, OrganismDPsField, MarshalCoord(c))
	}
	b = appendInt32Field(b, OrganismActiveDPIndexField, o.ActiveDPIndex)
	b = appendBoolField(b, OrganismInstructionFailedField, o.InstructionFailed)
	b = appendStringField(b, OrganismFailureReasonField, o.FailureReason)
	b = appendBoolField(b, OrganismIsDeadField, o.IsDead)
	return b
}

// UnmarshalOrganismState decodes an OrganismState produced by Marshal.
func UnmarshalOrganismState(b []byte) (OrganismState, error) {
	var o OrganismState
	for len(b) > 0 {
		num, typ, n, err := consumeTag(b)
		if err != nil {
			return o, err
		}
		b = b[n:]
		switch num {
		case OrganismIDField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			o.ID = uint32(val)
		case OrganismParentIDField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			o.ParentID = uint32(val)
		case OrganismBirthTickField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			o.BirthTick = int64(val)
		case OrganismProgramIDField:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			o.ProgramID = s
		case OrganismInitialPositionField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			if o.InitialPosition, err = UnmarshalCoord(raw); err != nil {
				return o, err
			}
		case OrganismIPField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			if o.IP, err = UnmarshalCoord(raw); err != nil {
				return o, err
			}
		case OrganismDVField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			if o.DV, err = UnmarshalCoord(raw); err != nil {
				return o, err
			}
		case OrganismERField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			o.ER = int32(int64(val))
		case OrganismSRField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			o.SR = int32(int64(val))
		case OrganismMRField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			o.MR = int32(int64(val))
		case OrganismMaxEnergyField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			o.MaxEnergy = int32(int64(val))
		case OrganismDRField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			v, err := unmarshalStackValue(raw)
			if err != nil {
				return o, err
			}
			o.DR = append(o.DR, v)
		case OrganismPRField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			if o.PR, err = consumePackedVarints(raw); err != nil {
				return o, err
			}
		case OrganismFPRField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			if o.FPR, err = consumePackedVarints(raw); err != nil {
				return o, err
			}
		case OrganismLRField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			c, err := UnmarshalCoord(raw)
			if err != nil {
				return o, err
			}
			o.LR = append(o.LR, c)
		case OrganismDataStackField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			v, err := unmarshalStackValue(raw)
			if err != nil {
				return o, err
			}
			o.DataStack = append(o.DataStack, v)
		case OrganismLocationStackField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			c, err := UnmarshalCoord(raw)
			if err != nil {
				return o, err
			}
			o.LocationStack = append(o.LocationStack, c)
		case OrganismCallStackField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			f, err := unmarshalProcFrame(raw)
			if err != nil {
				return o, err
			}
			o.CallStack = append(o.CallStack, f)
		case OrganismDPsField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			c, err := UnmarshalCoord(raw)
			if err != nil {
				return o, err
			}
			o.DPs = append(o.DPs, c)
		case OrganismActiveDPIndexField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			o.ActiveDPIndex = int32(int64(val))
		case OrganismInstructionFailedField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			o.InstructionFailed = val != 0
		case OrganismFailureReasonField:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			o.FailureReason = s
		case OrganismIsDeadField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
			o.IsDead = val != 0
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return o, errTruncated
			}
			b = b[n:]
		}
	}
	return o, nil
}
