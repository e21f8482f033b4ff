// Package organism models a single organism's long-lived state: its
// instruction pointer, direction vector, register banks, stacks, data
// pointers, call frames, and lifecycle.
//
// It has two construction paths: Create for a live-spawned organism and
// Builder.Restore for validated checkpoint data.
package organism

import (
	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/environment"
)

// FailureReason is a local, non-fatal per-instruction failure. It never
// unwinds the tick; the instruction step that records it (isa.Step) also
// applies the configured penalty.
type FailureReason string

const (
	NoInstruction    FailureReason = "NO_INSTRUCTION"
	StackOverflow    FailureReason = "STACK_OVERFLOW"
	StackUnderflow   FailureReason = "STACK_UNDERFLOW"
	DivideByZero     FailureReason = "DIVIDE_BY_ZERO"
	BoundsViolation  FailureReason = "OUT_OF_BOUNDS"
	TypeMismatch     FailureReason = "TYPE_MISMATCH"
	UnknownOpcode    FailureReason = "UNKNOWN_OPCODE"
)

// StackValue is a heterogeneous data_stack element: either an integer or a
// vector (coordinate/displacement).
type StackValue struct {
	IsVector bool
	Int      int32
	Vector   environment.Coord
}

// ProcFrame is pushed on CALL and popped on RET.
type ProcFrame struct {
	Name         string
	ReturnIP     environment.Coord
	SavedDV      environment.Coord
	SavedPRs     [4]int32
	SavedFPRs    [4]int32
	RegisterRemap map[int]int
}

const (
	NumDR  = 8
	NumPR  = 4
	NumFPR = 4
	NumLR  = 4
)

// DefaultStackLimit bounds data_stack/location_stack/call_stack depth;
// exceeding it is a local failure, not a panic.
const DefaultStackLimit = 4096

// Organism is the per-organism state the ISA reads and mutates one
// instruction at a time.
type Organism struct {
	ID        uint16
	ParentID  uint16
	BirthTick int64
	ProgramID string

	InitialPosition environment.Coord // constant after construction
	IP               environment.Coord
	DV               environment.Coord

	ER        int32 // energy
	SR        int32 // entropy
	MR        int32 // marker
	MaxEnergy int32

	DR  [NumDR]StackValue
	PR  [NumPR]int32
	FPR [NumFPR]int32
	LR  [NumLR]environment.Coord

	DataStack     []StackValue
	LocationStack []environment.Coord
	CallStack     []ProcFrame

	DPs           []environment.Coord
	ActiveDPIndex int

	InstructionFailed bool
	FailureReason     FailureReason

	IsDead bool

	stackLimit int
}

// Create builds a live-spawned organism at birthCell with initialEnergy.
func Create(id uint16, parentID uint16, birthTick int64, programID string,
	birthCell, dv environment.Coord, initialEnergy, maxEnergy int32) (*Organism, error) {
	if len(birthCell) != len(dv) {
		return nil, errors.New("organism: birth cell and dv must have the same dimension")
	}
	o := &Organism{
		ID:               id,
		ParentID:         parentID,
		BirthTick:        birthTick,
		ProgramID:        programID,
		InitialPosition:  birthCell.Clone(),
		IP:               birthCell.Clone(),
		DV:               dv.Clone(),
		ER:               initialEnergy,
		MaxEnergy:        maxEnergy,
		ActiveDPIndex:    0,
		stackLimit:       DefaultStackLimit,
	}
	return o, nil
}

// Builder accumulates fields for Restore, mirroring a
// validate-then-build checkpoint-load path: required
// fields are checked together, slices are copied one level deep (see
// Restore), and out-of-policy values (negative energy/entropy)
// warn rather than fail.
type Builder struct {
	id        uint16
	parentID  uint16
	birthTick int64
	programID string

	initialPosition environment.Coord
	ip              environment.Coord
	dv              environment.Coord

	er, sr, mr, maxEnergy int32

	dr  [NumDR]StackValue
	pr  [NumPR]int32
	fpr [NumFPR]int32
	lr  [NumLR]environment.Coord

	dataStack     []StackValue
	locationStack []environment.Coord
	callStack     []ProcFrame

	dps           []environment.Coord
	activeDPIndex int

	isDead bool
}

func NewBuilder(id uint16, birthTick int64) *Builder {
	return &Builder{id: id, birthTick: birthTick}
}

func (b *Builder) ParentID(v uint16) *Builder        { b.parentID = v; return b }
func (b *Builder) ProgramID(v string) *Builder        { b.programID = v; return b }
func (b *Builder) InitialPosition(c environment.Coord) *Builder { b.initialPosition = c.Clone(); return b }
func (b *Builder) IP(c environment.Coord) *Builder    { b.ip = c.Clone(); return b }
func (b *Builder) DV(c environment.Coord) *Builder     { b.dv = c.Clone(); return b }
func (b *Builder) Energy(v int32) *Builder             { b.er = v; return b }
func (b *Builder) Entropy(v int32) *Builder            { b.sr = v; return b }
func (b *Builder) Marker(v int32) *Builder             { b.mr = v; return b }
func (b *Builder) MaxEnergy(v int32) *Builder          { b.maxEnergy = v; return b }
func (b *Builder) DataStack(v []StackValue) *Builder {
	b.dataStack = append([]StackValue(nil), v...)
	return b
}
func (b *Builder) LocationStack(v []environment.Coord) *Builder {
	out := make([]environment.Coord, len(v))
	for i, c := range v {
		out[i] = c.Clone()
	}
	b.locationStack = out
	return b
}
func (b *Builder) CallStack(v []ProcFrame) *Builder {
	b.callStack = append([]ProcFrame(nil), v...)
	return b
}
func (b *Builder) DPs(v []environment.Coord, active int) *Builder {
	out := make([]environment.Coord, len(v))
	for i, c := range v {
		out[i] = c.Clone()
	}
	b.dps = out
	b.activeDPIndex = active
	return b
}
func (b *Builder) Dead(v bool) *Builder { b.isDead = v; return b }

// Warning is a non-fatal note surfaced by Restore; callers typically log
// it; negative energy/entropy are warned about, not failed on.
type Warning string

// Restore validates required fields and constructs an Organism from
// checkpoint data. Every slice field and coordinate list is copied, so the
// result never shares those with the builder or the caller. The copy is one
// level deep: a DataStack entry's Vector and a CallStack frame's ReturnIP,
// SavedDV and RegisterRemap still share memory with the values passed to
// DataStack and CallStack.
func (b *Builder) Restore() (*Organism, []Warning, error) {
	if b.ip == nil || b.dv == nil || b.initialPosition == nil {
		return nil, nil, errors.New("organism: restore requires IP, DV, and initial_position")
	}
	if len(b.ip) != len(b.dv) || len(b.dv) != len(b.initialPosition) {
		return nil, nil, errors.New("organism: restore requires IP, DV, initial_position of the same dimension")
	}

	var warnings []Warning
	if b.er < 0 {
		warnings = append(warnings, Warning("restored organism has negative energy"))
	}
	if b.sr < 0 {
		warnings = append(warnings, Warning("restored organism has negative entropy"))
	}

	o := &Organism{
		ID:                b.id,
		ParentID:          b.parentID,
		BirthTick:         b.birthTick,
		ProgramID:         b.programID,
		InitialPosition:   b.initialPosition.Clone(),
		IP:                b.ip.Clone(),
		DV:                b.dv.Clone(),
		ER:                b.er,
		SR:                b.sr,
		MR:                b.mr,
		MaxEnergy:         b.maxEnergy,
		DR:                b.dr,
		PR:                b.pr,
		FPR:               b.fpr,
		LR:                b.lr,
		DataStack:         append([]StackValue(nil), b.dataStack...),
		LocationStack:     cloneCoords(b.locationStack),
		CallStack:         append([]ProcFrame(nil), b.callStack...),
		DPs:               cloneCoords(b.dps),
		ActiveDPIndex:     b.activeDPIndex,
		IsDead:            b.isDead,
		stackLimit:        DefaultStackLimit,
	}
	return o, warnings, nil
}

func cloneCoords(cs []environment.Coord) []environment.Coord {
	out := make([]environment.Coord, len(cs))
	for i, c := range cs {
		out[i] = c.Clone()
	}
	return out
}

// Fail records a local instruction failure; it never panics or unwinds.
func (o *Organism) Fail(reason FailureReason) {
	o.InstructionFailed = true
	o.FailureReason = reason
}

// ClearFailure resets the per-tick failure flag ahead of the next step.
func (o *Organism) ClearFailure() {
	o.InstructionFailed = false
	o.FailureReason = ""
}

// Kill transitions the organism to dead. Once dead, no further state
// change is ever applied (callers must check IsDead before mutating).
func (o *Organism) Kill() { o.IsDead = true }

// AdvanceIP moves IP by DV, wrapping through env's topology.
func (o *Organism) AdvanceIP(env *environment.Environment) error {
	next := make(environment.Coord, len(o.IP))
	for i := range o.IP {
		next[i] = o.IP[i] + o.DV[i]
	}
	wrapped, err := env.Wrap(next)
	if err != nil {
		return err
	}
	o.IP = wrapped
	return nil
}

// RotateDV rotates the direction vector to the given unit step; dv must be
// a unit vector (one nonzero axis, magnitude 1) of the organism's
// dimensionality.
func (o *Organism) RotateDV(dv environment.Coord) error {
	if len(dv) != len(o.DV) {
		return errors.New("organism: dv dimension mismatch")
	}
	nonzero := 0
	for _, v := range dv {
		if v != 0 {
			if v != 1 && v != -1 {
				return errors.New("organism: dv must be a unit step")
			}
			nonzero++
		}
	}
	if nonzero != 1 {
		return errors.New("organism: dv must have exactly one nonzero axis")
	}
	o.DV = dv.Clone()
	return nil
}

// PushData pushes v onto data_stack, failing with StackOverflow if the
// configured limit would be exceeded.
func (o *Organism) PushData(v StackValue) bool {
	if len(o.DataStack) >= o.stackLimit {
		o.Fail(StackOverflow)
		return false
	}
	o.DataStack = append(o.DataStack, v)
	return true
}

// PopData pops the top of data_stack, failing with StackUnderflow if empty.
func (o *Organism) PopData() (StackValue, bool) {
	if len(o.DataStack) == 0 {
		o.Fail(StackUnderflow)
		return StackValue{}, false
	}
	n := len(o.DataStack) - 1
	v := o.DataStack[n]
	o.DataStack = o.DataStack[:n]
	return v, true
}

// PushLocation pushes a coordinate onto location_stack.
func (o *Organism) PushLocation(c environment.Coord) bool {
	if len(o.LocationStack) >= o.stackLimit {
		o.Fail(StackOverflow)
		return false
	}
	o.LocationStack = append(o.LocationStack, c.Clone())
	return true
}

// PopLocation pops the top of location_stack.
func (o *Organism) PopLocation() (environment.Coord, bool) {
	if len(o.LocationStack) == 0 {
		o.Fail(StackUnderflow)
		return nil, false
	}
	n := len(o.LocationStack) - 1
	c := o.LocationStack[n]
	o.LocationStack = o.LocationStack[:n]
	return c, true
}

// EnterProc pushes a call frame, saving DV/PRs/FPRs and storing remap in
// the frame. No register is remapped here, and LeaveProc does not read the
// stored remap.
func (o *Organism) EnterProc(name string, returnIP environment.Coord, remap map[int]int) bool {
	if len(o.CallStack) >= o.stackLimit {
		o.Fail(StackOverflow)
		return false
	}
	frame := ProcFrame{
		Name:          name,
		ReturnIP:      returnIP.Clone(),
		SavedDV:       o.DV.Clone(),
		SavedPRs:      o.PR,
		SavedFPRs:     o.FPR,
		RegisterRemap: remap,
	}
	o.CallStack = append(o.CallStack, frame)
	return true
}

// LeaveProc pops the current call frame, restoring DV/PRs/FPRs and
// returning the saved return IP.
func (o *Organism) LeaveProc() (environment.Coord, bool) {
	if len(o.CallStack) == 0 {
		o.Fail(StackUnderflow)
		return nil, false
	}
	n := len(o.CallStack) - 1
	frame := o.CallStack[n]
	o.CallStack = o.CallStack[:n]
	o.DV = frame.SavedDV
	o.PR = frame.SavedPRs
	o.FPR = frame.SavedFPRs
	return frame.ReturnIP, true
}

// ActivateDP switches the active data pointer index.
func (o *Organism) ActivateDP(idx int) error {
	if idx < 0 || idx >= len(o.DPs) {
		return errors.Errorf("organism: dp index %d out of range [0,%d)", idx, len(o.DPs))
	}
	o.ActiveDPIndex = idx
	return nil
}

// ActiveDP returns the currently active data pointer, if any.
func (o *Organism) ActiveDP() (environment.Coord, bool) {
	if len(o.DPs) == 0 || o.ActiveDPIndex >= len(o.DPs) {
		return nil, false
	}
	return o.DPs[o.ActiveDPIndex], true
}
