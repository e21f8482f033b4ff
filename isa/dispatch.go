package isa

import (
	"github.com/evochora/evochora-sub010/environment"
	"github.com/evochora/evochora-sub010/molecule"
	"github.com/evochora/evochora-sub010/organism"
)

// WriteSink receives every environment write an instruction performs.
// Single-organism tests can hand Step a DirectSink to observe writes
// immediately; the scheduler always hands a worker a QueueSink instead,
// since a write's target cell has no bound on its distance from the
// writer and so can never be safely applied during the parallel phase.
type WriteSink interface {
	Write(c environment.Coord, m molecule.Molecule, owner uint16)
}

// DirectSink applies writes straight to an Environment.
type DirectSink struct{ Env *environment.Environment }

func (s DirectSink) Write(c environment.Coord, m molecule.Molecule, owner uint16) {
	_ = s.Env.Set(c, m, owner)
}

// QueuedWrite is one write an instruction wanted to perform, deferred for
// later deterministic, serial application.
type QueuedWrite struct {
	OrganismID   uint16
	OperandIndex int
	Coord        environment.Coord
	Molecule     molecule.Molecule
	Owner        uint16
}

// QueueSink buffers writes for later, deterministic, serial application.
type QueueSink struct {
	OrganismID uint16
	next       int
	Queued     []QueuedWrite
}

func (s *QueueSink) Write(c environment.Coord, m molecule.Molecule, owner uint16) {
	s.Queued = append(s.Queued, QueuedWrite{
		OrganismID:   s.OrganismID,
		OperandIndex: s.next,
		Coord:        c,
		Molecule:     m,
		Owner:        owner,
	})
	s.next++
}

// BirthRequest is emitted by SPAWN; the scheduler assigns the new
// organism a fresh id and appends it to the live list in the post-step
// phase.
type BirthRequest struct {
	ParentID  uint16
	BirthCell environment.Coord
	DV        environment.Coord
	Energy    int32
}

// StepResult carries everything the scheduler needs to act on after one
// organism's instruction executes.
type StepResult struct {
	Births []BirthRequest
}

// operand is one decoded instruction argument.
type operand struct {
	kind     OperandKind
	intVal   int32
	regIdx   int
	vecVal   environment.Coord
	cellSpan int // number of grid cells this operand consumed
}

// Step executes exactly one instruction for o. env is read directly;
// writes go through sink so the scheduler can defer them to its serial pass.
// Step never returns an error for organism-local problems — those are
// recorded on o via Fail — only programmer misuse panics (nil env/o).
func Step(o *organism.Organism, env *environment.Environment, sink WriteSink, thermo ThermoPolicy) StepResult {
	o.ClearFailure()

	if o.IsDead {
		return StepResult{}
	}

	cell, err := env.Get(o.IP)
	if err != nil {
		o.Fail(organism.BoundsViolation)
		applyPenalty(o, thermo)
		return StepResult{}
	}
	if cell.IsEmpty() || cell.Type() != molecule.Code {
		o.Fail(organism.NoInstruction)
		applyPenalty(o, thermo)
		return StepResult{}
	}

	op, ok := Decode(cell)
	if !ok {
		o.Fail(organism.UnknownOpcode)
		applyPenalty(o, thermo)
		return StepResult{}
	}

	operands, cellsConsumed, ok := fetchOperands(o, env, op)
	if !ok {
		applyPenalty(o, thermo)
		return StepResult{}
	}

	ctx := &execContext{o: o, env: env, sink: sink, thermo: thermo, operands: operands, cellsConsumed: cellsConsumed}
	advance := execute(ctx, op)

	if o.InstructionFailed {
		applyPenalty(o, thermo)
		return ctx.result
	}

	o.ER -= thermo.StepCost
	if advance {
		for i := 0; i <= cellsConsumed; i++ {
			if err := o.AdvanceIP(env); err != nil {
				o.Fail(organism.BoundsViolation)
				break
			}
		}
	}
	return ctx.result
}

func applyPenalty(o *organism.Organism, thermo ThermoPolicy) {
	o.ER -= thermo.FailurePenalty
}

// fetchOperands walks dv from IP, decoding op.Operands() in order. A
// Vector operand consumes one cell per axis of the organism's
// dimensionality; Int and Register operands consume one cell each. It
// does not move the organism's actual IP; Step advances IP once execution
// is known to have succeeded.
func fetchOperands(o *organism.Organism, env *environment.Environment, op Opcode) ([]operand, int, bool) {
	kinds := op.Operands()
	if len(kinds) == 0 {
		return nil, 0, true
	}
	out := make([]operand, 0, len(kinds))
	cursor := o.IP.Clone()
	total := 0

	step := func() (molecule.Molecule, bool) {
		next := make(environment.Coord, len(cursor))
		for d := range cursor {
			next[d] = cursor[d] + o.DV[d]
		}
		wrapped, err := env.Wrap(next)
		if err != nil {
			o.Fail(organism.BoundsViolation)
			return molecule.Zero, false
		}
		m, err := env.Get(wrapped)
		if err != nil {
			o.Fail(organism.BoundsViolation)
			return molecule.Zero, false
		}
		cursor = wrapped
		total++
		return m, true
	}

	for _, k := range kinds {
		switch k {
		case OperandVector:
			vec := make(environment.Coord, len(o.IP))
			for d := range vec {
				m, ok := step()
				if !ok {
					return nil, 0, false
				}
				vec[d] = m.Value()
			}
			out = append(out, operand{kind: k, vecVal: vec, cellSpan: len(vec)})
		case OperandRegister:
			m, ok := step()
			if !ok {
				return nil, 0, false
			}
			out = append(out, operand{kind: k, regIdx: int(m.Value()), cellSpan: 1})
		default: // OperandInt
			m, ok := step()
			if !ok {
				return nil, 0, false
			}
			out = append(out, operand{kind: k, intVal: m.Value(), cellSpan: 1})
		}
	}
	return out, total, true
}
