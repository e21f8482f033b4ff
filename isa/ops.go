package isa

import (
	"github.com/evochora/evochora-sub010/environment"
	"github.com/evochora/evochora-sub010/molecule"
	"github.com/evochora/evochora-sub010/organism"
)

type execContext struct {
	o             *organism.Organism
	env           *environment.Environment
	sink          WriteSink
	thermo        ThermoPolicy
	operands      []operand
	result        StepResult
	cellsConsumed int // grid cells consumed by the opcode's operands, excluding the opcode cell itself
}

// execute runs op's body and returns whether IP should be auto-advanced
// past the opcode and its operands (false for instructions that
// reposition IP themselves: jumps, CALL, RET).
func execute(ctx *execContext, op Opcode) bool {
	switch op {
	case OpNop:
		return true
	case OpPush:
		ctx.o.PushData(organism.StackValue{Int: ctx.operands[0].intVal})
		return true
	case OpPop:
		ctx.o.PopData()
		return true
	case OpAdd:
		return binOp(ctx, func(a, b int32) (int32, bool) { return a + b, true })
	case OpSub:
		return binOp(ctx, func(a, b int32) (int32, bool) { return a - b, true })
	case OpMul:
		return binOp(ctx, func(a, b int32) (int32, bool) { return a * b, true })
	case OpDiv:
		return binOp(ctx, func(a, b int32) (int32, bool) {
			if b == 0 {
				return 0, false
			}
			return a / b, true
		})
	case OpMove:
		return opMove(ctx)
	case OpJmp:
		return opJmp(ctx)
	case OpJmpRel:
		return opJmpRel(ctx)
	case OpJz:
		return opJz(ctx)
	case OpCall:
		return opCall(ctx)
	case OpRet:
		return opRet(ctx)
	case OpLoad:
		return opLoad(ctx)
	case OpStore:
		return opStore(ctx)
	case OpScan:
		return opScan(ctx)
	case OpTurn:
		return opTurn(ctx)
	case OpSeek:
		return opSeek(ctx)
	case OpEat:
		return opEat(ctx)
	case OpSpawn:
		return opSpawn(ctx)
	case OpKill:
		ctx.o.Kill()
		return false
	default:
		ctx.o.Fail(organism.UnknownOpcode)
		return false
	}
}

func binOp(ctx *execContext, f func(a, b int32) (int32, bool)) bool {
	b, ok := ctx.o.PopData()
	if !ok {
		return false
	}
	a, ok := ctx.o.PopData()
	if !ok {
		return false
	}
	if a.IsVector || b.IsVector {
		ctx.o.Fail(organism.TypeMismatch)
		return false
	}
	r, ok := f(a.Int, b.Int)
	if !ok {
		ctx.o.Fail(organism.DivideByZero)
		return false
	}
	ctx.o.PushData(organism.StackValue{Int: r})
	return true
}

func regIndexValid(idx, n int) bool { return idx >= 0 && idx < n }

func opMove(ctx *execContext) bool {
	src, dst := ctx.operands[0].regIdx, ctx.operands[1].regIdx
	if !regIndexValid(src, organism.NumDR) || !regIndexValid(dst, organism.NumDR) {
		ctx.o.Fail(organism.TypeMismatch)
		return false
	}
	ctx.o.DR[dst] = ctx.o.DR[src]
	return true
}

// opJmp jumps to the cell whose content is the LABEL matching the given
// 19-bit hash: the operand carries the hash, and we
// scan forward from IP along DV until we find it, wrapping as the
// environment's topology dictates. A bounded search keeps this from
// looping forever on a program with no matching label.
func opJmp(ctx *execContext) bool {
	target := ctx.operands[0].intVal
	o, env := ctx.o, ctx.env
	cursor := o.IP.Clone()
	limit := env.Len()
	for i := 0; i < limit; i++ {
		m, err := env.Get(cursor)
		if err == nil && m.Type() == molecule.Label && m.Value() == target {
			o.IP = cursor
			return false
		}
		next := make(environment.Coord, len(cursor))
		for d := range cursor {
			next[d] = cursor[d] + o.DV[d]
		}
		wrapped, err := env.Wrap(next)
		if err != nil {
			break
		}
		cursor = wrapped
	}
	o.Fail(organism.UnknownOpcode)
	return false
}

func opJmpRel(ctx *execContext) bool {
	offset := ctx.operands[0].intVal
	o, env := ctx.o, ctx.env
	next := make(environment.Coord, len(o.IP))
	for d := range next {
		next[d] = o.IP[d] + o.DV[d]*offset
	}
	wrapped, err := env.Wrap(next)
	if err != nil {
		o.Fail(organism.BoundsViolation)
		return false
	}
	o.IP = wrapped
	return false
}

func opJz(ctx *execContext) bool {
	v, ok := ctx.o.PopData()
	if !ok {
		return false
	}
	if v.IsVector || v.Int != 0 {
		return true // condition false: fall through, advance normally
	}
	return opJmp(ctx)
}

// opCall saves the address just past CALL's own operand cells as the
// return address, then jumps like JMP. Saving o.IP directly would point
// RET back at the CALL instruction itself.
func opCall(ctx *execContext) bool {
	o, env := ctx.o, ctx.env
	cursor := o.IP.Clone()
	for i := 0; i < ctx.cellsConsumed; i++ {
		next := make(environment.Coord, len(cursor))
		for d := range cursor {
			next[d] = cursor[d] + o.DV[d]
		}
		wrapped, err := env.Wrap(next)
		if err != nil {
			o.Fail(organism.BoundsViolation)
			return false
		}
		cursor = wrapped
	}
	returnIP := make(environment.Coord, len(cursor))
	for d := range cursor {
		returnIP[d] = cursor[d] + o.DV[d]
	}
	returnIP, err := env.Wrap(returnIP)
	if err != nil {
		o.Fail(organism.BoundsViolation)
		return false
	}
	if ok := o.EnterProc("", returnIP, nil); !ok {
		return false
	}
	return opJmp(ctx)
}

func opRet(ctx *execContext) bool {
	retIP, ok := ctx.o.LeaveProc()
	if !ok {
		return false
	}
	ctx.o.IP = retIP
	return false
}

func opLoad(ctx *execContext) bool {
	o := ctx.o
	dp, ok := o.ActiveDP()
	if !ok {
		o.Fail(organism.TypeMismatch)
		return false
	}
	m, err := ctx.env.Get(dp)
	if err != nil {
		o.Fail(organism.BoundsViolation)
		return false
	}
	dst := ctx.operands[0].regIdx
	if !regIndexValid(dst, organism.NumDR) {
		o.Fail(organism.TypeMismatch)
		return false
	}
	o.DR[dst] = organism.StackValue{Int: m.Value()}
	return true
}

func opStore(ctx *execContext) bool {
	o := ctx.o
	dp, ok := o.ActiveDP()
	if !ok {
		o.Fail(organism.TypeMismatch)
		return false
	}
	src := ctx.operands[0].regIdx
	if !regIndexValid(src, organism.NumDR) {
		o.Fail(organism.TypeMismatch)
		return false
	}
	v := o.DR[src]
	if v.IsVector {
		o.Fail(organism.TypeMismatch)
		return false
	}
	ctx.sink.Write(dp, molecule.Encode(molecule.Data, v.Int, o.ID), o.ID)
	return true
}

func opScan(ctx *execContext) bool {
	o, env := ctx.o, ctx.env
	next := make(environment.Coord, len(o.IP))
	for d := range next {
		next[d] = o.IP[d] + o.DV[d]
	}
	wrapped, err := env.Wrap(next)
	if err != nil {
		o.Fail(organism.BoundsViolation)
		return false
	}
	m, err := env.Get(wrapped)
	if err != nil {
		o.Fail(organism.BoundsViolation)
		return false
	}
	o.DR[0] = organism.StackValue{Int: int32(m.Type())}
	o.DR[1] = organism.StackValue{Int: m.Value()}
	return true
}

func opTurn(ctx *execContext) bool {
	if err := ctx.o.RotateDV(ctx.operands[0].vecVal); err != nil {
		ctx.o.Fail(organism.TypeMismatch)
		return false
	}
	return true
}

func opSeek(ctx *execContext) bool {
	idx := int(ctx.operands[0].intVal)
	if err := ctx.o.ActivateDP(idx); err != nil {
		ctx.o.Fail(organism.TypeMismatch)
		return false
	}
	return true
}

func opEat(ctx *execContext) bool {
	o, env := ctx.o, ctx.env
	m, err := env.Get(o.IP)
	if err != nil {
		o.Fail(organism.BoundsViolation)
		return false
	}
	if m.Type() != molecule.Energy {
		o.Fail(organism.TypeMismatch)
		return false
	}
	o.ER += ctx.thermo.EatGain
	ctx.sink.Write(o.IP, molecule.Zero, 0)
	return true
}

func opSpawn(ctx *execContext) bool {
	o := ctx.o
	if o.ER < ctx.thermo.SpawnCost {
		o.Fail(organism.TypeMismatch)
		return false
	}
	birth := make(environment.Coord, len(o.IP))
	for d := range birth {
		birth[d] = o.IP[d] + ctx.operands[0].vecVal[d]
	}
	o.ER -= ctx.thermo.SpawnCost
	ctx.result.Births = append(ctx.result.Births, BirthRequest{
		ParentID:  o.ID,
		BirthCell: birth,
		DV:        o.DV.Clone(),
		Energy:    ctx.thermo.SpawnCost,
	})
	return true
}
