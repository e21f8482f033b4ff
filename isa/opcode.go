// Package isa decodes and executes one instruction per organism per tick.
// Execution never panics or unwinds for instruction-level
// failures: every local failure is recorded on the organism and Step
// applies the configured penalty, a sum-type re-architecture
// of exception-style control flow.
//
// Modeled on a per-message work loop:
// decode a unit of work, dispatch on its kind, apply effects, and record
// failures locally rather than aborting the whole run.
package isa

import "github.com/evochora/evochora-sub010/molecule"

// Opcode identifies an instruction. Values are packed into the low bits of
// a CODE molecule's value field by the (out-of-scope) compiler; the
// runtime only needs to decode and dispatch them.
type Opcode int32

const (
	OpNop Opcode = iota
	OpPush
	OpPop
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMove
	OpJmp
	OpJmpRel
	OpJz
	OpCall
	OpRet
	OpLoad
	OpStore
	OpScan
	OpTurn
	OpSeek
	OpEat
	OpSpawn
	OpKill
)

// OperandKind describes what each operand slot along the instruction's
// direction vector is expected to decode as.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandInt
	OperandVector
	OperandRegister
)

// spec describes one opcode's arity and operand shape.
type spec struct {
	name     string
	operands []OperandKind
}

var table = map[Opcode]spec{
	OpNop:    {"NOP", nil},
	OpPush:   {"PUSH", []OperandKind{OperandInt}},
	OpPop:    {"POP", nil},
	OpAdd:    {"ADD", nil},
	OpSub:    {"SUB", nil},
	OpMul:    {"MUL", nil},
	OpDiv:    {"DIV", nil},
	OpMove:   {"MOVE", []OperandKind{OperandRegister, OperandRegister}},
	OpJmp:    {"JMP", []OperandKind{OperandInt}},
	OpJmpRel: {"JMPR", []OperandKind{OperandInt}},
	OpJz:     {"JZ", []OperandKind{OperandInt}},
	OpCall:   {"CALL", []OperandKind{OperandInt}},
	OpRet:    {"RET", nil},
	OpLoad:   {"LOAD", []OperandKind{OperandRegister}},
	OpStore:  {"STORE", []OperandKind{OperandRegister}},
	OpScan:   {"SCAN", nil},
	OpTurn:   {"TURN", []OperandKind{OperandVector}},
	OpSeek:   {"SEEK", []OperandKind{OperandInt}},
	OpEat:    {"EAT", nil},
	OpSpawn:  {"SPAWN", []OperandKind{OperandVector}},
	OpKill:   {"KILL", nil},
}

// Decode extracts the opcode carried by a CODE molecule's value.
func Decode(m molecule.Molecule) (Opcode, bool) {
	if m.Type() != molecule.Code {
		return 0, false
	}
	op := Opcode(m.Value())
	if _, ok := table[op]; !ok {
		return 0, false
	}
	return op, true
}

// Arity returns the number of operand cells this opcode consumes.
func (op Opcode) Arity() int {
	s, ok := table[op]
	if !ok {
		return 0
	}
	return len(s.operands)
}

// Operands returns the expected operand kinds, in order.
func (op Opcode) Operands() []OperandKind {
	s, ok := table[op]
	if !ok {
		return nil
	}
	return s.operands
}

func (op Opcode) String() string {
	if s, ok := table[op]; ok {
		return s.name
	}
	return "UNKNOWN"
}
