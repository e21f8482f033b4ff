package isa

import (
	"testing"

	"github.com/evochora/evochora-sub010/environment"
	"github.com/evochora/evochora-sub010/molecule"
	"github.com/evochora/evochora-sub010/organism"
)

// Empty step on an empty grid fails with NO_INSTRUCTION, penalizes
// energy, and leaves IP unchanged.
func TestEmptyStepFailsWithNoInstruction(t *testing.T) {
	env, err := environment.New([]int32{20, 20}, environment.Bounded)
	if err != nil {
		t.Fatal(err)
	}
	o, err := organism.Create(1, 0, 0, "p", environment.Coord{10, 10}, environment.Coord{1, 0}, 100, 1000)
	if err != nil {
		t.Fatal(err)
	}
	thermo := ThermoPolicy{FailurePenalty: 5, StepCost: 1}
	before := o.IP.Clone()

	Step(o, env, DirectSink{Env: env}, thermo)

	if !o.InstructionFailed {
		t.Fatal("expected instruction failure on empty cell")
	}
	if o.FailureReason != organism.NoInstruction {
		t.Fatalf("reason = %v, want NO_INSTRUCTION", o.FailureReason)
	}
	if o.ER != 95 {
		t.Fatalf("energy = %d, want 95 (100 - penalty 5)", o.ER)
	}
	if !o.IP.Equal(before) {
		t.Fatalf("IP changed to %v, want unchanged %v", o.IP, before)
	}
}

func TestDeadOrganismIsSkipped(t *testing.T) {
	env, _ := environment.New([]int32{5, 5}, environment.Bounded)
	o, _ := organism.Create(1, 0, 0, "p", environment.Coord{0, 0}, environment.Coord{1, 0}, 100, 1000)
	o.Kill()
	Step(o, env, DirectSink{Env: env}, DefaultThermoPolicy)
	if o.InstructionFailed {
		t.Fatal("dead organism must not record a failure")
	}
}

func TestPushAddPopArithmetic(t *testing.T) {
	env, _ := environment.New([]int32{10, 1}, environment.Bounded)
	// PUSH 3; PUSH 4; ADD  -- laid out along dv=(1,0) starting at (0,0)
	mustSet(t, env, environment.Coord{0, 0}, molecule.Code, int32(OpPush), 1)
	mustSet(t, env, environment.Coord{1, 0}, molecule.Data, 3, 1)
	mustSet(t, env, environment.Coord{2, 0}, molecule.Code, int32(OpPush), 1)
	mustSet(t, env, environment.Coord{3, 0}, molecule.Data, 4, 1)
	mustSet(t, env, environment.Coord{4, 0}, molecule.Code, int32(OpAdd), 1)

	o, _ := organism.Create(1, 0, 0, "p", environment.Coord{0, 0}, environment.Coord{1, 0}, 100, 1000)
	sink := DirectSink{Env: env}
	Step(o, env, sink, DefaultThermoPolicy)
	Step(o, env, sink, DefaultThermoPolicy)
	Step(o, env, sink, DefaultThermoPolicy)

	if o.InstructionFailed {
		t.Fatalf("unexpected failure: %v", o.FailureReason)
	}
	v, ok := o.PopData()
	if !ok {
		t.Fatal("expected a value on the data stack")
	}
	if v.Int != 7 {
		t.Fatalf("3+4 = %d, want 7", v.Int)
	}
}

func TestDivideByZero(t *testing.T) {
	env, _ := environment.New([]int32{10, 1}, environment.Bounded)
	mustSet(t, env, environment.Coord{0, 0}, molecule.Code, int32(OpPush), 1)
	mustSet(t, env, environment.Coord{1, 0}, molecule.Data, 5, 1)
	mustSet(t, env, environment.Coord{2, 0}, molecule.Code, int32(OpPush), 1)
	mustSet(t, env, environment.Coord{3, 0}, molecule.Data, 0, 1)
	mustSet(t, env, environment.Coord{4, 0}, molecule.Code, int32(OpDiv), 1)

	o, _ := organism.Create(1, 0, 0, "p", environment.Coord{0, 0}, environment.Coord{1, 0}, 100, 1000)
	sink := DirectSink{Env: env}
	Step(o, env, sink, DefaultThermoPolicy)
	Step(o, env, sink, DefaultThermoPolicy)
	Step(o, env, sink, DefaultThermoPolicy)

	if !o.InstructionFailed || o.FailureReason != organism.DivideByZero {
		t.Fatalf("expected DIVIDE_BY_ZERO, got failed=%v reason=%v", o.InstructionFailed, o.FailureReason)
	}
}

func TestCallRetRoundTrip(t *testing.T) {
	env, _ := environment.New([]int32{20, 1}, environment.Bounded)
	// CALL <label hash 77> at (0,0)/(1,0); label 77 at (10,0); RET at (11,0).
	mustSet(t, env, environment.Coord{0, 0}, molecule.Code, int32(OpCall), 1)
	mustSet(t, env, environment.Coord{1, 0}, molecule.Data, 77, 1)
	mustSet(t, env, environment.Coord{10, 0}, molecule.Label, 77, 1)
	mustSet(t, env, environment.Coord{11, 0}, molecule.Code, int32(OpRet), 1)

	o, _ := organism.Create(1, 0, 0, "p", environment.Coord{0, 0}, environment.Coord{1, 0}, 100, 1000)
	sink := DirectSink{Env: env}
	Step(o, env, sink, DefaultThermoPolicy) // CALL
	if !o.IP.Equal(environment.Coord{10, 0}) {
		t.Fatalf("after CALL, IP = %v, want [10 0]", o.IP)
	}
	// A real compiled program places CALL targets just past the LABEL cell
	// (stepping directly onto a LABEL is NO_INSTRUCTION, since its type
	// isn't CODE); jump there by hand to exercise the return path.
	o.IP = environment.Coord{11, 0}
	Step(o, env, sink, DefaultThermoPolicy) // RET
	if !o.IP.Equal(environment.Coord{2, 0}) {
		t.Fatalf("after RET, IP = %v, want [2 0] (just past the CALL's operand)", o.IP)
	}
}

func mustSet(t *testing.T, env *environment.Environment, c environment.Coord, ty molecule.Type, v int32, owner uint16) {
	t.Helper()
	if err := env.Set(c, molecule.Encode(ty, v, owner), owner); err != nil {
		t.Fatalf("Set(%v): %v", c, err)
	}
}
