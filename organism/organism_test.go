package organism

import (
	"testing"

	"github.com/evochora/evochora-sub010/environment"
)

func TestCreateSetsInitialPositionConstant(t *testing.T) {
	birth := environment.Coord{10, 10}
	dv := environment.Coord{1, 0}
	o, err := Create(1, 0, 0, "prog", birth, dv, 100, 1000)
	if err != nil {
		t.Fatal(err)
	}
	birth[0] = 999 // mutate caller's slice
	if o.InitialPosition[0] == 999 {
		t.Fatal("Create must not alias the caller's birth cell slice")
	}
	if o.IP[0] == 999 {
		t.Fatal("Create must not alias the caller's birth cell slice for IP either")
	}
}

func TestRestoreRequiresIPAndDVAndInitialPosition(t *testing.T) {
	_, _, err := NewBuilder(1, 0).Restore()
	if err == nil {
		t.Fatal("expected error when IP/DV/initial_position are missing")
	}
}

func TestRestoreWarnsOnNegativeEnergyButSucceeds(t *testing.T) {
	b := NewBuilder(1, 0).
		InitialPosition(environment.Coord{0, 0}).
		IP(environment.Coord{0, 0}).
		DV(environment.Coord{1, 0}).
		Energy(-5)
	o, warnings, err := b.Restore()
	if err != nil {
		t.Fatal(err)
	}
	if o.ER != -5 {
		t.Fatalf("energy = %d, want -5 (not clamped)", o.ER)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning about negative energy")
	}
}

func TestRestoreCopiesSlicesWithoutAliasing(t *testing.T) {
	locStack := []environment.Coord{{1, 1}}
	b := NewBuilder(1, 0).
		InitialPosition(environment.Coord{0, 0}).
		IP(environment.Coord{0, 0}).
		DV(environment.Coord{1, 0}).
		LocationStack(locStack)
	o, _, err := b.Restore()
	if err != nil {
		t.Fatal(err)
	}
	locStack[0][0] = 42
	if o.LocationStack[0][0] == 42 {
		t.Fatal("Restore must deep-copy location stack coordinates")
	}
}

func TestPushPopDataStackOverflowUnderflow(t *testing.T) {
	o, _ := Create(1, 0, 0, "p", environment.Coord{0, 0}, environment.Coord{1, 0}, 0, 0)
	o.stackLimit = 2
	if !o.PushData(StackValue{Int: 1}) {
		t.Fatal("first push should succeed")
	}
	if !o.PushData(StackValue{Int: 2}) {
		t.Fatal("second push should succeed")
	}
	if o.PushData(StackValue{Int: 3}) {
		t.Fatal("third push should overflow")
	}
	if !o.InstructionFailed || o.FailureReason != StackOverflow {
		t.Fatalf("expected StackOverflow failure, got failed=%v reason=%v", o.InstructionFailed, o.FailureReason)
	}
	o.ClearFailure()
	if _, ok := o.PopData(); !ok {
		t.Fatal("pop should succeed")
	}
	if _, ok := o.PopData(); !ok {
		t.Fatal("pop should succeed")
	}
	if _, ok := o.PopData(); ok {
		t.Fatal("pop on empty stack should fail")
	}
	if o.FailureReason != StackUnderflow {
		t.Fatalf("expected StackUnderflow, got %v", o.FailureReason)
	}
}

func TestCallRetSavesAndRestoresDV(t *testing.T) {
	o, _ := Create(1, 0, 0, "p", environment.Coord{0, 0}, environment.Coord{1, 0}, 0, 0)
	o.PR[0] = 5
	if !o.EnterProc("f", environment.Coord{3, 3}, nil) {
		t.Fatal("enter proc should succeed")
	}
	o.DV = environment.Coord{0, 1}
	o.PR[0] = 9
	retIP, ok := o.LeaveProc()
	if !ok {
		t.Fatal("leave proc should succeed")
	}
	if !retIP.Equal(environment.Coord{3, 3}) {
		t.Fatalf("return IP = %v, want [3 3]", retIP)
	}
	if !o.DV.Equal(environment.Coord{1, 0}) {
		t.Fatalf("DV not restored: %v", o.DV)
	}
	if o.PR[0] != 5 {
		t.Fatalf("PR[0] not restored: %d", o.PR[0])
	}
}

func TestOnceDeadNeverRevived(t *testing.T) {
	o, _ := Create(1, 0, 0, "p", environment.Coord{0, 0}, environment.Coord{1, 0}, 0, 0)
	o.Kill()
	if !o.IsDead {
		t.Fatal("Kill must set IsDead")
	}
}

func TestAdvanceIPWrapsThroughEnvironment(t *testing.T) {
	env, err := environment.New([]int32{10, 10}, environment.Toroidal)
	if err != nil {
		t.Fatal(err)
	}
	o, _ := Create(1, 0, 0, "p", environment.Coord{9, 0}, environment.Coord{1, 0}, 0, 0)
	if err := o.AdvanceIP(env); err != nil {
		t.Fatal(err)
	}
	if !o.IP.Equal(environment.Coord{0, 0}) {
		t.Fatalf("IP = %v, want wrap to [0 0]", o.IP)
	}
}
