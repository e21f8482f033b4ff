package isa

// ThermoPolicy is the set of energy costs and gains applied while an
// instruction executes: Step charges FailurePenalty or StepCost, and the
// EAT and SPAWN instructions use EatGain and SpawnCost. It is deliberately a flat table rather than a
// strategy interface; tunable
// behavior is expressed as a plain config struct rather
// than polymorphism for what is, in practice, one implementation.
type ThermoPolicy struct {
	// FailurePenalty is the energy cost applied when an instruction sets
	// InstructionFailed (unknown opcode, NO_INSTRUCTION, stack over/underflow,
	// divide by zero, bounds, type mismatch).
	FailurePenalty int32
	// StepCost is the baseline energy cost of any successfully executed
	// instruction.
	StepCost int32
	// EatGain is the energy credited to an organism executing EAT against
	// an ENERGY molecule.
	EatGain int32
	// SpawnCost is the energy debited from a parent on SPAWN.
	SpawnCost int32
}

// DefaultThermoPolicy is a reasonable, non-authoritative starting point;
// simulations are expected to tune this via config.
var DefaultThermoPolicy = ThermoPolicy{
	FailurePenalty: 5,
	StepCost:       1,
	EatGain:        10,
	SpawnCost:      50,
}
