package engine

import (
	"fmt"
	"math"
	"strings"
)

type Operator string

const (
	OpGreater Operator = ">"
	OpLess    Operator = "<"
	// OpEqual compares within an absolute tolerance. Only accepted when
	// equality is enabled for the run.
	OpEqual Operator = "="
)

// DefaultEqualityTolerance is the absolute tolerance of OpEqual.
const DefaultEqualityTolerance = 1e-4

func ParseOperator(s string) (Operator, error) {
	switch strings.TrimSpace(s) {
	case ">":
		return OpGreater, nil
	case "<":
		return OpLess, nil
	case "=", "==":
		return OpEqual, nil
	}
	return "", fmt.Errorf("%w: unsupported operator %q", ErrConfig, s)
}

type OperandKind string

const (
	OperandConstant OperandKind = "CONSTANT"
	OperandSignal   OperandKind = "SIGNAL"
)

// Operand is the right-hand side of a condition: a literal or a signal.
type Operand struct {
	Kind   OperandKind
	Value  float64
	Signal SignalID
}

func Constant(v float64) Operand { return Operand{Kind: OperandConstant, Value: v} }

func SignalRef(id SignalID) Operand { return Operand{Kind: OperandSignal, Signal: id} }

func (o Operand) resolve(reg *Registry, t int) (float64, error) {
	switch o.Kind {
	case OperandConstant:
		return o.Value, nil
	case OperandSignal:
		return reg.Value(o.Signal, t)
	}
	return 0, fmt.Errorf("%w: unknown operand kind %q", ErrConfig, o.Kind)
}

func (o Operand) String() string {
	if o.Kind == OperandSignal {
		return string(o.Signal)
	}
	return fmt.Sprintf("%g", o.Value)
}

// Condition is a single comparison evaluated at one timestep.
type Condition struct {
	LHS SignalID
	Op  Operator
	RHS Operand
	// Tolerance applies to OpEqual only; zero means DefaultEqualityTolerance.
	Tolerance float64
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.LHS, c.Op, c.RHS)
}

// Evaluate compares both operands at t. Comparisons are strict.
func (c Condition) Evaluate(reg *Registry, t int) (bool, error) {
	left, err := reg.Value(c.LHS, t)
	if err != nil {
		return false, err
	}
	right, err := c.RHS.resolve(reg, t)
	if err != nil {
		return false, err
	}

	switch c.Op {
	case OpGreater:
		return left > right, nil
	case OpLess:
		return left < right, nil
	case OpEqual:
		tol := c.Tolerance
		if tol <= 0 {
			tol = DefaultEqualityTolerance
		}
		return math.Abs(left-right) < tol, nil
	}
	return false, fmt.Errorf("%w: unsupported operator %q", ErrConfig, c.Op)
}

// AllTrue is the conjunction of conds at t. An empty list never fires.
func AllTrue(conds []Condition, reg *Registry, t int) (bool, error) {
	if len(conds) == 0 {
		return false, nil
	}
	for _, c := range conds {
		ok, err := c.Evaluate(reg, t)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Strategy pairs buy and sell rule sets.
type Strategy struct {
	Name string
	Buy  []Condition
	Sell []Condition
}

// Signals lists every identifier the strategy reads, without duplicates.
func (s Strategy) Signals() []SignalID {
	seen := make(map[SignalID]bool)
	var out []SignalID
	add := func(id SignalID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, set := range [][]Condition{s.Buy, s.Sell} {
		for _, c := range set {
			add(c.LHS)
			if c.RHS.Kind == OperandSignal {
				add(c.RHS.Signal)
			}
		}
	}
	return out
}
