package engine

// Up-front strategy validation, run before any timestep is scanned

import "fmt"

// ValidationError locates the offending condition. It unwraps to the
// taxonomy sentinel so errors.Is keeps working.
type ValidationError struct {
	Rule      string
	Index     int
	Condition Condition
	Err       error
}

func (e ValidationError) Error() string {
	if e.Condition.LHS == "" {
		return fmt.Sprintf("%s rule %d: %v", e.Rule, e.Index, e.Err)
	}
	return fmt.Sprintf("%s rule %d (%s): %v", e.Rule, e.Index, e.Condition, e.Err)
}

func (e ValidationError) Unwrap() error { return e.Err }

type ValidationOptions struct {
	EnableEquality bool
}

// ValidateStrategy checks every operator and every referenced signal
// against the registry.
func ValidateStrategy(s Strategy, reg *Registry, opts ValidationOptions) error {
	sets := []struct {
		name  string
		conds []Condition
	}{
		{"buy", s.Buy},
		{"sell", s.Sell},
	}
	for _, set := range sets {
		for i, c := range set.conds {
			if err := validateCondition(c, reg, opts); err != nil {
				return ValidationError{Rule: set.name, Index: i, Condition: c, Err: err}
			}
		}
	}
	return nil
}

func validateCondition(c Condition, reg *Registry, opts ValidationOptions) error {
	switch c.Op {
	case OpGreater, OpLess:
	case OpEqual:
		if !opts.EnableEquality {
			return fmt.Errorf("%w: operator %q is not enabled", ErrConfig, c.Op)
		}
	default:
		return fmt.Errorf("%w: unsupported operator %q", ErrConfig, c.Op)
	}

	if _, err := reg.Lookup(c.LHS); err != nil {
		return err
	}
	switch c.RHS.Kind {
	case OperandConstant:
		return nil
	case OperandSignal:
		_, err := reg.Lookup(c.RHS.Signal)
		return err
	}
	return fmt.Errorf("%w: unknown operand kind %q", ErrConfig, c.RHS.Kind)
}
