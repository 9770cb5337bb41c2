package runner

// Request normalization and translation into engine types

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"backtest-sandbox/proto"
	"backtest-sandbox/services/engine"
	"backtest-sandbox/strategies"
)

var validate = validator.New()

// invalidRequest reports a malformed envelope with field-level details.
func invalidRequest(err error) error {
	out := engine.ErrCodeInvalidRequest
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		out.Details = strings.Join(msgs, "; ")
		return out
	}
	out.Details = err.Error()
	return out
}

// Normalize fills defaults and validates the envelope structure in place.
// Semantic checks (regime, timesteps, signal names) are left to the engine.
func Normalize(req *proto.SimulateRequest) error {
	if err := defaults.Set(req); err != nil {
		return invalidRequest(err)
	}
	if err := validate.Struct(req); err != nil {
		return invalidRequest(err)
	}
	return nil
}

func NormalizeSweep(req *proto.SweepRequest) error {
	if err := defaults.Set(req); err != nil {
		return invalidRequest(err)
	}
	if err := validate.Struct(req); err != nil {
		return invalidRequest(err)
	}
	return Normalize(&req.Request)
}

// Hash is the hex SHA-256 of the normalized request.
func Hash(req *proto.SimulateRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", sha256.Sum256(b)), nil
}

func marketConfig(req *proto.SimulateRequest, maxTimesteps int) (engine.MarketConfig, error) {
	regime, err := engine.ParseRegime(req.Market)
	if err != nil {
		return engine.MarketConfig{}, err
	}
	cfg := engine.MarketConfig{Regime: regime, Timesteps: *req.Timesteps, Seed: *req.Seed}
	if err := cfg.Validate(); err != nil {
		return engine.MarketConfig{}, err
	}
	if maxTimesteps > 0 && cfg.Timesteps > maxTimesteps {
		return engine.MarketConfig{}, fmt.Errorf("%w: timesteps %d exceeds limit %d", engine.ErrConfig, cfg.Timesteps, maxTimesteps)
	}
	return cfg, nil
}

func variantOf(spec *proto.StrategySpec) string {
	if spec != nil && spec.Type == proto.StrategyCrossover {
		return proto.StrategyCrossover
	}
	return proto.StrategyRules
}

// checkVariantFields rejects fields that belong to the other variant, so a
// request does not silently run something other than what it describes.
func checkVariantFields(spec *proto.StrategySpec) error {
	if spec == nil {
		return nil
	}
	if variantOf(spec) == proto.StrategyCrossover {
		if len(spec.Buy) > 0 || len(spec.Sell) > 0 {
			return fmt.Errorf("%w: buy and sell rules do not apply to %s", engine.ErrConfig, proto.StrategyCrossover)
		}
		return nil
	}
	var extra []string
	if spec.ShortWindow > 0 {
		extra = append(extra, "short_window")
	}
	if spec.LongWindow > 0 {
		extra = append(extra, "long_window")
	}
	if spec.PositionSize > 0 {
		extra = append(extra, "position_size")
	}
	if len(extra) > 0 {
		return fmt.Errorf("%w: %s only apply to %s", engine.ErrConfig, strings.Join(extra, ", "), proto.StrategyCrossover)
	}
	return nil
}

// liquidationOf applies the force_exit override to a variant default.
func liquidationOf(spec *proto.StrategySpec, def engine.LiquidationPolicy) engine.LiquidationPolicy {
	if spec == nil || spec.ForceExit == nil {
		return def
	}
	if *spec.ForceExit {
		return engine.LiquidateAtEnd
	}
	return engine.LiquidateNone
}

func crossoverConfig(spec *proto.StrategySpec) strategies.CrossoverConfig {
	cfg := strategies.DefaultCrossoverConfig()
	if spec.ShortWindow > 0 {
		cfg.ShortWindow = spec.ShortWindow
	}
	if spec.LongWindow > 0 {
		cfg.LongWindow = spec.LongWindow
	}
	if spec.PositionSize > 0 {
		cfg.PositionSize = spec.PositionSize
	}
	cfg.Liquidation = liquidationOf(spec, engine.LiquidateAtEnd)
	return cfg
}

// ruleStrategy resolves signal names and operators. An unknown name fails
// here, before any computation.
func ruleStrategy(spec *proto.StrategySpec, tolerance float64) (engine.Strategy, error) {
	var s engine.Strategy
	if spec == nil {
		return s, nil
	}
	s.Name = spec.Name
	var err error
	if s.Buy, err = conditions("buy", spec.Buy, tolerance); err != nil {
		return s, err
	}
	if s.Sell, err = conditions("sell", spec.Sell, tolerance); err != nil {
		return s, err
	}
	return s, nil
}

func conditions(rule string, specs []proto.ConditionSpec, tolerance float64) ([]engine.Condition, error) {
	out := make([]engine.Condition, 0, len(specs))
	for i, cs := range specs {
		c, err := condition(cs, tolerance)
		if err != nil {
			return nil, engine.ValidationError{Rule: rule, Index: i, Err: err}
		}
		out = append(out, c)
	}
	return out, nil
}

func condition(cs proto.ConditionSpec, tolerance float64) (engine.Condition, error) {
	lhs, err := engine.ParseSignalID(cs.LHS)
	if err != nil {
		return engine.Condition{}, err
	}
	op, err := engine.ParseOperator(cs.Op)
	if err != nil {
		return engine.Condition{}, err
	}
	c := engine.Condition{LHS: lhs, Op: op, Tolerance: tolerance}
	switch cs.RHSType {
	case string(engine.OperandConstant):
		if cs.RHSValue == nil {
			return engine.Condition{}, fmt.Errorf("%w: rhs_value is required for a constant", engine.ErrConfig)
		}
		c.RHS = engine.Constant(*cs.RHSValue)
	case string(engine.OperandSignal):
		rhs, err := engine.ParseSignalID(cs.RHSSignal)
		if err != nil {
			return engine.Condition{}, err
		}
		c.RHS = engine.SignalRef(rhs)
	default:
		return engine.Condition{}, fmt.Errorf("%w: unknown rhs_type %q", engine.ErrConfig, cs.RHSType)
	}
	return c, nil
}
