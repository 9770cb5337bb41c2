package engine

// Shared position state machine and the generic rule variant

import "fmt"

// DefaultWarmup is the first scanned timestep of the rule engine.
const DefaultWarmup = 50

// SignalSource answers entry and exit questions for one timestep. Buy is
// asked only while flat, sell only while a position is open.
type SignalSource interface {
	Name() string
	Warmup() int
	BuySignal(t int) (bool, error)
	SellSignal(t int) (bool, error)
}

// Evaluator produces a complete report for one run.
type Evaluator interface {
	Evaluate() (*Report, error)
}

type LiquidationPolicy int

const (
	// LiquidateNone leaves a terminal position open and out of the metrics.
	LiquidateNone LiquidationPolicy = iota
	// LiquidateAtEnd closes a terminal position at the last price.
	LiquidateAtEnd
)

func (p LiquidationPolicy) String() string {
	if p == LiquidateAtEnd {
		return "force_exit"
	}
	return "none"
}

type Report struct {
	Strategy string
	Prices   PriceSeries
	Trades   []Trade
	// EquityCurve is realized cumulative pnl per timestep, len(Prices) long.
	EquityCurve []float64
	Metrics     Metrics
	// Open is the terminal position when it was not liquidated.
	Open      *PositionState
	ScanStart int
}

// Backtester drives a SignalSource over a price series.
type Backtester struct {
	Liquidation  LiquidationPolicy
	PositionSize float64
}

// Run scans t = src.Warmup() .. N-1 with at most one transition per step.
func (b Backtester) Run(prices PriceSeries, src SignalSource) (*Report, error) {
	size := b.PositionSize
	if size == 0 {
		size = 1
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: position size must be positive, got %g", ErrConfig, size)
	}
	start := src.Warmup()
	if start < 0 {
		start = 0
	}

	var (
		pos  PositionState
		perf Performance
		log  TradeLog
	)
	n := len(prices)
	curve := make([]float64, n)
	last := n - 1

	for t := 0; t < n; t++ {
		if t >= start {
			if !pos.Open {
				fire, err := src.BuySignal(t)
				if err != nil {
					return nil, fmt.Errorf("%s at t=%d: %w", src.Name(), t, err)
				}
				if fire {
					pos.OpenAt(t, prices[t], size)
					log.Append(Trade{T: t, Side: SideBuy, Price: prices[t]})
				}
			} else {
				fire, err := src.SellSignal(t)
				if err != nil {
					return nil, fmt.Errorf("%s at t=%d: %w", src.Name(), t, err)
				}
				if fire {
					pnl, _ := pos.CloseAt(prices[t])
					log.Append(Trade{T: t, Side: SideSell, Price: prices[t], PnL: pnl})
					perf.Realize(pnl)
				}
			}
		}
		// Liquidation is not a signal transition; it also closes a position
		// opened on the last bar.
		if t == last && pos.Open && b.Liquidation == LiquidateAtEnd {
			pnl, _ := pos.CloseAt(prices[t])
			log.Append(Trade{T: t, Side: SideSell, Price: prices[t], PnL: pnl, Forced: true})
			perf.Realize(pnl)
		}
		curve[t] = perf.Mark()
	}

	rep := &Report{
		Strategy:    src.Name(),
		Prices:      prices,
		Trades:      log.Trades,
		EquityCurve: curve,
		Metrics:     perf.Metrics(),
		ScanStart:   start,
	}
	if pos.Open {
		open := pos
		rep.Open = &open
	}
	return rep, nil
}

type RuleOptions struct {
	// Warmup is the minimum first scanned step; zero means DefaultWarmup.
	Warmup      int
	Liquidation LiquidationPolicy
	Validation  ValidationOptions
}

// RuleEngine is the generic variant: conjunctive buy and sell rule sets
// evaluated against a signal registry.
type RuleEngine struct {
	strategy Strategy
	reg      *Registry
	opts     RuleOptions
}

// NewRuleEngine validates the strategy against reg before any scan.
func NewRuleEngine(s Strategy, reg *Registry, opts RuleOptions) (*RuleEngine, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: nil registry", ErrConfig)
	}
	if err := ValidateStrategy(s, reg, opts.Validation); err != nil {
		return nil, err
	}
	return &RuleEngine{strategy: s, reg: reg, opts: opts}, nil
}

func (e *RuleEngine) Name() string {
	if e.strategy.Name != "" {
		return e.strategy.Name
	}
	return "rules"
}

// Warmup is the larger of the configured warm-up and the widest registered
// indicator window.
func (e *RuleEngine) Warmup() int {
	w := e.opts.Warmup
	if w <= 0 {
		w = DefaultWarmup
	}
	if bars := e.reg.WarmupBars(); bars > w {
		w = bars
	}
	return w
}

func (e *RuleEngine) BuySignal(t int) (bool, error) {
	return AllTrue(e.strategy.Buy, e.reg, t)
}

func (e *RuleEngine) SellSignal(t int) (bool, error) {
	return AllTrue(e.strategy.Sell, e.reg, t)
}

func (e *RuleEngine) Evaluate() (*Report, error) {
	bt := Backtester{Liquidation: e.opts.Liquidation, PositionSize: 1}
	return bt.Run(e.reg.Prices(), e)
}
