// Moving-average crossover strategy.
//
// Computes a short and a long simple moving average inline at t and t-1 and
// trades the crosses: long on an upward cross, flat on a downward cross. A
// position still open on the last bar is liquidated at the last price by
// default.

package strategies

import (
	"fmt"

	"backtest-sandbox/services/engine"
)

type CrossoverConfig struct {
	ShortWindow  int
	LongWindow   int
	PositionSize float64
	Liquidation  engine.LiquidationPolicy
}

func DefaultCrossoverConfig() CrossoverConfig {
	return CrossoverConfig{
		ShortWindow:  5,
		LongWindow:   20,
		PositionSize: 1,
		Liquidation:  engine.LiquidateAtEnd,
	}
}

func (c CrossoverConfig) Validate() error {
	if c.ShortWindow <= 0 || c.LongWindow <= 0 {
		return fmt.Errorf("%w: crossover windows must be positive, got %d/%d", engine.ErrConfig, c.ShortWindow, c.LongWindow)
	}
	if c.ShortWindow >= c.LongWindow {
		return fmt.Errorf("%w: short window %d must be below long window %d", engine.ErrConfig, c.ShortWindow, c.LongWindow)
	}
	if c.PositionSize <= 0 {
		return fmt.Errorf("%w: position size must be positive, got %g", engine.ErrConfig, c.PositionSize)
	}
	return nil
}

// Crossover reads the price series directly and never touches a registry.
type Crossover struct {
	cfg    CrossoverConfig
	prices engine.PriceSeries
}

func NewCrossover(prices engine.PriceSeries, cfg CrossoverConfig) (*Crossover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Crossover{cfg: cfg, prices: prices}, nil
}

func (c *Crossover) Name() string { return "ma_crossover" }

// Warmup is the long window: both averages must exist at t-1.
func (c *Crossover) Warmup() int { return c.cfg.LongWindow }

type maPair struct{ short, long float64 }

func (c *Crossover) averages(t int) (prev, cur maPair) {
	prev = maPair{
		short: engine.MeanAt(c.prices, t-1, c.cfg.ShortWindow),
		long:  engine.MeanAt(c.prices, t-1, c.cfg.LongWindow),
	}
	cur = maPair{
		short: engine.MeanAt(c.prices, t, c.cfg.ShortWindow),
		long:  engine.MeanAt(c.prices, t, c.cfg.LongWindow),
	}
	return prev, cur
}

// BuySignal fires on an upward cross of the short average.
func (c *Crossover) BuySignal(t int) (bool, error) {
	prev, cur := c.averages(t)
	return prev.short <= prev.long && cur.short > cur.long, nil
}

// SellSignal fires on a downward cross of the short average.
func (c *Crossover) SellSignal(t int) (bool, error) {
	prev, cur := c.averages(t)
	return prev.short >= prev.long && cur.short < cur.long, nil
}

func (c *Crossover) Evaluate() (*engine.Report, error) {
	bt := engine.Backtester{Liquidation: c.cfg.Liquidation, PositionSize: c.cfg.PositionSize}
	rep, err := bt.Run(c.prices, c)
	if err != nil {
		return nil, err
	}
	rep.Metrics = PairedMetrics(rep.Trades, rep.EquityCurve)
	return rep, nil
}

// PairedMetrics derives metrics from the trade list and the per-step equity
// curve. Trades pair by position: (0,1), (2,3), ... A round trip wins when
// its sell price is above its buy price.
func PairedMetrics(trades []engine.Trade, curve []float64) engine.Metrics {
	m := engine.Metrics{NumTrades: len(trades) / 2}
	wins, pairs := 0, 0
	for i := 0; i+1 < len(trades); i += 2 {
		if trades[i+1].Price > trades[i].Price {
			wins++
		}
		pairs++
	}
	if pairs > 0 {
		m.WinRate = float64(wins) / float64(pairs)
	}
	if len(curve) > 0 {
		m.TotalPnL = curve[len(curve)-1]
	}
	m.MaxDrawdown = engine.MaxDrawdownOf(curve)
	return m
}
