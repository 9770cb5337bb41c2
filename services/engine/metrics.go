package engine

import "github.com/shopspring/decimal"

// Output precision of rounded metrics.
const (
	MoneyPlaces = 2
	RatioPlaces = 4
)

type Metrics struct {
	TotalPnL    float64
	NumTrades   int
	WinRate     float64
	MaxDrawdown float64
}

// Rounded fixes pnl and drawdown to MoneyPlaces and win rate to RatioPlaces.
func (m Metrics) Rounded() Metrics {
	return Metrics{
		TotalPnL:    roundTo(m.TotalPnL, MoneyPlaces),
		NumTrades:   m.NumTrades,
		WinRate:     roundTo(m.WinRate, RatioPlaces),
		MaxDrawdown: roundTo(m.MaxDrawdown, MoneyPlaces),
	}
}

func roundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// Performance accumulates realized equity incrementally. The running peak
// starts at zero equity.
type Performance struct {
	equity      float64
	peak        float64
	maxDrawdown float64
	roundTrips  int
	wins        int
}

// Realize books one closed round trip.
func (p *Performance) Realize(pnl float64) {
	p.equity += pnl
	p.roundTrips++
	if pnl > 0 {
		p.wins++
	}
	p.Mark()
}

// Mark samples the realized equity curve and returns its current value.
func (p *Performance) Mark() float64 {
	if p.equity > p.peak {
		p.peak = p.equity
	}
	if dd := p.peak - p.equity; dd > p.maxDrawdown {
		p.maxDrawdown = dd
	}
	return p.equity
}

func (p *Performance) Metrics() Metrics {
	m := Metrics{
		TotalPnL:    p.equity,
		NumTrades:   p.roundTrips,
		MaxDrawdown: p.maxDrawdown,
	}
	if p.roundTrips > 0 {
		m.WinRate = float64(p.wins) / float64(p.roundTrips)
	}
	return m
}

// MaxDrawdownOf is the largest running-peak-minus-current over curve, with
// the peak starting at zero.
func MaxDrawdownOf(curve []float64) float64 {
	peak, maxDD := 0.0, 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if dd := peak - v; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
