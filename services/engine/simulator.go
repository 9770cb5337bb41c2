package engine

// Seeded price path generator, one instance per run

import "math/rand"

const (
	BasePrice  = 100.0
	PriceFloor = 0.01

	trendDrift      = 0.05
	trendNoise      = 0.2
	sidewaysNoise   = 0.2
	reversionSpeed  = 0.05
	reversionNoise  = 0.3
	reversionTarget = BasePrice
)

// PriceSeries holds one price per timestep. Every value is strictly positive.
// It is produced once and only read afterwards.
type PriceSeries []float64

func (p PriceSeries) Last() float64 {
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1]
}

type MarketSimulator struct {
	cfg MarketConfig
	rng *rand.Rand
}

// NewMarketSimulator seeds a private generator from cfg.Seed. The generator
// is never shared, so concurrent simulators stay reproducible.
func NewMarketSimulator(cfg MarketConfig) (*MarketSimulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MarketSimulator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Run produces cfg.Timesteps prices starting at BasePrice, drawing exactly
// one noise sample per step.
func (s *MarketSimulator) Run() PriceSeries {
	series := make(PriceSeries, 0, s.cfg.Timesteps)
	price := BasePrice
	series = append(series, price)
	for t := 1; t < s.cfg.Timesteps; t++ {
		price = s.step(price)
		series = append(series, price)
	}
	return series
}

func (s *MarketSimulator) step(price float64) float64 {
	var next float64
	switch s.cfg.Regime {
	case RegimeTrending:
		next = price + trendDrift + s.noise(trendNoise)
	case RegimeMeanReverting:
		next = price + reversionSpeed*(reversionTarget-price) + s.noise(reversionNoise)
	default:
		next = price + s.noise(sidewaysNoise)
	}
	if next <= 0 {
		return PriceFloor
	}
	return next
}

func (s *MarketSimulator) noise(stddev float64) float64 {
	return s.rng.NormFloat64() * stddev
}

// GenerateSeries is a convenience for a single simulator run.
func GenerateSeries(cfg MarketConfig) (PriceSeries, error) {
	sim, err := NewMarketSimulator(cfg)
	if err != nil {
		return nil, err
	}
	return sim.Run(), nil
}
