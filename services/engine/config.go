package engine

// Run configuration: regime, length, seed

import (
	"fmt"
	"strings"
)

type Regime string

const (
	RegimeTrending      Regime = "Trending"
	RegimeSideways      Regime = "Sideways"
	RegimeMeanReverting Regime = "MeanReverting"
)

var regimeAliases = map[string]Regime{
	"trending":       RegimeTrending,
	"sideways":       RegimeSideways,
	"meanreverting":  RegimeMeanReverting,
	"mean_reverting": RegimeMeanReverting,
	"mean reverting": RegimeMeanReverting,
	"meanreversion":  RegimeMeanReverting,
	"mean reversion": RegimeMeanReverting,
}

// ParseRegime resolves a regime name case-insensitively.
func ParseRegime(name string) (Regime, error) {
	if r, ok := regimeAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown market regime %q", ErrConfig, name)
}

// MarketConfig is immutable per run and passed by value.
type MarketConfig struct {
	Regime    Regime
	Timesteps int
	Seed      int64
}

func (c MarketConfig) Validate() error {
	switch c.Regime {
	case RegimeTrending, RegimeSideways, RegimeMeanReverting:
	default:
		return fmt.Errorf("%w: unknown market regime %q", ErrConfig, c.Regime)
	}
	if c.Timesteps <= 0 {
		return fmt.Errorf("%w: timesteps must be positive, got %d", ErrConfig, c.Timesteps)
	}
	return nil
}
