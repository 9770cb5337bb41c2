package engine

import (
	"errors"
	"testing"
)

func TestGenerateSeriesDeterministic(t *testing.T) {
	cfg := MarketConfig{Regime: RegimeTrending, Timesteps: 500, Seed: 7}
	a, err := GenerateSeries(cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := GenerateSeries(cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(a) != 500 || len(b) != 500 {
		t.Fatalf("expected 500 prices, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("price %d differs: %v vs %v", i, a[i], b[i])
		}
	}
	if a[0] != BasePrice {
		t.Fatalf("expected first price %v, got %v", BasePrice, a[0])
	}
}

func TestGenerateSeriesSeedMatters(t *testing.T) {
	a, _ := GenerateSeries(MarketConfig{Regime: RegimeSideways, Timesteps: 50, Seed: 1})
	b, _ := GenerateSeries(MarketConfig{Regime: RegimeSideways, Timesteps: 50, Seed: 2})
	same := true
	for i := 1; i < len(a); i++ {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical series")
	}
}

func TestGenerateSeriesPositive(t *testing.T) {
	for _, regime := range []Regime{RegimeTrending, RegimeSideways, RegimeMeanReverting} {
		for seed := int64(0); seed < 20; seed++ {
			prices, err := GenerateSeries(MarketConfig{Regime: regime, Timesteps: 2000, Seed: seed})
			if err != nil {
				t.Fatalf("%s/%d: %v", regime, seed, err)
			}
			for i, p := range prices {
				if p <= 0 {
					t.Fatalf("%s/%d: price[%d] = %v", regime, seed, i, p)
				}
			}
		}
	}
}

func TestSimulatorFloorClamp(t *testing.T) {
	sim, err := NewMarketSimulator(MarketConfig{Regime: RegimeSideways, Timesteps: 2, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := sim.step(-5); got != PriceFloor {
		t.Fatalf("expected floor %v, got %v", PriceFloor, got)
	}
}

func TestMarketConfigValidate(t *testing.T) {
	cases := []MarketConfig{
		{Regime: RegimeTrending, Timesteps: 0},
		{Regime: RegimeTrending, Timesteps: -3},
		{Regime: "Crash", Timesteps: 10},
	}
	for _, cfg := range cases {
		if _, err := NewMarketSimulator(cfg); !errors.Is(err, ErrConfig) {
			t.Fatalf("%+v: expected config error, got %v", cfg, err)
		}
	}
}

func TestParseRegime(t *testing.T) {
	cases := map[string]Regime{
		"Trending":       RegimeTrending,
		"sideways":       RegimeSideways,
		"MeanReverting":  RegimeMeanReverting,
		"Mean Reversion": RegimeMeanReverting,
		"MeanReversion":  RegimeMeanReverting,
	}
	for in, want := range cases {
		got, err := ParseRegime(in)
		if err != nil || got != want {
			t.Fatalf("ParseRegime(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseRegime("Bubble"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
