package engine

// Signal registry and catalog. Each computation inserts or replaces one
// entry; derived signals read entries computed before them.

import (
	"fmt"
	"sort"
	"strings"
)

// SignalID keys the registry. The set is open: new identifiers need no
// change to the condition evaluator.
type SignalID string

const (
	SignalPrice        SignalID = "Price"
	SignalShortMA      SignalID = "ShortMA"
	SignalLongMA       SignalID = "LongMA"
	SignalRSI          SignalID = "RSI"
	SignalVolatility   SignalID = "Volatility"
	SignalVolatilityMA SignalID = "VolatilityMA"
)

var signalAliases = map[string]SignalID{
	"price":         SignalPrice,
	"ma":            SignalShortMA,
	"sma":           SignalShortMA,
	"shortma":       SignalShortMA,
	"ma_short":      SignalShortMA,
	"longma":        SignalLongMA,
	"ma_long":       SignalLongMA,
	"rsi":           SignalRSI,
	"volatility":    SignalVolatility,
	"volatilityma":  SignalVolatilityMA,
	"volatility_ma": SignalVolatilityMA,
}

// ParseSignalID resolves a wire name to a catalog identifier.
func ParseSignalID(name string) (SignalID, error) {
	if id, ok := signalAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSignal, name)
}

// KnownSignals lists the catalog identifiers in a stable order.
func KnownSignals() []SignalID {
	return []SignalID{SignalPrice, SignalShortMA, SignalLongMA, SignalRSI, SignalVolatility, SignalVolatilityMA}
}

// Signal is aligned to the price series; positions before warm-up hold Sentinel.
type Signal []float64

// IndicatorNode records how a registry entry was produced.
type IndicatorNode struct {
	ID     SignalID
	Kind   string
	Source SignalID
	Window int
}

type Registry struct {
	prices  PriceSeries
	signals map[SignalID]Signal
	nodes   map[SignalID]IndicatorNode
}

// NewRegistry registers the price series itself under SignalPrice.
func NewRegistry(prices PriceSeries) *Registry {
	r := &Registry{
		prices:  prices,
		signals: make(map[SignalID]Signal),
		nodes:   make(map[SignalID]IndicatorNode),
	}
	r.put(IndicatorNode{ID: SignalPrice, Kind: "price"}, Signal(prices))
	return r
}

func (r *Registry) put(node IndicatorNode, s Signal) {
	r.signals[node.ID] = s
	r.nodes[node.ID] = node
}

func (r *Registry) Prices() PriceSeries { return r.prices }

func (r *Registry) Len() int { return len(r.prices) }

func (r *Registry) Has(id SignalID) bool {
	_, ok := r.signals[id]
	return ok
}

func (r *Registry) Lookup(id SignalID) (Signal, error) {
	s, ok := r.signals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSignal, id)
	}
	return s, nil
}

// Value reads one position of a registered signal.
func (r *Registry) Value(id SignalID, t int) (float64, error) {
	s, err := r.Lookup(id)
	if err != nil {
		return 0, err
	}
	if t < 0 || t >= len(s) {
		return 0, fmt.Errorf("%w: index %d outside %s of length %d", ErrConfig, t, id, len(s))
	}
	return s[t], nil
}

// IDs returns the registered identifiers sorted by name.
func (r *Registry) IDs() []SignalID {
	ids := make([]SignalID, 0, len(r.signals))
	for id := range r.signals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Node reports how id was computed.
func (r *Registry) Node(id SignalID) (IndicatorNode, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// WarmupBars is the largest window of any registered indicator.
func (r *Registry) WarmupBars() int {
	max := 0
	for _, n := range r.nodes {
		if n.Window > max {
			max = n.Window
		}
	}
	return max
}

func checkWindow(kind string, window int) error {
	if window <= 0 {
		return fmt.Errorf("%w: %s window must be positive, got %d", ErrConfig, kind, window)
	}
	return nil
}

// ComputeMovingAverage stores the price SMA under dest.
func (r *Registry) ComputeMovingAverage(dest SignalID, window int) error {
	return r.ComputeDerivedMA(SignalPrice, dest, window)
}

func (r *Registry) ComputeRSI(period int) error {
	if err := checkWindow("rsi", period); err != nil {
		return err
	}
	r.put(IndicatorNode{ID: SignalRSI, Kind: "rsi", Source: SignalPrice, Window: period},
		CalculateRSI(r.prices, period))
	return nil
}

func (r *Registry) ComputeVolatility(window int) error {
	if err := checkWindow("volatility", window); err != nil {
		return err
	}
	r.put(IndicatorNode{ID: SignalVolatility, Kind: "volatility", Source: SignalPrice, Window: window},
		CalculateVolatility(r.prices, window))
	return nil
}

// ComputeDerivedMA stores the rolling mean of an already registered source
// under dest. Sentinel positions of the source take part in the mean.
func (r *Registry) ComputeDerivedMA(src, dest SignalID, window int) error {
	if err := checkWindow("moving average", window); err != nil {
		return err
	}
	if dest == SignalPrice {
		return fmt.Errorf("%w: cannot overwrite %s", ErrConfig, SignalPrice)
	}
	source, err := r.Lookup(src)
	if err != nil {
		return err
	}
	r.put(IndicatorNode{ID: dest, Kind: "sma", Source: src, Window: window},
		CalculateSMA(source, window))
	return nil
}

// CatalogSpec selects the windows of the standard catalog. A zero window
// leaves that signal out.
type CatalogSpec struct {
	RSIPeriod          int
	VolatilityWindow   int
	ShortMA            int
	LongMA             int
	VolatilityMAWindow int
}

func DefaultCatalogSpec() CatalogSpec {
	return CatalogSpec{
		RSIPeriod:          14,
		VolatilityWindow:   20,
		ShortMA:            20,
		LongMA:             50,
		VolatilityMAWindow: 50,
	}
}

// BuildCatalog computes the standard signals in dependency order.
func BuildCatalog(prices PriceSeries, spec CatalogSpec) (*Registry, error) {
	r := NewRegistry(prices)
	steps := []struct {
		window int
		run    func() error
	}{
		{spec.RSIPeriod, func() error { return r.ComputeRSI(spec.RSIPeriod) }},
		{spec.VolatilityWindow, func() error { return r.ComputeVolatility(spec.VolatilityWindow) }},
		{spec.ShortMA, func() error { return r.ComputeMovingAverage(SignalShortMA, spec.ShortMA) }},
		{spec.LongMA, func() error { return r.ComputeMovingAverage(SignalLongMA, spec.LongMA) }},
		{spec.VolatilityMAWindow, func() error {
			return r.ComputeDerivedMA(SignalVolatility, SignalVolatilityMA, spec.VolatilityMAWindow)
		}},
	}
	for _, step := range steps {
		if step.window == 0 {
			continue
		}
		if err := step.run(); err != nil {
			return nil, err
		}
	}
	return r, nil
}
