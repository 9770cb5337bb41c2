package proto

import "backtest-sandbox/services/engine"

// SimulateRequest is the input envelope. Absent fields take the struct-tag
// defaults. Timesteps and seed are pointers so that an explicit zero is kept
// and judged by the engine.
type SimulateRequest struct {
	Market    string        `json:"market" default:"Trending"`
	Timesteps *int          `json:"timesteps,omitempty" default:"1000"`
	Seed      *int64        `json:"seed,omitempty" default:"42"`
	Strategy  *StrategySpec `json:"strategy,omitempty"`
}

const (
	StrategyRules     = "rules"
	StrategyCrossover = "ma_crossover"
)

type StrategySpec struct {
	Type string          `json:"type,omitempty" validate:"omitempty,oneof=rules ma_crossover"`
	Name string          `json:"name,omitempty"`
	Buy  []ConditionSpec `json:"buy,omitempty" validate:"dive"`
	Sell []ConditionSpec `json:"sell,omitempty" validate:"dive"`

	ShortWindow  int     `json:"short_window,omitempty" validate:"gte=0"`
	LongWindow   int     `json:"long_window,omitempty" validate:"gte=0"`
	PositionSize float64 `json:"position_size,omitempty" validate:"gte=0"`

	// ForceExit overrides the variant's end-of-run liquidation default.
	ForceExit *bool `json:"force_exit,omitempty"`
}

type ConditionSpec struct {
	LHS       string   `json:"lhs" validate:"required"`
	Op        string   `json:"op" validate:"required"`
	RHSType   string   `json:"rhs_type" validate:"required,oneof=CONSTANT SIGNAL"`
	RHSValue  *float64 `json:"rhs_value,omitempty" validate:"required_if=RHSType CONSTANT"`
	RHSSignal string   `json:"rhs_signal,omitempty" validate:"required_if=RHSType SIGNAL"`
}

type SimulateResponse struct {
	Prices      []float64     `json:"prices"`
	Trades      []TradeRecord `json:"trades"`
	Metrics     MetricsRecord `json:"metrics"`
	EquityCurve []float64     `json:"equity_curve,omitempty"`
	// OpenPosition is the position still held at the last timestep, if any.
	// It never counts toward Metrics.
	OpenPosition *OpenPositionRecord `json:"open_position,omitempty"`
	Manifest     *RunManifest        `json:"manifest,omitempty"`
	Error        *engine.APIError    `json:"error,omitempty"`
}

type TradeRecord struct {
	T      int      `json:"t"`
	Type   string   `json:"type"`
	Price  float64  `json:"price"`
	PnL    *float64 `json:"pnl,omitempty"`
	Forced bool     `json:"forced,omitempty"`
}

type OpenPositionRecord struct {
	EntryT     int     `json:"entry_t"`
	Entry      float64 `json:"entry"`
	Size       float64 `json:"size"`
	Unrealized float64 `json:"unrealized_pnl"`
}

type MetricsRecord struct {
	TotalPnL    float64 `json:"total_pnl"`
	NumTrades   int     `json:"num_trades"`
	WinRate     float64 `json:"win_rate"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

type RunManifest struct {
	RunID         string `json:"run_id"`
	ConfigHash    string `json:"config_hash"`
	Variant       string `json:"variant"`
	Liquidation   string `json:"liquidation"`
	ScanStart     int    `json:"scan_start"`
	EngineVersion string `json:"engine_version"`
	CreatedAt     int64  `json:"created_at"`
	Cached        bool   `json:"cached,omitempty"`
	// Replayed marks a run over an imported price path.
	Replayed bool `json:"replayed,omitempty"`
}

type SweepRequest struct {
	Request SimulateRequest `json:"request"`
	Runs    *int            `json:"runs" default:"10" validate:"gt=0,lte=1000"`
}

type SweepRun struct {
	Seed    int64         `json:"seed"`
	RunID   string        `json:"run_id"`
	Metrics MetricsRecord `json:"metrics"`
}

type SweepAggregate struct {
	Runs            int     `json:"runs"`
	MeanTotalPnL    float64 `json:"mean_total_pnl"`
	MeanMaxDrawdown float64 `json:"mean_max_drawdown"`
	MeanWinRate     float64 `json:"mean_win_rate"`
	BestSeed        int64   `json:"best_seed"`
	WorstSeed       int64   `json:"worst_seed"`
}

type SweepResponse struct {
	Runs      []SweepRun       `json:"runs"`
	Aggregate SweepAggregate   `json:"aggregate"`
	Error     *engine.APIError `json:"error,omitempty"`
}

// ErrorResponse wraps a failure in the output envelope.
func ErrorResponse(err error) *SimulateResponse {
	apiErr := engine.ToAPIError(err)
	return &SimulateResponse{Error: &apiErr}
}
