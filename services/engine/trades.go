package engine

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is one fill. PnL is set on sells only.
type Trade struct {
	T      int
	Side   Side
	Price  float64
	PnL    float64
	Forced bool
}

type TradeLog struct {
	Trades []Trade
}

func (l *TradeLog) Append(tr Trade) { l.Trades = append(l.Trades, tr) }
