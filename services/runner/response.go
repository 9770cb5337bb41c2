package runner

import (
	"backtest-sandbox/proto"
	"backtest-sandbox/services/engine"
)

// NewResponse renders a report into the output envelope with rounded metrics.
func NewResponse(rep *engine.Report, manifest *proto.RunManifest) *proto.SimulateResponse {
	m := rep.Metrics.Rounded()
	resp := &proto.SimulateResponse{
		Prices: append([]float64(nil), rep.Prices...),
		Trades: make([]proto.TradeRecord, 0, len(rep.Trades)),
		Metrics: proto.MetricsRecord{
			TotalPnL:    m.TotalPnL,
			NumTrades:   m.NumTrades,
			WinRate:     m.WinRate,
			MaxDrawdown: m.MaxDrawdown,
		},
		EquityCurve: rep.EquityCurve,
		Manifest:    manifest,
	}
	if rep.Open != nil {
		resp.OpenPosition = &proto.OpenPositionRecord{
			EntryT:     rep.Open.EntryT,
			Entry:      rep.Open.Entry,
			Size:       rep.Open.Size,
			Unrealized: roundMoney(rep.Open.Unrealized(rep.Prices.Last())),
		}
	}
	for _, tr := range rep.Trades {
		rec := proto.TradeRecord{T: tr.T, Type: string(tr.Side), Price: tr.Price, Forced: tr.Forced}
		if tr.Side == engine.SideSell {
			pnl := tr.PnL
			rec.PnL = &pnl
		}
		resp.Trades = append(resp.Trades, rec)
	}
	return resp
}

func roundMoney(v float64) float64 {
	return engine.Metrics{TotalPnL: v}.Rounded().TotalPnL
}

func roundRatio(v float64) float64 {
	return engine.Metrics{WinRate: v}.Rounded().WinRate
}
