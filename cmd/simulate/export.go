package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"backtest-sandbox/proto"
	"backtest-sandbox/services/engine"
)

// requestError wraps a decode failure as an invalid request.
func requestError(err error) error {
	apiErr := engine.ErrCodeInvalidRequest
	apiErr.Details = err.Error()
	return apiErr
}

func writeTradesCSV(path string, resp *proto.SimulateResponse) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := writeTrades(f, resp); err != nil {
		return err
	}
	return f.Close()
}

// writeTrades renders the trade log followed by a blank line and the
// metrics summary. Prices keep four places, money two.
func writeTrades(w io.Writer, resp *proto.SimulateResponse) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"t", "type", "price", "pnl", "forced"}); err != nil {
		return err
	}
	for _, tr := range resp.Trades {
		pnl := ""
		if tr.PnL != nil {
			pnl = decimal.NewFromFloat(*tr.PnL).StringFixed(engine.MoneyPlaces)
		}
		row := []string{
			strconv.Itoa(tr.T),
			tr.Type,
			decimal.NewFromFloat(tr.Price).StringFixed(4),
			pnl,
			strconv.FormatBool(tr.Forced),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	m := resp.Metrics
	summary := [][]string{
		{},
		{"metric", "value"},
		{"total_pnl", decimal.NewFromFloat(m.TotalPnL).StringFixed(engine.MoneyPlaces)},
		{"num_trades", strconv.Itoa(m.NumTrades)},
		{"win_rate", decimal.NewFromFloat(m.WinRate).StringFixed(engine.RatioPlaces)},
		{"max_drawdown", decimal.NewFromFloat(m.MaxDrawdown).StringFixed(engine.MoneyPlaces)},
	}
	if err := cw.WriteAll(summary); err != nil {
		return err
	}
	return cw.Error()
}
