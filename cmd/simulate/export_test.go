package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"golang.org/x/text/encoding/unicode"

	"backtest-sandbox/proto"
	"backtest-sandbox/services/engine"
)

func TestWriteTrades(t *testing.T) {
	pnl := 2.5
	resp := &proto.SimulateResponse{
		Trades: []proto.TradeRecord{
			{T: 50, Type: "BUY", Price: 101.123456},
			{T: 60, Type: "SELL", Price: 103.623456, PnL: &pnl, Forced: true},
		},
		Metrics: proto.MetricsRecord{TotalPnL: 2.5, NumTrades: 1, WinRate: 1, MaxDrawdown: 0},
	}
	var buf bytes.Buffer
	if err := writeTrades(&buf, resp); err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"t,type,price,pnl,forced",
		"50,BUY,101.1235,,false",
		"60,SELL,103.6235,2.50,true",
		"",
		"metric,value",
		"total_pnl,2.50",
		"num_trades,1",
		"win_rate,1.0000",
		"max_drawdown,0.00",
		"",
	}, "\n")
	if buf.String() != want {
		t.Fatalf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestDecodeRequest(t *testing.T) {
	req, err := decodeRequest(strings.NewReader(""))
	if err != nil || req.Market != "" {
		t.Fatalf("empty input: %+v, %v", req, err)
	}

	req, err = decodeRequest(strings.NewReader(`{"market": "Sideways", "timesteps": 100, "seed": 1}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.Market != "Sideways" || *req.Timesteps != 100 || *req.Seed != 1 {
		t.Fatalf("unexpected request %+v", req)
	}

	_, err = decodeRequest(strings.NewReader(`{"regime": "Sideways"}`))
	var apiErr engine.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestDecodeRequestUTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	data, err := enc.Bytes([]byte(`{"market": "MeanReverting", "seed": 7}`))
	if err != nil {
		t.Fatal(err)
	}
	req, err := decodeRequest(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if req.Market != "MeanReverting" || *req.Seed != 7 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestFlagConflict(t *testing.T) {
	tests := []struct {
		name   string
		sweep  int
		csv    string
		arrow  string
		replay string
		want   string
	}{
		{"simulate with exports", 0, "t.csv", "r.arrow", "", ""},
		{"replay with csv", 0, "t.csv", "", "in.arrow", ""},
		{"sweep alone", 5, "", "", "", ""},
		{"sweep with csv", 5, "t.csv", "", "", "-sweep cannot be combined with -csv"},
		{"sweep with arrow", 5, "", "r.arrow", "", "-sweep cannot be combined with -arrow"},
		{"sweep with replay", 5, "", "", "in.arrow", "-sweep cannot be combined with -replay"},
		{"replay with arrow", 0, "", "r.arrow", "in.arrow", "-replay cannot be combined with -arrow"},
	}
	for _, tt := range tests {
		err := flagConflict(tt.sweep, tt.csv, tt.arrow, tt.replay)
		if tt.want == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if err == nil || err.Error() != tt.want {
			t.Fatalf("%s: got %v, want %q", tt.name, err, tt.want)
		}
	}
}
