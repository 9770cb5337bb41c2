package runner

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"backtest-sandbox/proto"
	"backtest-sandbox/services/cache"
	"backtest-sandbox/services/clickhouse"
	"backtest-sandbox/services/config"
	"backtest-sandbox/services/engine"
	"backtest-sandbox/services/monitoring"
)

func intPtr(v int) *int           { return &v }
func seedPtr(v int64) *int64      { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

func newRunner(opts ...Option) *Runner {
	return New(config.Default().Engine, opts...)
}

func rsiStrategy() *proto.StrategySpec {
	return &proto.StrategySpec{
		Buy:  []proto.ConditionSpec{{LHS: "RSI", Op: "<", RHSType: "CONSTANT", RHSValue: floatPtr(30)}},
		Sell: []proto.ConditionSpec{{LHS: "RSI", Op: ">", RHSType: "CONSTANT", RHSValue: floatPtr(70)}},
	}
}

func errCode(err error) string { return engine.ToAPIError(err).Code }

func TestSimulateEmptyStrategySideways(t *testing.T) {
	resp, err := newRunner().Simulate(context.Background(), &proto.SimulateRequest{
		Market: "Sideways", Timesteps: intPtr(100), Seed: seedPtr(1),
	})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(resp.Prices) != 100 || len(resp.Trades) != 0 {
		t.Fatalf("got %d prices and %d trades", len(resp.Prices), len(resp.Trades))
	}
	if resp.Metrics != (proto.MetricsRecord{}) {
		t.Fatalf("expected zero metrics, got %+v", resp.Metrics)
	}
	if resp.Manifest == nil || len(resp.Manifest.ConfigHash) != 64 || resp.Manifest.Variant != proto.StrategyRules {
		t.Fatalf("unexpected manifest %+v", resp.Manifest)
	}
}

func TestSimulateAppliesDefaults(t *testing.T) {
	req := &proto.SimulateRequest{}
	resp, err := newRunner().Simulate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if req.Market != "Trending" || *req.Timesteps != 1000 || *req.Seed != 42 {
		t.Fatalf("defaults not applied: %+v", req)
	}
	if len(resp.Prices) != 1000 {
		t.Fatalf("expected 1000 prices, got %d", len(resp.Prices))
	}
}

func TestSimulateDeterministic(t *testing.T) {
	r := newRunner()
	mk := func() *proto.SimulateRequest {
		return &proto.SimulateRequest{Market: "Mean Reversion", Timesteps: intPtr(1000), Seed: seedPtr(42), Strategy: rsiStrategy()}
	}
	a, err := r.Simulate(context.Background(), mk())
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Simulate(context.Background(), mk())
	if err != nil {
		t.Fatal(err)
	}
	if a.Metrics != b.Metrics || len(a.Trades) != len(b.Trades) {
		t.Fatalf("runs differ: %+v vs %+v", a.Metrics, b.Metrics)
	}
	for i := range a.Prices {
		if a.Prices[i] != b.Prices[i] {
			t.Fatalf("price %d differs", i)
		}
	}
	if a.Manifest.ConfigHash != b.Manifest.ConfigHash || a.Manifest.RunID == b.Manifest.RunID {
		t.Fatal("expected equal hashes and distinct run ids")
	}
}

func TestSimulateRuleEnvelope(t *testing.T) {
	resp, err := newRunner().Simulate(context.Background(), &proto.SimulateRequest{
		Market: "MeanReverting", Timesteps: intPtr(2000), Seed: seedPtr(7), Strategy: rsiStrategy(),
	})
	if err != nil {
		t.Fatal(err)
	}
	sum, sells := 0.0, 0
	for i, tr := range resp.Trades {
		want := "BUY"
		if i%2 == 1 {
			want = "SELL"
		}
		if tr.Type != want {
			t.Fatalf("trade %d is %s, want %s", i, tr.Type, want)
		}
		if tr.T < engine.DefaultWarmup {
			t.Fatalf("trade %d at t=%d inside warm-up", i, tr.T)
		}
		if tr.Type == "SELL" {
			if tr.PnL == nil {
				t.Fatalf("sell %d without pnl", i)
			}
			sum += *tr.PnL
			sells++
		} else if tr.PnL != nil {
			t.Fatalf("buy %d carries pnl", i)
		}
	}
	if resp.Metrics.NumTrades != sells {
		t.Fatalf("num_trades %d, sells %d", resp.Metrics.NumTrades, sells)
	}
	if math.Abs(resp.Metrics.TotalPnL-sum) > 0.005+1e-9 {
		t.Fatalf("total_pnl %v, sum of sells %v", resp.Metrics.TotalPnL, sum)
	}
	if resp.Metrics.MaxDrawdown < 0 {
		t.Fatalf("negative drawdown %v", resp.Metrics.MaxDrawdown)
	}
	if len(resp.EquityCurve) != 2000 {
		t.Fatalf("equity curve has %d points", len(resp.EquityCurve))
	}
}

func TestSimulateErrors(t *testing.T) {
	noRSI := config.Default().Engine
	noRSI.RSIPeriod = 0

	tests := []struct {
		name   string
		runner *Runner
		req    *proto.SimulateRequest
		code   string
	}{
		{"unknown market", newRunner(), &proto.SimulateRequest{Market: "Bubble"}, "CONFIG_ERROR"},
		{"zero timesteps", newRunner(), &proto.SimulateRequest{Timesteps: intPtr(0)}, "CONFIG_ERROR"},
		{"over limit", newRunner(), &proto.SimulateRequest{Timesteps: intPtr(200000)}, "CONFIG_ERROR"},
		{"unknown signal", newRunner(), &proto.SimulateRequest{Strategy: &proto.StrategySpec{
			Buy: []proto.ConditionSpec{{LHS: "MACD", Op: ">", RHSType: "CONSTANT", RHSValue: floatPtr(0)}},
		}}, "UNKNOWN_SIGNAL"},
		{"missing signal", New(noRSI), &proto.SimulateRequest{Strategy: rsiStrategy()}, "MISSING_SIGNAL"},
		{"equality disabled", newRunner(), &proto.SimulateRequest{Strategy: &proto.StrategySpec{
			Buy: []proto.ConditionSpec{{LHS: "Price", Op: "=", RHSType: "CONSTANT", RHSValue: floatPtr(100)}},
		}}, "CONFIG_ERROR"},
		{"bad rhs type", newRunner(), &proto.SimulateRequest{Strategy: &proto.StrategySpec{
			Buy: []proto.ConditionSpec{{LHS: "Price", Op: ">", RHSType: "CONST", RHSValue: floatPtr(1)}},
		}}, "INVALID_REQUEST"},
		{"constant without value", newRunner(), &proto.SimulateRequest{Strategy: &proto.StrategySpec{
			Buy: []proto.ConditionSpec{{LHS: "Price", Op: ">", RHSType: "CONSTANT"}},
		}}, "INVALID_REQUEST"},
		{"bad strategy type", newRunner(), &proto.SimulateRequest{Strategy: &proto.StrategySpec{Type: "grid"}}, "INVALID_REQUEST"},
		{"bad crossover windows", newRunner(), &proto.SimulateRequest{Strategy: &proto.StrategySpec{
			Type: proto.StrategyCrossover, ShortWindow: 30, LongWindow: 10,
		}}, "CONFIG_ERROR"},
		{"crossover with rules", newRunner(), &proto.SimulateRequest{Strategy: &proto.StrategySpec{
			Type: proto.StrategyCrossover,
			Buy:  []proto.ConditionSpec{{LHS: "RSI", Op: "<", RHSType: "CONSTANT", RHSValue: floatPtr(30)}},
		}}, "CONFIG_ERROR"},
		{"rules with windows", newRunner(), &proto.SimulateRequest{Strategy: &proto.StrategySpec{
			ShortWindow: 5, LongWindow: 20,
		}}, "CONFIG_ERROR"},
		{"rules with position size", newRunner(), &proto.SimulateRequest{Strategy: &proto.StrategySpec{
			Type: proto.StrategyRules, PositionSize: 2,
		}}, "CONFIG_ERROR"},
	}
	for _, tt := range tests {
		resp, err := tt.runner.Simulate(context.Background(), tt.req)
		if err == nil {
			t.Fatalf("%s: expected an error", tt.name)
		}
		if resp != nil {
			t.Fatalf("%s: partial response returned", tt.name)
		}
		if got := errCode(err); got != tt.code {
			t.Fatalf("%s: got %s (%v), want %s", tt.name, got, err, tt.code)
		}
	}
}

func TestSimulateEqualityEnabled(t *testing.T) {
	cfg := config.Default().Engine
	cfg.EnableEquality = true
	_, err := New(cfg).Simulate(context.Background(), &proto.SimulateRequest{Strategy: &proto.StrategySpec{
		Buy: []proto.ConditionSpec{{LHS: "Price", Op: "=", RHSType: "SIGNAL", RHSSignal: "MA"}},
	}})
	if err != nil {
		t.Fatalf("equality enabled: %v", err)
	}
}

func TestSimulateCrossoverVariant(t *testing.T) {
	r := newRunner()
	resp, err := r.Simulate(context.Background(), &proto.SimulateRequest{
		Market: "Trending", Timesteps: intPtr(1000), Seed: seedPtr(42),
		Strategy: &proto.StrategySpec{Type: proto.StrategyCrossover, ShortWindow: 5, LongWindow: 20, PositionSize: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Manifest.Variant != proto.StrategyCrossover || resp.Manifest.Liquidation != "force_exit" {
		t.Fatalf("unexpected manifest %+v", resp.Manifest)
	}
	if len(resp.Trades)%2 != 0 {
		t.Fatalf("forced exit should close every round trip, got %d trades", len(resp.Trades))
	}
	if resp.Metrics.NumTrades != len(resp.Trades)/2 {
		t.Fatalf("num_trades %d for %d trades", resp.Metrics.NumTrades, len(resp.Trades))
	}

	held, err := r.Simulate(context.Background(), &proto.SimulateRequest{
		Market: "Trending", Timesteps: intPtr(1000), Seed: seedPtr(42),
		Strategy: &proto.StrategySpec{Type: proto.StrategyCrossover, ForceExit: boolPtr(false)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if held.Manifest.Liquidation != "none" {
		t.Fatalf("force_exit=false ignored: %+v", held.Manifest)
	}
}

func TestSimulateUsesCache(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	metrics := monitoring.NewMetrics()
	r := newRunner(WithCache(mc, time.Minute), WithMetrics(metrics))

	req := func() *proto.SimulateRequest {
		return &proto.SimulateRequest{Market: "Sideways", Timesteps: intPtr(300), Seed: seedPtr(5), Strategy: rsiStrategy()}
	}
	first, err := r.Simulate(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Simulate(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}
	if first.Manifest.Cached || !second.Manifest.Cached {
		t.Fatalf("cache flags: %v, %v", first.Manifest.Cached, second.Manifest.Cached)
	}
	if first.Metrics != second.Metrics || len(first.Trades) != len(second.Trades) {
		t.Fatal("cached response differs")
	}
	if mc.Len() != 1 {
		t.Fatalf("expected one cache entry, got %d", mc.Len())
	}
}

type recordingArchive struct {
	mu   sync.Mutex
	recs []clickhouse.RunRecord
	err  error
}

func (a *recordingArchive) Write(_ context.Context, rec clickhouse.RunRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return a.err
}

func TestSimulateArchives(t *testing.T) {
	arch := &recordingArchive{}
	resp, err := newRunner(WithArchive(arch)).Simulate(context.Background(), &proto.SimulateRequest{
		Market: "MeanReverting", Strategy: rsiStrategy(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(arch.recs) != 1 {
		t.Fatalf("expected one archived run, got %d", len(arch.recs))
	}
	rec := arch.recs[0]
	if rec.RunID != resp.Manifest.RunID || rec.Market != "MeanReverting" || rec.Seed != 42 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Metrics.TotalPnL != resp.Metrics.TotalPnL || len(rec.Trades) != len(resp.Trades) {
		t.Fatal("archived record does not match the response")
	}
}

func TestArchiveFailureDoesNotFailRun(t *testing.T) {
	arch := &recordingArchive{err: errors.New("clickhouse down")}
	if _, err := newRunner(WithArchive(arch)).Simulate(context.Background(), &proto.SimulateRequest{}); err != nil {
		t.Fatalf("archive failure leaked: %v", err)
	}
}

func TestSimulateHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newRunner().Simulate(ctx, &proto.SimulateRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExport(t *testing.T) {
	r := newRunner()
	data, err := r.Export(context.Background(), &proto.SimulateRequest{Timesteps: intPtr(200), Seed: seedPtr(3)})
	if err != nil {
		t.Fatal(err)
	}
	prices, err := r.pipeline.DecodePrices(data)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := r.Simulate(context.Background(), &proto.SimulateRequest{Timesteps: intPtr(200), Seed: seedPtr(3)})
	if err != nil {
		t.Fatal(err)
	}
	for i := range prices {
		if prices[i] != resp.Prices[i] {
			t.Fatalf("price %d differs", i)
		}
	}
}

func TestReplayMatchesSimulate(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	r := newRunner(WithCache(mc, time.Minute))
	req := func() *proto.SimulateRequest {
		return &proto.SimulateRequest{Market: "MeanReverting", Timesteps: intPtr(400), Seed: seedPtr(11), Strategy: rsiStrategy()}
	}
	data, err := r.Export(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}
	want, err := r.Simulate(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}

	in := req()
	in.Timesteps = nil
	got, err := r.Replay(context.Background(), in, data)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got.Prices) != 400 {
		t.Fatalf("replayed %d prices", len(got.Prices))
	}
	for i := range got.Prices {
		if got.Prices[i] != want.Prices[i] {
			t.Fatalf("price %d: %v vs %v", i, got.Prices[i], want.Prices[i])
		}
	}
	if got.Metrics != want.Metrics || len(got.Trades) != len(want.Trades) {
		t.Fatalf("replay differs: %+v vs %+v", got.Metrics, want.Metrics)
	}
	if !got.Manifest.Replayed || got.Manifest.Cached {
		t.Fatalf("manifest flags: replayed %v, cached %v", got.Manifest.Replayed, got.Manifest.Cached)
	}
	if mc.Len() != 1 {
		t.Fatalf("replay touched the cache: %d entries", mc.Len())
	}
}

func TestReplayRejectsBadStream(t *testing.T) {
	_, err := newRunner().Replay(context.Background(), &proto.SimulateRequest{}, []byte("not arrow"))
	if errCode(err) != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestExportCrossoverBuildsCatalog(t *testing.T) {
	data, err := newRunner().Export(context.Background(), &proto.SimulateRequest{
		Timesteps: intPtr(100), Strategy: &proto.StrategySpec{Type: proto.StrategyCrossover},
	})
	if err != nil || len(data) == 0 {
		t.Fatalf("export: %v", err)
	}
}

func TestSimulateReportsOpenPosition(t *testing.T) {
	resp, err := newRunner().Simulate(context.Background(), &proto.SimulateRequest{
		Market: "Sideways", Timesteps: intPtr(100), Seed: seedPtr(1),
		Strategy: &proto.StrategySpec{
			Buy: []proto.ConditionSpec{{LHS: "Price", Op: ">", RHSType: "CONSTANT", RHSValue: floatPtr(0)}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Trades) != 1 || resp.Trades[0].T != engine.DefaultWarmup {
		t.Fatalf("expected a single buy at warm-up, got %+v", resp.Trades)
	}
	op := resp.OpenPosition
	if op == nil || op.EntryT != engine.DefaultWarmup || op.Entry != resp.Prices[engine.DefaultWarmup] {
		t.Fatalf("unexpected open position %+v", op)
	}
	want := roundMoney(resp.Prices[99] - resp.Prices[engine.DefaultWarmup])
	if op.Unrealized != want {
		t.Fatalf("unrealized %v, want %v", op.Unrealized, want)
	}
	if resp.Metrics != (proto.MetricsRecord{}) {
		t.Fatalf("open position leaked into metrics: %+v", resp.Metrics)
	}
}
