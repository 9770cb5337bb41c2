// Package runner adapts simulation requests onto the engine: it validates,
// builds the catalog, picks the strategy variant, rounds the output, and
// handles caching, archiving, metrics and logging around each run.
package runner

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backtest-sandbox/proto"
	"backtest-sandbox/services/arrowpipeline"
	"backtest-sandbox/services/cache"
	"backtest-sandbox/services/clickhouse"
	"backtest-sandbox/services/config"
	"backtest-sandbox/services/engine"
	"backtest-sandbox/services/monitoring"
	"backtest-sandbox/strategies"
)

// Archiver stores completed runs.
type Archiver interface {
	Write(ctx context.Context, rec clickhouse.RunRecord) error
}

type Runner struct {
	cfg      config.EngineConfig
	logger   *zap.Logger
	cache    cache.Service
	cacheTTL time.Duration
	archive  Archiver
	metrics  *monitoring.Metrics
	pipeline *arrowpipeline.Pipeline
	now      func() time.Time
	// engineKey scopes cache entries to the engine settings that produced them.
	engineKey string
}

type Option func(*Runner)

func WithLogger(l *zap.Logger) Option { return func(r *Runner) { r.logger = l } }

func WithCache(c cache.Service, ttl time.Duration) Option {
	return func(r *Runner) { r.cache, r.cacheTTL = c, ttl }
}

func WithArchive(a Archiver) Option { return func(r *Runner) { r.archive = a } }

func WithMetrics(m *monitoring.Metrics) Option { return func(r *Runner) { r.metrics = m } }

func WithPipeline(p *arrowpipeline.Pipeline) Option { return func(r *Runner) { r.pipeline = p } }

func New(cfg config.EngineConfig, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		logger:   zap.NewNop(),
		cache:    cache.Nop{},
		pipeline: arrowpipeline.NewPipeline(nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if b, err := json.Marshal(cfg); err == nil {
		r.engineKey = fmt.Sprintf("%x", sha256.Sum256(b))[:16]
	}
	return r
}

// run is one executed simulation before it is rendered.
type run struct {
	market  engine.MarketConfig
	variant string
	policy  engine.LiquidationPolicy
	reg     *engine.Registry
	report  *engine.Report
}

// execute runs req over prices, or over a generated series when prices is nil.
func (r *Runner) execute(req *proto.SimulateRequest, prices engine.PriceSeries) (*run, error) {
	market, err := marketConfig(req, r.cfg.MaxTimesteps)
	if err != nil {
		return nil, err
	}
	if err := checkVariantFields(req.Strategy); err != nil {
		return nil, err
	}
	out := &run{market: market, variant: variantOf(req.Strategy)}

	// Names resolve before the series is generated so a typo costs nothing.
	var rules engine.Strategy
	if out.variant == proto.StrategyRules {
		if rules, err = ruleStrategy(req.Strategy, r.cfg.EqualityTolerance); err != nil {
			return nil, err
		}
	}

	if prices == nil {
		if prices, err = engine.GenerateSeries(market); err != nil {
			return nil, err
		}
	}

	var eval engine.Evaluator
	switch out.variant {
	case proto.StrategyCrossover:
		cc := crossoverConfig(req.Strategy)
		out.policy = cc.Liquidation
		if eval, err = strategies.NewCrossover(prices, cc); err != nil {
			return nil, err
		}
	default:
		out.policy = liquidationOf(req.Strategy, engine.LiquidateNone)
		if out.reg, err = engine.BuildCatalog(prices, r.cfg.CatalogSpec()); err != nil {
			return nil, err
		}
		opts := engine.RuleOptions{
			Warmup:      r.cfg.Warmup,
			Liquidation: out.policy,
			Validation:  engine.ValidationOptions{EnableEquality: r.cfg.EnableEquality},
		}
		if eval, err = engine.NewRuleEngine(rules, out.reg, opts); err != nil {
			return nil, err
		}
	}

	if out.report, err = eval.Evaluate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Simulate runs one request end to end. The returned error is always
// classifiable with engine.ToAPIError.
func (r *Runner) Simulate(ctx context.Context, req *proto.SimulateRequest) (*proto.SimulateResponse, error) {
	if err := Normalize(req); err != nil {
		return nil, err
	}
	return r.simulate(ctx, req, nil)
}

// Replay runs the request's strategy over the price column of an Arrow
// stream, such as one written by Export. Timesteps follows the stream
// length; market and seed only label the run. Replays bypass the cache.
func (r *Runner) Replay(ctx context.Context, req *proto.SimulateRequest, data []byte) (*proto.SimulateResponse, error) {
	if err := Normalize(req); err != nil {
		return nil, err
	}
	prices, err := r.pipeline.DecodePrices(data)
	if err != nil {
		if errors.Is(err, engine.ErrConfig) {
			return nil, err
		}
		return nil, invalidRequest(err)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: replay stream has no prices", engine.ErrConfig)
	}
	n := len(prices)
	req.Timesteps = &n
	return r.simulate(ctx, req, prices)
}

func (r *Runner) simulate(ctx context.Context, req *proto.SimulateRequest, prices engine.PriceSeries) (*proto.SimulateResponse, error) {
	replayed := prices != nil
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := Hash(req)
	if err != nil {
		return nil, invalidRequest(err)
	}
	variant := variantOf(req.Strategy)

	if !replayed {
		if resp, ok := r.fromCache(ctx, hash); ok {
			return resp, nil
		}
	}

	runID := uuid.New().String()
	start := r.now()
	r.logger.Info("Starting simulation",
		zap.String("run_id", runID),
		zap.String("market", req.Market),
		zap.Int("timesteps", *req.Timesteps),
		zap.Int64("seed", *req.Seed),
		zap.String("variant", variant),
		zap.Bool("replayed", replayed),
	)

	res, err := r.execute(req, prices)
	elapsed := r.now().Sub(start)
	if err != nil {
		apiErr := engine.ToAPIError(err)
		r.logger.Warn("Simulation failed",
			zap.String("run_id", runID),
			zap.String("error_code", apiErr.Code),
			zap.Error(err),
		)
		r.recordRun(variant, "error", elapsed)
		return nil, err
	}

	manifest := &proto.RunManifest{
		RunID:         runID,
		ConfigHash:    hash,
		Variant:       res.variant,
		Liquidation:   res.policy.String(),
		ScanStart:     res.report.ScanStart,
		EngineVersion: r.cfg.Version,
		CreatedAt:     start.UnixMilli(),
		Replayed:      replayed,
	}
	resp := NewResponse(res.report, manifest)

	r.logger.Info("Simulation completed",
		zap.String("run_id", runID),
		zap.Duration("execution_time", elapsed),
		zap.Int("trades", len(res.report.Trades)),
		zap.Float64("total_pnl", resp.Metrics.TotalPnL),
	)
	r.recordRun(variant, "ok", elapsed)
	if r.metrics != nil {
		buys, sells := countSides(res.report.Trades)
		r.metrics.RecordTrades(buys, sells)
	}

	if !replayed {
		r.toCache(ctx, hash, resp)
	}
	r.toArchive(ctx, res, manifest, start)
	return resp, nil
}

// Export runs the request and returns the price, every catalog signal and
// the equity curve as an Arrow IPC stream.
func (r *Runner) Export(ctx context.Context, req *proto.SimulateRequest) ([]byte, error) {
	if err := Normalize(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := r.execute(req, nil)
	if err != nil {
		return nil, err
	}
	reg := res.reg
	if reg == nil {
		if reg, err = engine.BuildCatalog(res.report.Prices, r.cfg.CatalogSpec()); err != nil {
			return nil, err
		}
	}
	return r.pipeline.EncodeRun(reg, res.report.EquityCurve)
}

func (r *Runner) fromCache(ctx context.Context, hash string) (*proto.SimulateResponse, bool) {
	data, err := r.cache.Get(ctx, r.cacheKey(hash))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn("Cache read failed", zap.String("config_hash", hash), zap.Error(err))
		}
		r.recordCache(false)
		return nil, false
	}
	var resp proto.SimulateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		r.logger.Warn("Discarding undecodable cache entry", zap.String("config_hash", hash), zap.Error(err))
		r.recordCache(false)
		return nil, false
	}
	if resp.Manifest != nil {
		resp.Manifest.Cached = true
	}
	r.recordCache(true)
	return &resp, true
}

func (r *Runner) toCache(ctx context.Context, hash string, resp *proto.SimulateResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		r.logger.Warn("Cache encode failed", zap.Error(err))
		return
	}
	if err := r.cache.Set(ctx, r.cacheKey(hash), data, r.cacheTTL); err != nil {
		r.logger.Warn("Cache write failed", zap.String("config_hash", hash), zap.Error(err))
	}
}

func (r *Runner) toArchive(ctx context.Context, res *run, m *proto.RunManifest, at time.Time) {
	if r.archive == nil {
		return
	}
	rec := clickhouse.RunRecord{
		RunID:       m.RunID,
		ConfigHash:  m.ConfigHash,
		Market:      string(res.market.Regime),
		Timesteps:   res.market.Timesteps,
		Seed:        res.market.Seed,
		Variant:     m.Variant,
		Liquidation: m.Liquidation,
		Metrics:     res.report.Metrics.Rounded(),
		Trades:      res.report.Trades,
		CreatedAt:   at,
	}
	if err := r.archive.Write(ctx, rec); err != nil {
		r.logger.Warn("Archive write failed", zap.String("run_id", m.RunID), zap.Error(err))
	}
}

func (r *Runner) recordRun(variant, status string, d time.Duration) {
	if r.metrics != nil {
		r.metrics.RecordRun(variant, status, d)
	}
}

func (r *Runner) recordCache(hit bool) {
	if r.metrics != nil {
		r.metrics.RecordCache(hit)
	}
}

func (r *Runner) cacheKey(hash string) string { return "run:" + r.engineKey + ":" + hash }

func countSides(trades []engine.Trade) (buys, sells int) {
	for _, tr := range trades {
		if tr.Side == engine.SideBuy {
			buys++
		} else {
			sells++
		}
	}
	return buys, sells
}
