package runner

// Seed sweep: the same request over consecutive seeds, one independent run
// per seed, spread over a bounded worker pool.

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"backtest-sandbox/proto"
)

type sweepJob struct {
	index int
	seed  int64
}

type sweepResult struct {
	index int
	run   proto.SweepRun
	err   error
}

// Sweep runs req for seeds seed .. seed+runs-1. Results come back in seed
// order; the first failing run aborts the sweep with its error.
func (r *Runner) Sweep(ctx context.Context, req *proto.SweepRequest) (*proto.SweepResponse, error) {
	if err := NormalizeSweep(req); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := *req.Runs
	numWorkers := r.cfg.Workers()
	if numWorkers > n {
		numWorkers = n
	}
	base := *req.Request.Seed

	r.logger.Info("Starting seed sweep",
		zap.Int("runs", n),
		zap.Int64("base_seed", base),
		zap.Int("workers", numWorkers),
	)

	jobChan := make(chan sweepJob, n)
	resultChan := make(chan sweepResult, n)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go r.sweepWorker(ctx, req.Request, jobChan, resultChan, &wg)
	}
	for i := 0; i < n; i++ {
		jobChan <- sweepJob{index: i, seed: base + int64(i)}
	}
	close(jobChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	runs := make([]proto.SweepRun, n)
	var firstErr error
	for res := range resultChan {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		runs[res.index] = res.run
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if r.metrics != nil {
		r.metrics.RecordSweep(n)
	}
	return &proto.SweepResponse{Runs: runs, Aggregate: Aggregate(runs)}, nil
}

func (r *Runner) sweepWorker(
	ctx context.Context,
	tmpl proto.SimulateRequest,
	jobChan <-chan sweepJob,
	resultChan chan<- sweepResult,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	for job := range jobChan {
		if err := ctx.Err(); err != nil {
			resultChan <- sweepResult{index: job.index, err: err}
			continue
		}
		req := cloneRequest(tmpl)
		seed := job.seed
		req.Seed = &seed
		resp, err := r.Simulate(ctx, &req)
		if err != nil {
			resultChan <- sweepResult{index: job.index, err: fmt.Errorf("seed %d: %w", seed, err)}
			continue
		}
		run := proto.SweepRun{Seed: seed, Metrics: resp.Metrics}
		if resp.Manifest != nil {
			run.RunID = resp.Manifest.RunID
		}
		resultChan <- sweepResult{index: job.index, run: run}
	}
}

// Aggregate summarizes runs in order. Ties for best and worst keep the
// earlier seed.
func Aggregate(runs []proto.SweepRun) proto.SweepAggregate {
	agg := proto.SweepAggregate{Runs: len(runs)}
	if len(runs) == 0 {
		return agg
	}
	best, worst := runs[0], runs[0]
	for _, run := range runs {
		agg.MeanTotalPnL += run.Metrics.TotalPnL
		agg.MeanMaxDrawdown += run.Metrics.MaxDrawdown
		agg.MeanWinRate += run.Metrics.WinRate
		if run.Metrics.TotalPnL > best.Metrics.TotalPnL {
			best = run
		}
		if run.Metrics.TotalPnL < worst.Metrics.TotalPnL {
			worst = run
		}
	}
	n := float64(len(runs))
	agg.MeanTotalPnL = roundMoney(agg.MeanTotalPnL / n)
	agg.MeanMaxDrawdown = roundMoney(agg.MeanMaxDrawdown / n)
	agg.MeanWinRate = roundRatio(agg.MeanWinRate / n)
	agg.BestSeed = best.Seed
	agg.WorstSeed = worst.Seed
	return agg
}

// cloneRequest copies everything a run may touch so workers share nothing.
func cloneRequest(req proto.SimulateRequest) proto.SimulateRequest {
	out := req
	if req.Timesteps != nil {
		n := *req.Timesteps
		out.Timesteps = &n
	}
	if req.Strategy != nil {
		s := *req.Strategy
		s.Buy = append([]proto.ConditionSpec(nil), s.Buy...)
		s.Sell = append([]proto.ConditionSpec(nil), s.Sell...)
		out.Strategy = &s
	}
	return out
}
