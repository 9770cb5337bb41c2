// Package clickhouse archives completed runs. The archive is write-only;
// nothing in a run reads it back.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"backtest-sandbox/services/engine"
)

type Config struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// RunRecord is one completed run as archived.
type RunRecord struct {
	RunID       string
	ConfigHash  string
	Market      string
	Timesteps   int
	Seed        int64
	Variant     string
	Liquidation string
	Metrics     engine.Metrics
	Trades      []engine.Trade
	CreatedAt   time.Time
}

type Archive struct {
	conn     driver.Conn
	database string
}

func NewArchive(ctx context.Context, cfg Config) (*Archive, error) {
	conn, err := ch.Open(&ch.Options{
		Addr: []string{cfg.Addr},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	a := &Archive{conn: conn, database: cfg.Database}
	if err := a.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.runs (
			run_id String,
			config_hash String,
			market LowCardinality(String),
			timesteps UInt32,
			seed Int64,
			variant LowCardinality(String),
			liquidation LowCardinality(String),
			total_pnl Float64,
			num_trades UInt32,
			win_rate Float64,
			max_drawdown Float64,
			created_at DateTime64(3)
		) ENGINE = MergeTree ORDER BY (created_at, run_id)`, a.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.run_trades (
			run_id String,
			t UInt32,
			side LowCardinality(String),
			price Float64,
			pnl Float64,
			forced UInt8
		) ENGINE = MergeTree ORDER BY (run_id, t)`, a.database),
	}
	for _, stmt := range stmts {
		if err := a.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Write inserts the run row and its trades as two batches.
func (a *Archive) Write(ctx context.Context, rec RunRecord) error {
	batch, err := a.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.runs", a.database))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	if err := batch.Append(runRow(rec)...); err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send run: %w", err)
	}

	if len(rec.Trades) == 0 {
		return nil
	}
	batch, err = a.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.run_trades", a.database))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, row := range tradeRows(rec) {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("append trade: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send trades: %w", err)
	}
	return nil
}

func (a *Archive) Close() error { return a.conn.Close() }

func runRow(rec RunRecord) []any {
	return []any{
		rec.RunID,
		rec.ConfigHash,
		rec.Market,
		uint32(rec.Timesteps),
		rec.Seed,
		rec.Variant,
		rec.Liquidation,
		rec.Metrics.TotalPnL,
		uint32(rec.Metrics.NumTrades),
		rec.Metrics.WinRate,
		rec.Metrics.MaxDrawdown,
		rec.CreatedAt,
	}
}

func tradeRows(rec RunRecord) [][]any {
	rows := make([][]any, 0, len(rec.Trades))
	for _, tr := range rec.Trades {
		var forced uint8
		if tr.Forced {
			forced = 1
		}
		rows = append(rows, []any{rec.RunID, uint32(tr.T), string(tr.Side), tr.Price, tr.PnL, forced})
	}
	return rows
}
