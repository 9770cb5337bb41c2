// Package arrowpipeline exports a run as an Arrow IPC stream and reads price
// columns back.
package arrowpipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"backtest-sandbox/services/engine"
)

const (
	ColumnT      = "t"
	ColumnPrice  = "price"
	ColumnEquity = "equity"

	// Field metadata keys on signal columns.
	MetaKind   = "kind"
	MetaSource = "source"
	MetaWindow = "window"
)

// Pipeline handles Arrow IPC encoding.
type Pipeline struct {
	memoryPool  memory.Allocator
	compression string
}

type Option func(*Pipeline)

// WithCompression selects body compression for written streams: "none",
// "lz4" or "zstd". Readers detect it on their own.
func WithCompression(codec string) Option {
	return func(p *Pipeline) { p.compression = strings.ToLower(codec) }
}

func NewPipeline(pool memory.Allocator, opts ...Option) *Pipeline {
	if pool == nil {
		pool = memory.NewGoAllocator()
	}
	p := &Pipeline{memoryPool: pool}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ValidCompression reports whether codec is understood by WithCompression.
func ValidCompression(codec string) bool {
	switch strings.ToLower(codec) {
	case "", "none", "lz4", "zstd":
		return true
	}
	return false
}

func (p *Pipeline) writerOptions(schema *arrow.Schema) []ipc.Option {
	opts := []ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(p.memoryPool)}
	switch p.compression {
	case "lz4":
		opts = append(opts, ipc.WithLZ4())
	case "zstd":
		opts = append(opts, ipc.WithZstd())
	}
	return opts
}

// EncodeRun writes one record batch: the timestep, the price, every
// registered signal except price in name order, and the equity curve when
// it is present.
func (p *Pipeline) EncodeRun(reg *engine.Registry, equity []float64) ([]byte, error) {
	n := reg.Len()
	if n == 0 {
		return nil, fmt.Errorf("no prices to convert")
	}
	if equity != nil && len(equity) != n {
		return nil, fmt.Errorf("equity curve has %d points for %d prices", len(equity), n)
	}

	fields := []arrow.Field{
		{Name: ColumnT, Type: arrow.PrimitiveTypes.Int64},
		{Name: ColumnPrice, Type: arrow.PrimitiveTypes.Float64},
	}
	columns := [][]float64{reg.Prices()}
	for _, id := range reg.IDs() {
		if id == engine.SignalPrice {
			continue
		}
		s, err := reg.Lookup(id)
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{
			Name:     string(id),
			Type:     arrow.PrimitiveTypes.Float64,
			Metadata: nodeMetadata(reg, id),
		})
		columns = append(columns, s)
	}
	if equity != nil {
		fields = append(fields, arrow.Field{Name: ColumnEquity, Type: arrow.PrimitiveTypes.Float64})
		columns = append(columns, equity)
	}
	schema := arrow.NewSchema(fields, nil)

	arrays := make([]arrow.Array, 0, len(fields))
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()

	tb := array.NewInt64Builder(p.memoryPool)
	defer tb.Release()
	for i := 0; i < n; i++ {
		tb.Append(int64(i))
	}
	arrays = append(arrays, tb.NewInt64Array())

	for _, col := range columns {
		fb := array.NewFloat64Builder(p.memoryPool)
		fb.AppendValues(col, nil)
		arrays = append(arrays, fb.NewFloat64Array())
		fb.Release()
	}

	record := array.NewRecord(schema, arrays, int64(n))
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, p.writerOptions(schema)...)
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write Arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	return buf.Bytes(), nil
}

// nodeMetadata records how a signal column was derived.
func nodeMetadata(reg *engine.Registry, id engine.SignalID) arrow.Metadata {
	node, ok := reg.Node(id)
	if !ok {
		return arrow.Metadata{}
	}
	return arrow.NewMetadata(
		[]string{MetaKind, MetaSource, MetaWindow},
		[]string{node.Kind, string(node.Source), strconv.Itoa(node.Window)},
	)
}

// DecodePrices reads the price column of every record in the stream.
func (p *Pipeline) DecodePrices(data []byte) (engine.PriceSeries, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return nil, fmt.Errorf("failed to open Arrow stream: %w", err)
	}
	defer reader.Release()

	idx := reader.Schema().FieldIndices(ColumnPrice)
	if len(idx) == 0 {
		return nil, fmt.Errorf("arrow stream has no %q column", ColumnPrice)
	}

	var prices engine.PriceSeries
	for reader.Next() {
		rec := reader.Record()
		col, ok := rec.Column(idx[0]).(*array.Float64)
		if !ok {
			return nil, fmt.Errorf("column %q is %s, want float64", ColumnPrice, rec.Column(idx[0]).DataType())
		}
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				return nil, fmt.Errorf("null price at row %d", len(prices))
			}
			v := col.Value(i)
			if v <= 0 {
				return nil, fmt.Errorf("%w: non-positive price %g at row %d", engine.ErrConfig, v, len(prices))
			}
			prices = append(prices, v)
		}
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read Arrow stream: %w", err)
	}
	return prices, nil
}
