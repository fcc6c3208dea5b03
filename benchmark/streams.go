// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// TradeGenerator produces Rows trade rows lazily in batches of BatchSize.
type TradeGenerator struct {
	Rows      int64
	BatchSize int64
	Seed      uint64

	mem     memory.Allocator
	current int64
	batch   arrow.RecordBatch
}

// NewTradeGenerator creates a generator. batchSize <= 0 selects
// RowGroupRecords.
func NewTradeGenerator(mem memory.Allocator, rows, batchSize int64, seed uint64) *TradeGenerator {
	if batchSize <= 0 {
		batchSize = RowGroupRecords
	}
	return &TradeGenerator{Rows: rows, BatchSize: batchSize, Seed: seed, mem: mem}
}

// Next builds the next batch, releasing the previous one. It returns false
// once Rows rows have been produced.
func (g *TradeGenerator) Next() bool {
	g.release()
	if g.current >= g.Rows {
		return false
	}
	n := min(g.BatchSize, g.Rows-g.current)
	g.batch = TradeBatch(g.mem, g.Seed, g.current, n)
	g.current += n
	return true
}

// Batch returns the current batch, valid until the next call to Next.
func (g *TradeGenerator) Batch() arrow.RecordBatch { return g.batch }

// Release frees the current batch.
func (g *TradeGenerator) Release() { g.release() }

func (g *TradeGenerator) release() {
	if g.batch != nil {
		g.batch.Release()
		g.batch = nil
	}
}

// Collect drains the generator into a slice. The caller releases every
// returned batch.
func (g *TradeGenerator) Collect() []arrow.RecordBatch {
	var out []arrow.RecordBatch
	for g.Next() {
		b := g.Batch()
		b.Retain()
		out = append(out, b)
	}
	return out
}
