// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// CounterSchema is the general-purpose fixture schema: a required id, a
// value derived from it, and a nullable label (null on every third row).
var CounterSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "value", Type: arrow.PrimitiveTypes.Float64},
	{Name: "label", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// TradesSchema is the two-column schema of the "trades" scenario.
var TradesSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "price", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// CounterBatch builds n rows of CounterSchema starting at id offset.
func CounterBatch(mem memory.Allocator, offset, n int64) arrow.RecordBatch {
	ids := array.NewInt64Builder(mem)
	defer ids.Release()
	values := array.NewFloat64Builder(mem)
	defer values.Release()
	labels := array.NewStringBuilder(mem)
	defer labels.Release()

	for i := offset; i < offset+n; i++ {
		ids.Append(i)
		values.Append(float64(i) * 1.5)
		if i%3 == 2 {
			labels.AppendNull()
		} else {
			labels.Append(fmt.Sprintf("row-%d", i))
		}
	}
	return newBatch(CounterSchema, n, ids, values, labels)
}

// CounterBatches builds one CounterSchema batch per entry of sizes with
// consecutive ids.
func CounterBatches(mem memory.Allocator, sizes ...int64) []arrow.RecordBatch {
	out := make([]arrow.RecordBatch, 0, len(sizes))
	var offset int64
	for _, n := range sizes {
		out = append(out, CounterBatch(mem, offset, n))
		offset += n
	}
	return out
}

// TradesBatch builds a TradesSchema batch from parallel id and price slices.
func TradesBatch(mem memory.Allocator, ids []int64, prices []float64) arrow.RecordBatch {
	if len(ids) != len(prices) {
		panic("conformance: ids and prices differ in length")
	}
	idb := array.NewInt64Builder(mem)
	defer idb.Release()
	pb := array.NewFloat64Builder(mem)
	defer pb.Release()
	idb.AppendValues(ids, nil)
	pb.AppendValues(prices, nil)
	return newBatch(TradesSchema, int64(len(ids)), idb, pb)
}

func newBatch(schema *arrow.Schema, n int64, builders ...array.Builder) arrow.RecordBatch {
	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(schema, cols, n)
}

// Result is the outcome of one scenario.
type Result struct {
	Name   string
	Passed bool
	Err    error
}

func (r Result) String() string {
	if r.Passed {
		return fmt.Sprintf("PASS %s", r.Name)
	}
	return fmt.Sprintf("FAIL %s: %v", r.Name, r.Err)
}

// Failed counts the failed results.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Passed {
			n++
		}
	}
	return n
}
