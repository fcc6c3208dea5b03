// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package benchmark provides a wide trade-record fixture for measuring
// upload, download and codec throughput.
package benchmark

import (
	"fmt"
	"math/rand/v2"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// RowGroupRecords is the batch size the fixture generator uses by default.
const RowGroupRecords = 10000

// TradeDatasetName is the conventional name of the fixture dataset.
const TradeDatasetName = "trade.parquet"

// TradeSchema describes one exchange trade: thirty columns mixing
// strings, dates, booleans and numbers.
var TradeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "sno", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "trdno", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "trddate", Type: arrow.FixedWidthTypes.Date32, Nullable: true},
	{Name: "loref", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "bsf", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
	{Name: "oso", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "comid", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "trderid", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "fid", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "cuid", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "olf", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
	{Name: "pri", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "qty", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "osn", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "op", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "oppfi", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "oppcuid", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "opptrdrid", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "tw", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "hf", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "tf", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "fof", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "cmty", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "orty", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "otd", Type: arrow.FixedWidthTypes.Date32, Nullable: true},
	{Name: "tv", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "tc", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "lp", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "prem", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "lcp", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

// base date of generated trades: 2024-01-02
const baseDay = arrow.Date32(19724)

var (
	sides      = []string{"B", "S"}
	orderTypes = []string{"LMT", "MKT", "STP", "IOC"}
	commodity  = []string{"CU", "AL", "ZN", "AU", "AG", "RB"}
	flags      = []string{"0", "1"}
)

// TradeBatch builds n trade rows with sequence numbers starting at offset.
// Output is a pure function of (seed, offset, n).
func TradeBatch(mem memory.Allocator, seed uint64, offset, n int64) arrow.RecordBatch {
	rng := rand.New(rand.NewPCG(seed, uint64(offset)))
	bldr := array.NewRecordBuilder(mem, TradeSchema)
	defer bldr.Release()

	str := func(col int) *array.StringBuilder { return bldr.Field(col).(*array.StringBuilder) }
	f64 := func(col int) *array.Float64Builder { return bldr.Field(col).(*array.Float64Builder) }
	date := func(col int) *array.Date32Builder { return bldr.Field(col).(*array.Date32Builder) }
	boolean := func(col int) *array.BooleanBuilder { return bldr.Field(col).(*array.BooleanBuilder) }
	pick := func(vals []string) string { return vals[rng.IntN(len(vals))] }

	for i := offset; i < offset+n; i++ {
		day := baseDay + arrow.Date32(i/50000)
		price := 100 + rng.Float64()*50
		qty := 1 + rng.Int64N(500)
		comm := pick(commodity)

		str(0).Append(fmt.Sprintf("%012d", i))
		str(1).Append(fmt.Sprintf("T%010d", i/2))
		date(2).Append(day)
		str(3).Append(fmt.Sprintf("L%08d", rng.IntN(100_000_000)))
		boolean(4).Append(rng.IntN(2) == 0)
		str(5).Append(pick(sides))
		str(6).Append(fmt.Sprintf("C%04d", rng.IntN(200)))
		str(7).Append(fmt.Sprintf("TR%05d", rng.IntN(5000)))
		str(8).Append(fmt.Sprintf("F%03d", rng.IntN(300)))
		str(9).Append(fmt.Sprintf("CU%06d", rng.IntN(100_000)))
		boolean(10).Append(rng.IntN(10) == 0)
		f64(11).Append(price)
		bldr.Field(12).(*array.Int64Builder).Append(qty)
		str(13).Append(fmt.Sprintf("O%012d", rng.Int64N(1_000_000_000_000)))
		f64(14).Append(price + rng.NormFloat64())
		str(15).Append(fmt.Sprintf("F%03d", rng.IntN(300)))
		str(16).Append(fmt.Sprintf("CU%06d", rng.IntN(100_000)))
		str(17).Append(fmt.Sprintf("TR%05d", rng.IntN(5000)))
		str(18).Append(pick(sides))
		str(19).Append(pick(flags))
		str(20).Append(pick(flags))
		str(21).Append(pick(flags))
		str(22).Append(comm)
		str(23).Append(pick(orderTypes))
		if rng.IntN(20) == 0 {
			date(24).AppendNull()
		} else {
			date(24).Append(day - arrow.Date32(rng.IntN(3)))
		}
		f64(25).Append(price * float64(qty))
		f64(26).Append(price * float64(qty) * 0.0002)
		f64(27).Append(price - 0.5 + rng.Float64())
		f64(28).Append(rng.Float64() * 10)
		f64(29).Append(price + rng.NormFloat64()*2)
	}

	cols := make([]arrow.Array, TradeSchema.NumFields())
	for i := range cols {
		cols[i] = bldr.Field(i).NewArray()
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(TradeSchema, cols, n)
}
