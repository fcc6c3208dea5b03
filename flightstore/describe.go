// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"bytes"
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DatasetListingSchema is the schema of the HTTP dataset listing: one row
// per published dataset.
var DatasetListingSchema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "total_records", Type: arrow.PrimitiveTypes.Int64},
	{Name: "total_bytes", Type: arrow.PrimitiveTypes.Int64},
	{Name: "num_batches", Type: arrow.PrimitiveTypes.Int64},
	{Name: "schema_ipc", Type: arrow.BinaryTypes.Binary},
}, nil)

// serializeSchema serializes an Arrow schema to IPC stream bytes.
func serializeSchema(schema *arrow.Schema) []byte {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	w.Close()
	return buf.Bytes()
}

// DeserializeListingSchema decodes a schema_ipc cell.
func DeserializeListingSchema(b []byte) (*arrow.Schema, error) {
	r, err := ipc.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Release()
	return r.Schema(), nil
}

// collectSummaries gathers the catalog listing, stopping at the first
// listing error.
func collectSummaries(ctx context.Context, c *Catalog) ([]DatasetSummary, error) {
	var out []DatasetSummary
	for summary, err := range c.List(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

// buildListingBatch builds the dataset listing batch.
func buildListingBatch(summaries []DatasetSummary) arrow.RecordBatch {
	mem := memory.NewGoAllocator()

	names := array.NewStringBuilder(mem)
	defer names.Release()
	records := array.NewInt64Builder(mem)
	defer records.Release()
	sizes := array.NewInt64Builder(mem)
	defer sizes.Release()
	batches := array.NewInt64Builder(mem)
	defer batches.Release()
	schemas := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer schemas.Release()

	for _, s := range summaries {
		names.Append(s.Name)
		records.Append(s.TotalRecords)
		sizes.Append(s.TotalBytes)
		batches.Append(int64(s.NumBatches))
		schemas.Append(serializeSchema(s.Schema))
	}

	cols := []arrow.Array{
		names.NewArray(),
		records.NewArray(),
		sizes.NewArray(),
		batches.NewArray(),
		schemas.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(DatasetListingSchema, cols, int64(len(summaries)))
}
