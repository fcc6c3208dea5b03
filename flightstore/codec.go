// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// CodecOptions configure how uploaded batches are encoded on disk.
type CodecOptions struct {
	Compression compress.Compression
	// Allocator is used by encoders and decoders; nil means a Go allocator.
	Allocator memory.Allocator
}

// DefaultCodecOptions uses snappy compression.
func DefaultCodecOptions() CodecOptions {
	return CodecOptions{Compression: compress.Codecs.Snappy}
}

func (o CodecOptions) allocator() memory.Allocator {
	if o.Allocator == nil {
		return memory.NewGoAllocator()
	}
	return o.Allocator
}

// ParseCompression maps a codec name to a parquet compression codec.
func ParseCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	}
	return compress.Codecs.Uncompressed, fmt.Errorf("unknown compression %q", name)
}

// BatchEncoder writes batches as parquet row groups, one row group per
// batch, so that later reads see the same batch boundaries.
type BatchEncoder struct {
	fw      *pqarrow.FileWriter
	schema  *arrow.Schema
	rows    int64
	batches int
}

// NewBatchEncoder starts a parquet file on w. The arrow schema is stored in
// the file so decoding reproduces it exactly.
func NewBatchEncoder(w io.Writer, schema *arrow.Schema, opts CodecOptions) (*BatchEncoder, error) {
	props := writerProperties(opts)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
		pqarrow.WithAllocator(opts.allocator()),
	)
	// hide any Close method on w: the caller owns the handle
	fw, err := pqarrow.NewFileWriter(schema, struct{ io.Writer }{w}, props, arrowProps)
	if err != nil {
		return nil, wrapError(KindSchemaMismatch, err, "schema cannot be stored")
	}
	return &BatchEncoder{fw: fw, schema: schema}, nil
}

// writerProperties lifts the parquet row group length limit so no batch,
// however large, is split across row groups.
func writerProperties(opts CodecOptions) *parquet.WriterProperties {
	return parquet.NewWriterProperties(
		parquet.WithCompression(opts.Compression),
		parquet.WithAllocator(opts.allocator()),
		parquet.WithMaxRowGroupLength(math.MaxInt64),
	)
}

// Encode appends one batch as one row group.
func (e *BatchEncoder) Encode(batch arrow.RecordBatch) error {
	if err := e.fw.Write(batch); err != nil {
		return wrapError(KindIOFailure, err, "encoding batch %d", e.batches)
	}
	e.rows += batch.NumRows()
	e.batches++
	return nil
}

// Close writes the parquet footer.
func (e *BatchEncoder) Close() error {
	if err := e.fw.Close(); err != nil {
		return wrapError(KindIOFailure, err, "finalizing dataset file")
	}
	return nil
}

// Rows returns the number of rows encoded so far.
func (e *BatchEncoder) Rows() int64 { return e.rows }

// Batches returns the number of batches encoded so far.
func (e *BatchEncoder) Batches() int { return e.batches }

// Schema returns the schema being encoded.
func (e *BatchEncoder) Schema() *arrow.Schema { return e.schema }

// BatchDecoder reads a parquet file one row group at a time.
type BatchDecoder struct {
	pf     *file.Reader
	fr     *pqarrow.FileReader
	schema *arrow.Schema
}

// NewBatchDecoder parses the footer of r. No data pages are read.
func NewBatchDecoder(r parquet.ReaderAtSeeker, mem memory.Allocator) (*BatchDecoder, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	// hide any Close method on r: the caller owns the handle
	pf, err := file.NewParquetReader(struct{ parquet.ReaderAtSeeker }{r})
	if err != nil {
		return nil, wrapError(KindIOFailure, err, "reading dataset footer")
	}
	var maxRows int64 = 1
	for i := 0; i < pf.NumRowGroups(); i++ {
		if n := pf.MetaData().RowGroup(i).NumRows(); n > maxRows {
			maxRows = n
		}
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: maxRows}, mem)
	if err != nil {
		pf.Close()
		return nil, wrapError(KindIOFailure, err, "reading dataset metadata")
	}
	schema, err := fr.Schema()
	if err != nil {
		pf.Close()
		return nil, wrapError(KindIOFailure, err, "reading dataset schema")
	}
	return &BatchDecoder{pf: pf, fr: fr, schema: schema}, nil
}

// Schema returns the stored arrow schema.
func (d *BatchDecoder) Schema() *arrow.Schema { return d.schema }

// NumRows returns the total row count from the footer.
func (d *BatchDecoder) NumRows() int64 { return d.pf.NumRows() }

// NumBatches returns the number of row groups.
func (d *BatchDecoder) NumBatches() int { return d.pf.NumRowGroups() }

// Batch decodes row group i into a single batch. The caller releases it.
func (d *BatchDecoder) Batch(ctx context.Context, i int) (arrow.RecordBatch, error) {
	if i < 0 || i >= d.NumBatches() {
		return nil, newError(KindIOFailure, "row group %d out of range [0, %d)", i, d.NumBatches())
	}
	if d.pf.MetaData().RowGroup(i).NumRows() == 0 {
		return emptyBatch(d.schema), nil
	}
	rr, err := d.fr.GetRecordReader(ctx, nil, []int{i})
	if err != nil {
		return nil, wrapError(KindIOFailure, err, "opening row group %d", i)
	}
	defer rr.Release()

	// a row group larger than BatchSize never happens; concatenate anyway
	var parts []arrow.RecordBatch
	defer func() {
		for _, p := range parts {
			p.Release()
		}
	}()
	for rr.Next() {
		rec := rr.Record()
		rec.Retain()
		parts = append(parts, rec)
	}
	if err := rr.Err(); err != nil && err != io.EOF {
		return nil, wrapError(KindIOFailure, err, "decoding row group %d", i)
	}
	switch len(parts) {
	case 0:
		return emptyBatch(d.schema), nil
	case 1:
		out := parts[0]
		out.Retain()
		return out, nil
	}
	return concatBatches(d.schema, parts)
}

// Close releases the parquet reader. The underlying handle is not closed.
func (d *BatchDecoder) Close() error {
	return d.pf.Close()
}

func concatBatches(schema *arrow.Schema, parts []arrow.RecordBatch) (arrow.RecordBatch, error) {
	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, 0, schema.NumFields())
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	var rows int64
	for _, p := range parts {
		rows += p.NumRows()
	}
	for i := 0; i < schema.NumFields(); i++ {
		chunks := make([]arrow.Array, len(parts))
		for j, p := range parts {
			chunks[j] = p.Column(i)
		}
		col, err := array.Concatenate(chunks, mem)
		if err != nil {
			return nil, wrapError(KindIOFailure, err, "joining column %q", schema.Field(i).Name)
		}
		cols = append(cols, col)
	}
	return array.NewRecordBatch(schema, cols, rows), nil
}

// ReadSummary extracts the schema and counts of a stored file without
// decoding any data pages.
func ReadSummary(r parquet.ReaderAtSeeker) (*arrow.Schema, int64, int, error) {
	d, err := NewBatchDecoder(r, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	defer d.Close()
	return d.Schema(), d.NumRows(), d.NumBatches(), nil
}
