// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeBatches(t *testing.T, schema *arrow.Schema, opts CodecOptions, batches ...arrow.RecordBatch) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := NewBatchEncoder(&buf, schema, opts)
	require.NoError(t, err)
	for _, b := range batches {
		require.NoError(t, enc.Encode(b))
	}
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

func TestCodecKeepsBatchBoundaries(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	in := []arrow.RecordBatch{priceBatch(mem, 0, 5), priceBatch(mem, 5, 3), priceBatch(mem, 8, 7)}
	defer releaseBatches(in)

	data := encodeBatches(t, priceSchema, DefaultCodecOptions(), in...)
	dec, err := NewBatchDecoder(bytes.NewReader(data), memory.NewGoAllocator())
	require.NoError(t, err)
	defer dec.Close()

	assert.True(t, dec.Schema().Equal(priceSchema))
	assert.Equal(t, 3, dec.NumBatches())
	assert.EqualValues(t, 15, dec.NumRows())
	for i, want := range in {
		got, err := dec.Batch(context.Background(), i)
		require.NoError(t, err)
		assert.True(t, array.RecordEqual(want, got), "batch %d", i)
		got.Release()
	}

	_, err = dec.Batch(context.Background(), 3)
	assert.ErrorIs(t, err, ErrIOFailure)
}

func TestCodecZeroRowBatch(t *testing.T) {
	mem := memory.NewGoAllocator()
	empty := priceBatch(mem, 0, 0)
	defer empty.Release()
	full := priceBatch(mem, 0, 4)
	defer full.Release()

	data := encodeBatches(t, priceSchema, DefaultCodecOptions(), full, empty, full)
	dec, err := NewBatchDecoder(bytes.NewReader(data), mem)
	require.NoError(t, err)
	defer dec.Close()

	require.Equal(t, 3, dec.NumBatches())
	got, err := dec.Batch(context.Background(), 1)
	require.NoError(t, err)
	defer got.Release()
	assert.EqualValues(t, 0, got.NumRows())
	assert.True(t, got.Schema().Equal(priceSchema))
}

func TestCodecNoBatches(t *testing.T) {
	data := encodeBatches(t, labelSchema, DefaultCodecOptions())
	schema, rows, batches, err := ReadSummary(bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, schema.Equal(labelSchema))
	assert.Zero(t, rows)
	assert.Zero(t, batches)
}

func TestCodecCompressions(t *testing.T) {
	mem := memory.NewGoAllocator()
	batch := labelBatch(mem, "alpha", "beta", "gamma")
	defer batch.Release()

	for _, name := range []string{"snappy", "zstd", "gzip", "none"} {
		t.Run(name, func(t *testing.T) {
			c, err := ParseCompression(name)
			require.NoError(t, err)
			data := encodeBatches(t, labelSchema, CodecOptions{Compression: c}, batch)

			dec, err := NewBatchDecoder(bytes.NewReader(data), mem)
			require.NoError(t, err)
			defer dec.Close()
			got, err := dec.Batch(context.Background(), 0)
			require.NoError(t, err)
			defer got.Release()
			assert.True(t, array.RecordEqual(batch, got))
		})
	}
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, compress.Codecs.Snappy, c)
	c, err = ParseCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, compress.Codecs.Zstd, c)
	c, err = ParseCompression("uncompressed")
	require.NoError(t, err)
	assert.Equal(t, compress.Codecs.Uncompressed, c)
	_, err = ParseCompression("lzma")
	assert.Error(t, err)
}

func TestDecoderRejectsGarbage(t *testing.T) {
	_, err := NewBatchDecoder(bytes.NewReader([]byte("definitely not parquet")), nil)
	assert.ErrorIs(t, err, ErrIOFailure)
}

func TestEncoderNeverSplitsBatches(t *testing.T) {
	props := writerProperties(CodecOptions{Compression: compress.Codecs.Zstd})
	assert.EqualValues(t, math.MaxInt64, props.MaxRowGroupLength())
	assert.Equal(t, compress.Codecs.Zstd, props.Compression())
}

func TestConcatBatches(t *testing.T) {
	mem := memory.NewGoAllocator()
	a := priceBatch(mem, 0, 3)
	defer a.Release()
	b := priceBatch(mem, 3, 2)
	defer b.Release()
	whole := priceBatch(mem, 0, 5)
	defer whole.Release()

	got, err := concatBatches(priceSchema, []arrow.RecordBatch{a, b})
	require.NoError(t, err)
	defer got.Release()
	assert.True(t, array.RecordEqual(whole, got))
}
