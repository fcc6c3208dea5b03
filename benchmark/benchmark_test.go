// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/flight-store/flightstore"
)

func TestTradeBatchDeterministic(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	a := TradeBatch(mem, 7, 100, 25)
	defer a.Release()
	b := TradeBatch(mem, 7, 100, 25)
	defer b.Release()
	c := TradeBatch(mem, 8, 100, 25)
	defer c.Release()

	assert.True(t, a.Schema().Equal(TradeSchema))
	assert.EqualValues(t, 25, a.NumRows())
	assert.EqualValues(t, 30, a.NumCols())
	assert.True(t, array.RecordEqual(a, b))
	assert.False(t, array.RecordEqual(a, c))
	assert.Equal(t, "000000000100", a.Column(0).(*array.String).Value(0))
}

func TestTradeGenerator(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	g := NewTradeGenerator(mem, 25, 10, 1)
	var sizes []int64
	for g.Next() {
		sizes = append(sizes, g.Batch().NumRows())
	}
	g.Release()
	assert.Equal(t, []int64{10, 10, 5}, sizes)

	batches := NewTradeGenerator(mem, 3, 0, 1).Collect()
	require.Len(t, batches, 1)
	assert.EqualValues(t, 3, batches[0].NumRows())
	batches[0].Release()
}

func TestTradeCodecRoundTrip(t *testing.T) {
	mem := memory.NewGoAllocator()
	batches := NewTradeGenerator(mem, 2500, 1000, 3).Collect()
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()

	var buf bytes.Buffer
	enc, err := flightstore.NewBatchEncoder(&buf, TradeSchema, flightstore.DefaultCodecOptions())
	require.NoError(t, err)
	for _, b := range batches {
		require.NoError(t, enc.Encode(b))
	}
	require.NoError(t, enc.Close())

	dec, err := flightstore.NewBatchDecoder(bytes.NewReader(buf.Bytes()), mem)
	require.NoError(t, err)
	defer dec.Close()
	require.Equal(t, 3, dec.NumBatches())
	assert.EqualValues(t, 2500, dec.NumRows())
	for i, want := range batches {
		got, err := dec.Batch(context.Background(), i)
		require.NoError(t, err)
		assert.True(t, array.RecordEqual(want, got), "batch %d", i)
		got.Release()
	}
}

func BenchmarkTradeBatch(b *testing.B) {
	mem := memory.NewGoAllocator()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		TradeBatch(mem, 1, int64(i)*RowGroupRecords, RowGroupRecords).Release()
	}
}

func BenchmarkEncode(b *testing.B) {
	for _, codec := range []string{"uncompressed", "snappy", "zstd"} {
		b.Run(codec, func(b *testing.B) {
			mem := memory.NewGoAllocator()
			batch := TradeBatch(mem, 1, 0, RowGroupRecords)
			defer batch.Release()
			opts := flightstore.DefaultCodecOptions()
			var err error
			opts.Compression, err = flightstore.ParseCompression(codec)
			require.NoError(b, err)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				enc, err := flightstore.NewBatchEncoder(io.Discard, TradeSchema, opts)
				if err != nil {
					b.Fatal(err)
				}
				if err := enc.Encode(batch); err != nil {
					b.Fatal(err)
				}
				if err := enc.Close(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkUploadDownload(b *testing.B) {
	store, err := flightstore.NewLocalStore(b.TempDir())
	require.NoError(b, err)
	server := flightstore.NewServer(store, flightstore.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(b, server.Listen("127.0.0.1:0"))
	go func() { _ = server.Serve() }()
	defer server.Shutdown()

	client, err := flightstore.Dial(server.Addr().String())
	require.NoError(b, err)
	defer client.Close()

	mem := memory.NewGoAllocator()
	batches := NewTradeGenerator(mem, 5*RowGroupRecords, RowGroupRecords, 9).Collect()
	defer func() {
		for _, batch := range batches {
			batch.Release()
		}
	}()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		name := fmt.Sprintf("bench-%d", i)
		if _, err := client.Upload(ctx, name, TradeSchema, batches); err != nil {
			b.Fatal(err)
		}
		_, got, err := client.DownloadDataset(ctx, name)
		if err != nil {
			b.Fatal(err)
		}
		for _, g := range got {
			g.Release()
		}
		if err := client.Drop(ctx, name); err != nil {
			b.Fatal(err)
		}
	}
}
