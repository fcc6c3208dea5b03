// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
)

var priceSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "price", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

var labelSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "label", Type: arrow.BinaryTypes.String},
}, nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// priceBatch builds n rows with ids starting at offset.
func priceBatch(mem memory.Allocator, offset, n int64) arrow.RecordBatch {
	ids := array.NewInt64Builder(mem)
	defer ids.Release()
	prices := array.NewFloat64Builder(mem)
	defer prices.Release()
	for i := offset; i < offset+n; i++ {
		ids.Append(i)
		if i%4 == 3 {
			prices.AppendNull()
		} else {
			prices.Append(float64(i) * 1.5)
		}
	}
	idArr := ids.NewArray()
	defer idArr.Release()
	priceArr := prices.NewArray()
	defer priceArr.Release()
	return array.NewRecordBatch(priceSchema, []arrow.Array{idArr, priceArr}, n)
}

func labelBatch(mem memory.Allocator, labels ...string) arrow.RecordBatch {
	ids := array.NewInt64Builder(mem)
	defer ids.Release()
	strs := array.NewStringBuilder(mem)
	defer strs.Release()
	for i, l := range labels {
		ids.Append(int64(i))
		strs.Append(l)
	}
	idArr := ids.NewArray()
	defer idArr.Release()
	strArr := strs.NewArray()
	defer strArr.Release()
	return array.NewRecordBatch(labelSchema, []arrow.Array{idArr, strArr}, int64(len(labels)))
}

func releaseBatches(batches []arrow.RecordBatch) {
	for _, b := range batches {
		b.Release()
	}
}

func rowCounts(batches []arrow.RecordBatch) []int64 {
	out := make([]int64, len(batches))
	for i, b := range batches {
		out[i] = b.NumRows()
	}
	return out
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return NewCatalog(store, discardLogger())
}

// uploadDirect publishes a dataset through a session manager without a
// network round trip.
func uploadDirect(t *testing.T, m *SessionManager, name string, schema *arrow.Schema, batches ...arrow.RecordBatch) DatasetSummary {
	t.Helper()
	sink, err := m.openUpload(context.Background(), name, schema)
	require.NoError(t, err)
	for _, b := range batches {
		_, err := sink.Write(b)
		require.NoError(t, err)
	}
	summary, err := sink.Close(context.Background())
	require.NoError(t, err)
	return summary
}

// startServer runs a server on a loopback port over a temporary store and
// returns a connected client.
func startServer(t *testing.T, opts ...Option) (*Server, *Client) {
	t.Helper()
	return startConfiguredServer(t, nil, opts...)
}

// startConfiguredServer is startServer with a callback that runs before the
// server starts accepting calls.
func startConfiguredServer(t *testing.T, configure func(*Server), opts ...Option) (*Server, *Client) {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return startServerOn(t, store, configure, opts...)
}

// startServerOn runs a server over store.
func startServerOn(t *testing.T, store Store, configure func(*Server), opts ...Option) (*Server, *Client) {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	server := NewServer(store, opts...)
	if configure != nil {
		configure(server)
	}
	require.NoError(t, server.Listen("127.0.0.1:0"))
	go func() { _ = server.Serve() }()
	t.Cleanup(server.Shutdown)

	client, err := Dial(server.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return server, client
}
