// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHttpFixture(t *testing.T) (*Server, *HttpServer) {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	server := NewServer(store, WithLogger(discardLogger()))
	server.SetServerID("http-1")
	server.SetLocation("grpc+tcp://example:31337")
	return server, NewHttpServer(server)
}

func get(h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func readIPC(t *testing.T, r io.Reader) (*arrow.Schema, []arrow.RecordBatch) {
	t.Helper()
	rdr, err := ipc.NewReader(r)
	require.NoError(t, err)
	defer rdr.Release()
	var out []arrow.RecordBatch
	for rdr.Next() {
		b := rdr.RecordBatch()
		b.Retain()
		out = append(out, b)
	}
	require.NoError(t, rdr.Err())
	return rdr.Schema(), out
}

func TestHttpPrefix(t *testing.T) {
	server, _ := newHttpFixture(t)
	assert.Equal(t, "/flight", NewHttpServer(server).Prefix())
	assert.Equal(t, "/api/v1", NewHttpServerWithPrefix(server, "api/v1/").Prefix())
	assert.Equal(t, "", NewHttpServerWithPrefix(server, "/").Prefix())
}

func TestHttpLanding(t *testing.T) {
	server, h := newHttpFixture(t)
	mem := memory.NewGoAllocator()
	b := priceBatch(mem, 0, 1234)
	defer b.Release()
	uploadDirect(t, server.Sessions(), "prices<1>", priceSchema, b)

	rec := get(h, "/flight/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "http-1")
	assert.Contains(t, body, "grpc+tcp://example:31337")
	assert.Contains(t, body, "prices&lt;1&gt;")
	assert.Contains(t, body, "1,234")
	assert.Contains(t, body, "price: float64?")
	assert.NotContains(t, body, "prices<1>")
}

func TestHttpNotFoundPage(t *testing.T) {
	_, h := newHttpFixture(t)
	rec := get(h, "/flight/nowhere")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "grpc+tcp://example:31337")
}

func TestHttpListing(t *testing.T) {
	server, h := newHttpFixture(t)
	mem := memory.NewGoAllocator()
	b := priceBatch(mem, 0, 6)
	defer b.Release()
	uploadDirect(t, server.Sessions(), "b", priceSchema, b, b)
	uploadDirect(t, server.Sessions(), "a", labelSchema)

	rec := get(h, "/flight/datasets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, arrowContentType, rec.Header().Get("Content-Type"))

	schema, batches := readIPC(t, rec.Body)
	defer releaseBatches(batches)
	id, ok := schema.Metadata().GetValue(MetaServerID)
	assert.True(t, ok)
	assert.Equal(t, "http-1", id)
	require.Len(t, batches, 1)
	listing := batches[0]
	require.EqualValues(t, 2, listing.NumRows())

	names := listing.Column(0).(*array.String)
	assert.Equal(t, "a", names.Value(0))
	assert.Equal(t, "b", names.Value(1))
	assert.Equal(t, []int64{0, 12}, listing.Column(1).(*array.Int64).Int64Values())
	assert.Equal(t, []int64{0, 2}, listing.Column(3).(*array.Int64).Int64Values())

	stored, err := DeserializeListingSchema(listing.Column(4).(*array.Binary).Value(1))
	require.NoError(t, err)
	assert.True(t, stored.Equal(priceSchema))
}

func TestHttpDatasetDownload(t *testing.T) {
	server, h := newHttpFixture(t)
	mem := memory.NewGoAllocator()
	in := []arrow.RecordBatch{priceBatch(mem, 0, 4), priceBatch(mem, 4, 2)}
	defer releaseBatches(in)
	uploadDirect(t, server.Sessions(), "prices", priceSchema, in...)

	rec := get(h, "/flight/datasets/prices")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	schema, got := readIPC(t, rec.Body)
	defer releaseBatches(got)
	assert.True(t, schema.Equal(priceSchema))
	require.Len(t, got, 2)
	for i := range in {
		assert.True(t, array.RecordEqual(in[i], got[i]))
	}
}

func TestHttpDatasetZstd(t *testing.T) {
	server, h := newHttpFixture(t)
	h.SetCompressionLevel(3)
	mem := memory.NewGoAllocator()
	b := labelBatch(mem, "one", "two", "three")
	defer b.Release()
	uploadDirect(t, server.Sessions(), "labels", labelSchema, b)

	// not offered by the client: plain body
	rec := get(h, "/flight/datasets/labels")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))

	rec = get(h, "/flight/datasets/labels", "Accept-Encoding", "gzip, zstd;q=0.9")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "zstd", rec.Header().Get("Content-Encoding"))

	dec, err := zstd.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer dec.Close()
	_, got := readIPC(t, dec)
	defer releaseBatches(got)
	require.Len(t, got, 1)
	assert.True(t, array.RecordEqual(b, got[0]))
}

func TestHttpDatasetErrors(t *testing.T) {
	_, h := newHttpFixture(t)

	rec := get(h, "/flight/datasets/missing", HeaderRequestID, "http-req")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, arrowContentType, rec.Header().Get("Content-Type"))
	schema, batches := readIPC(t, rec.Body)
	assert.Empty(t, batches)
	err := ErrorFromStream(schema)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), `"missing"`)
	id, _ := schema.Metadata().GetValue(MetaServerID)
	assert.Equal(t, "http-1", id)

	rec = get(h, "/flight/datasets/.hidden")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	schema, _ = readIPC(t, rec.Body)
	assert.ErrorIs(t, ErrorFromStream(schema), ErrInvalidDescriptor)
}

func TestHttpDatasetFailsPartway(t *testing.T) {
	store := newFaultyStore(t)
	server := NewServer(store, WithLogger(discardLogger()))
	server.SetServerID("http-2")
	h := NewHttpServer(server)
	mem := memory.NewGoAllocator()
	in := []arrow.RecordBatch{priceBatch(mem, 0, 4), priceBatch(mem, 4, 4), priceBatch(mem, 8, 4)}
	defer releaseBatches(in)
	uploadDirect(t, server.Sessions(), "flaky", priceSchema, in...)
	store.breakBatch(t, "flaky", 1)

	rec := get(h, "/flight/datasets/flaky")
	// the status line went out with the first batch
	require.Equal(t, http.StatusOK, rec.Code)
	_, got := readIPC(t, rec.Body)
	defer releaseBatches(got)
	require.Len(t, got, 2)
	assert.True(t, array.RecordEqual(in[0], got[0]))
	assert.NoError(t, ErrorFromBatch(got[0]))

	assert.Zero(t, got[1].NumRows())
	err := ErrorFromBatch(got[1])
	assert.ErrorIs(t, err, ErrIOFailure)
	md := got[1].(arrow.RecordBatchWithMetadata).Metadata()
	id, _ := md.GetValue(MetaServerID)
	assert.Equal(t, "http-2", id)
}

func TestErrorFromBatchIgnoresEmptyBatches(t *testing.T) {
	empty := emptyBatch(priceSchema)
	defer empty.Release()
	assert.NoError(t, ErrorFromBatch(empty))
}

func TestHttpRunsHooks(t *testing.T) {
	server, h := newHttpFixture(t)
	hook := &recordingHook{}
	server.SetDispatchHook(hook)

	get(h, "/flight/datasets/missing", HeaderRequestID, "http-req", "User-Agent", "curl/8.5.0")

	call, ok := hook.find(MethodDoGet)
	require.True(t, ok)
	assert.Equal(t, "http-req", call.info.RequestID)
	assert.Equal(t, "missing", call.info.Dataset)
	assert.Equal(t, "http", call.info.TransportMetadata["transport"])
	assert.Equal(t, "curl/8.5.0", call.info.TransportMetadata["user_agent"])
	assert.ErrorIs(t, call.err, ErrNotFound)
}

func TestErrorFromStreamWithoutError(t *testing.T) {
	assert.NoError(t, ErrorFromStream(priceSchema))
}
