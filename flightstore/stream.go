// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// SessionManager opens download and upload sessions against a catalog.
type SessionManager struct {
	catalog *Catalog
	codec   CodecOptions
	mem     memory.Allocator
	logger  *slog.Logger

	downloads atomic.Int64
	uploads   atomic.Int64
}

// NewSessionManager creates a session manager. Uploads are encoded with
// codec.
func NewSessionManager(catalog *Catalog, codec CodecOptions, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		catalog: catalog,
		codec:   codec,
		mem:     codec.allocator(),
		logger:  loggerOrDefault(logger),
	}
}

// Catalog returns the catalog sessions are opened against.
func (m *SessionManager) Catalog() *Catalog { return m.catalog }

// ActiveDownloads returns the number of open download sessions.
func (m *SessionManager) ActiveDownloads() int64 { return m.downloads.Load() }

// ActiveUploads returns the number of open upload sessions.
func (m *SessionManager) ActiveUploads() int64 { return m.uploads.Load() }

// OpenDownload starts streaming the dataset a ticket was issued for.
func (m *SessionManager) OpenDownload(ctx context.Context, ticket *flight.Ticket) (*BatchStream, error) {
	name, err := DatasetFromTicket(ticket)
	if err != nil {
		return nil, err
	}
	return m.openDownload(ctx, name)
}

func (m *SessionManager) openDownload(ctx context.Context, name string) (*BatchStream, error) {
	rd, err := m.catalog.Open(ctx, name, m.mem)
	if err != nil {
		return nil, err
	}
	m.downloads.Add(1)
	return &BatchStream{mgr: m, rd: rd}, nil
}

// BatchStream yields the stored batches of one dataset in order. It is
// forward-only and holds at most one decoded batch.
type BatchStream struct {
	mgr    *SessionManager
	rd     *DatasetReader
	next   int
	cur    arrow.RecordBatch
	err    error
	closed bool
}

// Name returns the dataset being streamed.
func (s *BatchStream) Name() string { return s.rd.Name }

// Schema returns the dataset schema.
func (s *BatchStream) Schema() *arrow.Schema { return s.rd.Schema() }

// NumBatches returns the number of batches the stream will yield.
func (s *BatchStream) NumBatches() int { return s.rd.NumBatches() }

// Next decodes the next batch. It returns false at end of stream or on
// error; check Err to tell them apart. The previous batch is released.
func (s *BatchStream) Next(ctx context.Context) bool {
	s.releaseCurrent()
	if s.closed || s.err != nil || s.next >= s.rd.NumBatches() {
		return false
	}
	if err := ctx.Err(); err != nil {
		s.err = wrapError(KindStreamAborted, err, "download of %q cancelled", s.rd.Name)
		return false
	}
	batch, err := s.rd.Batch(ctx, s.next)
	if err != nil {
		s.err = err
		return false
	}
	s.cur = batch
	s.next++
	return true
}

// Batch returns the batch decoded by the last successful Next. It is valid
// until the following Next or Close; Retain it to keep it longer.
func (s *BatchStream) Batch() arrow.RecordBatch { return s.cur }

// Err returns the error that stopped the stream, if any.
func (s *BatchStream) Err() error { return s.err }

// Close releases the buffered batch and the file handle. It is idempotent.
func (s *BatchStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.releaseCurrent()
	s.mgr.downloads.Add(-1)
	return s.rd.Close()
}

func (s *BatchStream) releaseCurrent() {
	if s.cur != nil {
		s.cur.Release()
		s.cur = nil
	}
}

// OpenUpload registers the dataset named by desc and returns a sink for its
// batches. Nothing becomes visible until the sink is closed successfully.
func (m *SessionManager) OpenUpload(ctx context.Context, desc *flight.FlightDescriptor, schema *arrow.Schema) (*BatchSink, error) {
	name, err := DatasetName(desc)
	if err != nil {
		return nil, err
	}
	return m.openUpload(ctx, name, schema)
}

func (m *SessionManager) openUpload(ctx context.Context, name string, schema *arrow.Schema) (*BatchSink, error) {
	res, err := m.catalog.Register(ctx, name, schema)
	if err != nil {
		return nil, err
	}
	enc, err := NewBatchEncoder(res.Writer(), schema, m.codec)
	if err != nil {
		res.Abort()
		return nil, err
	}
	m.uploads.Add(1)
	return &BatchSink{mgr: m, res: res, enc: enc}, nil
}

// BatchSink receives the batches of one upload. Batches are stored in
// arrival order, one stored batch per received batch.
type BatchSink struct {
	mgr *SessionManager
	res *Reservation
	enc *BatchEncoder

	mu   sync.Mutex
	done bool
}

// Name returns the dataset being uploaded.
func (s *BatchSink) Name() string { return s.res.Name() }

// Schema returns the registered schema.
func (s *BatchSink) Schema() *arrow.Schema { return s.res.Schema() }

// Write validates and stores one batch. A batch whose schema differs from
// the registered one aborts the upload.
func (s *BatchSink) Write(batch arrow.RecordBatch) (PutAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return PutAck{}, newError(KindStreamAborted, "upload of %q already finished", s.res.Name())
	}
	schema := s.res.Schema()
	if err := checkSchemaCompatible(schema, batch.Schema()); err != nil {
		s.abortLocked(err)
		return PutAck{}, err
	}
	// the parquet writer compares schemas including metadata
	if batch.Schema() != schema {
		batch = array.NewRecordBatch(schema, batch.Columns(), batch.NumRows())
		defer batch.Release()
	}
	if err := s.enc.Encode(batch); err != nil {
		s.abortLocked(err)
		return PutAck{}, err
	}
	return PutAck{
		Batch:     int64(s.enc.Batches() - 1),
		Rows:      batch.NumRows(),
		TotalRows: s.enc.Rows(),
	}, nil
}

// Rows returns the number of rows stored so far.
func (s *BatchSink) Rows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Rows()
}

// Close finalizes the file and publishes the dataset.
func (s *BatchSink) Close(ctx context.Context) (DatasetSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return DatasetSummary{}, newError(KindStreamAborted, "upload of %q already finished", s.res.Name())
	}
	if err := ctx.Err(); err != nil {
		err = wrapError(KindStreamAborted, err, "upload of %q cancelled", s.res.Name())
		s.abortLocked(err)
		return DatasetSummary{}, err
	}
	if err := s.enc.Close(); err != nil {
		s.abortLocked(err)
		return DatasetSummary{}, err
	}
	s.done = true
	s.mgr.uploads.Add(-1)
	summary, err := s.res.Commit(s.enc.Rows(), s.enc.Batches())
	if err != nil {
		s.mgr.logger.Warn("upload not published", "dataset", s.res.Name(), "err", err)
		return DatasetSummary{}, err
	}
	return summary, nil
}

// Abort discards the upload and unregisters the name. It returns cause as
// an *Error; a nil cause is reported as StreamAborted.
func (s *BatchSink) Abort(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortLocked(cause)
}

func (s *BatchSink) abortLocked(cause error) error {
	var fe *Error
	switch {
	case cause == nil:
		cause = newError(KindStreamAborted, "upload of %q aborted", s.res.Name())
	case !errors.As(cause, &fe):
		cause = wrapError(KindOf(cause), cause, "upload of %q aborted", s.res.Name())
	}
	if s.done {
		return cause
	}
	s.done = true
	s.mgr.uploads.Add(-1)
	// release the name before touching an encoder that may be in a bad state
	s.res.Abort()
	s.enc.Close()
	s.mgr.logger.Info("upload rolled back", "dataset", s.res.Name(), "kind", KindOf(cause), "err", cause)
	return cause
}
