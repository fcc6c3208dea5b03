// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DatasetSummary describes a published dataset. Every field is recomputed
// from the stored file on each lookup.
type DatasetSummary struct {
	Name         string
	Schema       *arrow.Schema
	TotalRecords int64
	TotalBytes   int64
	NumBatches   int
	ModTime      time.Time
}

// Catalog maps dataset names onto blobs in a Store. It keeps no cache; the
// only in-memory state is the set of names reserved by in-progress uploads
// and drops.
type Catalog struct {
	store  Store
	logger *slog.Logger

	mu sync.Mutex
	// each reserved name maps to a channel closed on release
	reserved map[string]chan struct{}
}

// NewCatalog creates a catalog over store. A nil logger uses slog.Default().
func NewCatalog(store Store, logger *slog.Logger) *Catalog {
	return &Catalog{
		store:    store,
		logger:   loggerOrDefault(logger),
		reserved: make(map[string]chan struct{}),
	}
}

// Store returns the backing store.
func (c *Catalog) Store() Store {
	return c.store
}

// reserve claims name. When it is already held, the holder's release
// channel is returned instead.
func (c *Catalog) reserve(name string) (<-chan struct{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if released, busy := c.reserved[name]; busy {
		return released, false
	}
	c.reserved[name] = make(chan struct{})
	return nil, true
}

func (c *Catalog) release(name string) {
	c.mu.Lock()
	if released, ok := c.reserved[name]; ok {
		close(released)
		delete(c.reserved, name)
	}
	c.mu.Unlock()
}

// List enumerates published datasets in name order. The store is listed
// once when iteration starts and each entry is summarized as it is yielded.
// Entries that disappear or cannot be decoded are skipped.
func (c *Catalog) List(ctx context.Context) iter.Seq2[DatasetSummary, error] {
	return func(yield func(DatasetSummary, error) bool) {
		infos, err := c.store.List(ctx)
		if err != nil {
			yield(DatasetSummary{}, err)
			return
		}
		for _, info := range infos {
			if err := ctx.Err(); err != nil {
				yield(DatasetSummary{}, err)
				return
			}
			summary, err := c.summarize(ctx, info.Name)
			switch {
			case errors.Is(err, ErrNotFound):
				continue
			case err != nil:
				c.logger.Warn("skipping unreadable dataset", "dataset", info.Name, "err", err)
				continue
			}
			if !yield(summary, nil) {
				return
			}
		}
	}
}

// Lookup summarizes one dataset.
func (c *Catalog) Lookup(ctx context.Context, name string) (DatasetSummary, error) {
	if err := ValidateName(name); err != nil {
		return DatasetSummary{}, err
	}
	return c.summarize(ctx, name)
}

// Resolve maps a client descriptor onto a published dataset.
func (c *Catalog) Resolve(ctx context.Context, desc *flight.FlightDescriptor) (DatasetSummary, error) {
	name, err := DatasetName(desc)
	if err != nil {
		return DatasetSummary{}, err
	}
	return c.summarize(ctx, name)
}

func (c *Catalog) summarize(ctx context.Context, name string) (DatasetSummary, error) {
	h, err := c.store.Open(ctx, name)
	if err != nil {
		return DatasetSummary{}, err
	}
	defer h.Close()
	schema, rows, batches, err := ReadSummary(h)
	if err != nil {
		return DatasetSummary{}, wrapError(KindIOFailure, err, "dataset %q is not readable", name)
	}
	var mod time.Time
	if info, err := c.store.Stat(ctx, name); err == nil {
		mod = info.ModTime
	}
	return DatasetSummary{
		Name:         name,
		Schema:       schema,
		TotalRecords: rows,
		TotalBytes:   h.Size(),
		NumBatches:   batches,
		ModTime:      mod,
	}, nil
}

// Register reserves name for a new dataset. The returned reservation holds
// the name until it is committed or aborted; concurrent registrations of the
// same name fail with AlreadyExists.
func (c *Catalog) Register(ctx context.Context, name string, schema *arrow.Schema) (*Reservation, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, newError(KindSchemaMismatch, "upload of %q carries no schema", name)
	}
	if err := checkUniqueFields(schema); err != nil {
		return nil, err
	}
	if _, ok := c.reserve(name); !ok {
		return nil, newError(KindAlreadyExists, "dataset %q is being modified", name)
	}
	_, err := c.store.Stat(ctx, name)
	switch {
	case err == nil:
		c.release(name)
		return nil, newError(KindAlreadyExists, "dataset %q already exists", name)
	case !errors.Is(err, ErrNotFound):
		c.release(name)
		return nil, err
	}
	wh, err := c.store.Create(ctx, name)
	if err != nil {
		c.release(name)
		return nil, err
	}
	c.logger.Debug("dataset registered", "dataset", name, "fields", schema.NumFields())
	return &Reservation{catalog: c, name: name, schema: schema, handle: wh}, nil
}

// Remove deletes a published dataset. A name held by an upload that has not
// been published is reported as NotFound; a name that is published but
// briefly held (a rejected duplicate registration, a commit finishing) is
// waited for.
func (c *Catalog) Remove(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	for {
		released, ok := c.reserve(name)
		if ok {
			break
		}
		if _, err := c.store.Stat(ctx, name); err != nil {
			return err
		}
		select {
		case <-released:
		case <-ctx.Done():
			return wrapError(KindStreamAborted, ctx.Err(), "removing %q", name)
		}
	}
	defer c.release(name)
	if err := c.store.Remove(ctx, name); err != nil {
		return err
	}
	c.logger.Info("dataset removed", "dataset", name)
	return nil
}

// Open opens a published dataset for batch-at-a-time reading.
func (c *Catalog) Open(ctx context.Context, name string, mem memory.Allocator) (*DatasetReader, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	h, err := c.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	dec, err := NewBatchDecoder(h, mem)
	if err != nil {
		h.Close()
		return nil, wrapError(KindIOFailure, err, "dataset %q is not readable", name)
	}
	return &DatasetReader{Name: name, handle: h, dec: dec}, nil
}

// DatasetReader is an open dataset file.
type DatasetReader struct {
	Name   string
	handle ReadHandle
	dec    *BatchDecoder
}

// Schema returns the dataset schema.
func (r *DatasetReader) Schema() *arrow.Schema { return r.dec.Schema() }

// NumBatches returns the number of stored batches.
func (r *DatasetReader) NumBatches() int { return r.dec.NumBatches() }

// NumRows returns the total row count.
func (r *DatasetReader) NumRows() int64 { return r.dec.NumRows() }

// Size returns the file size in bytes.
func (r *DatasetReader) Size() int64 { return r.handle.Size() }

// Batch decodes stored batch i.
func (r *DatasetReader) Batch(ctx context.Context, i int) (arrow.RecordBatch, error) {
	return r.dec.Batch(ctx, i)
}

// Close releases the decoder and the file handle.
func (r *DatasetReader) Close() error {
	r.dec.Close()
	return r.handle.Close()
}

// Reservation is a registered but unpublished dataset.
type Reservation struct {
	catalog *Catalog
	name    string
	schema  *arrow.Schema
	handle  WriteHandle
	written int64

	once sync.Once
}

// Write appends dataset bytes to the staging file.
func (r *Reservation) Write(p []byte) (int, error) {
	n, err := r.handle.Write(p)
	r.written += int64(n)
	return n, err
}

// Name returns the reserved dataset name.
func (r *Reservation) Name() string { return r.name }

// Schema returns the schema the dataset was registered with.
func (r *Reservation) Schema() *arrow.Schema { return r.schema }

// Writer returns the staging writer for the dataset bytes.
func (r *Reservation) Writer() io.Writer { return r }

// Commit publishes the dataset and releases the name. The summary is built
// from what was written, rows and batches as counted by the encoder; the
// published file is not read back, so once Commit returns nil the upload
// has succeeded.
func (r *Reservation) Commit(rows int64, batches int) (DatasetSummary, error) {
	var err error
	committed := false
	r.once.Do(func() {
		committed = true
		err = r.handle.Commit()
		r.catalog.release(r.name)
	})
	if !committed {
		return DatasetSummary{}, newError(KindIOFailure, "reservation for %q already finished", r.name)
	}
	if err != nil {
		return DatasetSummary{}, err
	}
	r.catalog.logger.Info("dataset published", "dataset", r.name, "rows", rows, "batches", batches)
	return DatasetSummary{
		Name:         r.name,
		Schema:       r.schema,
		TotalRecords: rows,
		TotalBytes:   r.written,
		NumBatches:   batches,
		ModTime:      time.Now(),
	}, nil
}

// Abort discards everything written and releases the name. It is a no-op
// after Commit or a previous Abort.
func (r *Reservation) Abort() {
	r.once.Do(func() {
		if err := r.handle.Abort(); err != nil {
			r.catalog.logger.Warn("failed to discard staged upload", "dataset", r.name, "err", err)
		}
		r.catalog.release(r.name)
		r.catalog.logger.Debug("registration rolled back", "dataset", r.name)
	})
}
