// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/stretchr/testify/require"
)

// faultyStore wraps a LocalStore and injects storage failures.
type faultyStore struct {
	*LocalStore

	// failOpen makes every Open fail.
	failOpen atomic.Bool
	// panicWrite makes the next write after a handle's first one panic.
	panicWrite atomic.Bool

	mu         sync.Mutex
	readFaults map[string]int64
}

func newFaultyStore(t *testing.T) *faultyStore {
	t.Helper()
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return &faultyStore{LocalStore: local, readFaults: make(map[string]int64)}
}

func (s *faultyStore) Open(ctx context.Context, name string) (ReadHandle, error) {
	if s.failOpen.Load() {
		return nil, newError(KindIOFailure, "disk offline")
	}
	h, err := s.LocalStore.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	off, ok := s.readFaults[name]
	s.mu.Unlock()
	if !ok {
		return h, nil
	}
	return &faultyReadHandle{ReadHandle: h, badOffset: off}, nil
}

func (s *faultyStore) Create(ctx context.Context, name string) (WriteHandle, error) {
	h, err := s.LocalStore.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &faultyWriteHandle{WriteHandle: h, store: s}, nil
}

// breakBatch makes reads of stored batch i of name fail. The footer and
// earlier batches stay readable.
func (s *faultyStore) breakBatch(t *testing.T, name string, i int) {
	t.Helper()
	h, err := s.LocalStore.Open(context.Background(), name)
	require.NoError(t, err)
	defer h.Close()
	pf, err := file.NewParquetReader(struct{ parquet.ReaderAtSeeker }{h})
	require.NoError(t, err)
	defer pf.Close()

	col, err := pf.MetaData().RowGroup(i).ColumnChunk(0)
	require.NoError(t, err)
	start := col.DataPageOffset()
	if col.HasDictionaryPage() && col.DictionaryPageOffset() > 0 && col.DictionaryPageOffset() < start {
		start = col.DictionaryPageOffset()
	}
	s.mu.Lock()
	s.readFaults[name] = start
	s.mu.Unlock()
}

type faultyReadHandle struct {
	ReadHandle
	badOffset int64
}

func (h *faultyReadHandle) ReadAt(p []byte, off int64) (int, error) {
	if off <= h.badOffset && h.badOffset < off+int64(len(p)) {
		return 0, errors.New("bad sector")
	}
	return h.ReadHandle.ReadAt(p, off)
}

type faultyWriteHandle struct {
	WriteHandle
	store   *faultyStore
	written int64
}

func (h *faultyWriteHandle) Write(p []byte) (int, error) {
	if h.written > 0 && h.store.panicWrite.CompareAndSwap(true, false) {
		panic("staging file corrupted")
	}
	n, err := h.WriteHandle.Write(p)
	h.written += int64(n)
	return n, err
}
