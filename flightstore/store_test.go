// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBlob(t *testing.T, s *LocalStore, name, body string) {
	t.Helper()
	wh, err := s.Create(context.Background(), name)
	require.NoError(t, err)
	_, err = io.WriteString(wh, body)
	require.NoError(t, err)
	require.NoError(t, wh.Commit())
}

func TestLocalStoreCommitPublishes(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	wh, err := s.Create(ctx, "a")
	require.NoError(t, err)
	_, err = io.WriteString(wh, "hello")
	require.NoError(t, err)

	// nothing is visible before commit
	_, err = s.Stat(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	infos, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	require.NoError(t, wh.Commit())
	info, err := s.Stat(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size)

	h, err := s.Open(ctx, "a")
	require.NoError(t, err)
	defer h.Close()
	assert.EqualValues(t, 5, h.Size())
	b, err := io.ReadAll(h)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	// a second commit fails and abort after commit is harmless
	assert.ErrorIs(t, wh.Commit(), ErrIOFailure)
	assert.NoError(t, wh.Abort())

	staged, err := os.ReadDir(filepath.Join(s.Root(), stagingDir))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestLocalStoreAbortDiscards(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	wh, err := s.Create(ctx, "a")
	require.NoError(t, err)
	_, err = io.WriteString(wh, "partial")
	require.NoError(t, err)
	require.NoError(t, wh.Abort())
	require.NoError(t, wh.Abort())

	_, err = s.Stat(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	staged, err := os.ReadDir(filepath.Join(s.Root(), stagingDir))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestLocalStoreCommitNeverReplaces(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	first, err := s.Create(ctx, "a")
	require.NoError(t, err)
	second, err := s.Create(ctx, "a")
	require.NoError(t, err)
	_, err = io.WriteString(first, "first")
	require.NoError(t, err)
	_, err = io.WriteString(second, "second!")
	require.NoError(t, err)

	require.NoError(t, first.Commit())
	assert.ErrorIs(t, second.Commit(), ErrAlreadyExists)

	info, err := s.Stat(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, len("first"), info.Size)
}

func TestLocalStoreListHidesInternals(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	writeBlob(t, s, "b", "2")
	writeBlob(t, s, "a", "1")
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), ".dotfile"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "subdir"), 0o755))

	// an open upload stays invisible
	wh, err := s.Create(ctx, "c")
	require.NoError(t, err)
	defer wh.Abort()

	infos, err := s.List(ctx)
	require.NoError(t, err)
	var names []string
	for _, i := range infos {
		names = append(names, i.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)

	_, err = s.Stat(ctx, "subdir")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Open(ctx, "subdir")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreRemove(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	writeBlob(t, s, "a", "1")

	require.NoError(t, s.Remove(ctx, "a"))
	assert.ErrorIs(t, s.Remove(ctx, "a"), ErrNotFound)
	_, err = s.Open(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreRejectsBadNames(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Create(ctx, "../escape")
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
	_, err = s.Open(ctx, ".staging")
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
	assert.ErrorIs(t, s.Remove(ctx, ""), ErrInvalidDescriptor)
}

func TestLocalStoreSweepsStaleStaging(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	_, err = s.Create(context.Background(), "left-behind")
	require.NoError(t, err)

	staged, err := os.ReadDir(filepath.Join(dir, stagingDir))
	require.NoError(t, err)
	require.Len(t, staged, 1)

	_, err = NewLocalStore(dir)
	require.NoError(t, err)
	staged, err = os.ReadDir(filepath.Join(dir, stagingDir))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestLocalStoreHonoursCancellation(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Create(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}
