// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// stagingDir holds in-progress uploads. It is hidden from listings.
const stagingDir = ".staging"

// ObjectInfo describes one stored blob.
type ObjectInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// ReadHandle is an open stored blob. It supports the random access the batch
// codec needs to read a footer before data pages.
type ReadHandle interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
	Size() int64
}

// WriteHandle receives the bytes of a new blob. Nothing is visible under the
// blob's name until Commit returns nil; Abort discards everything written.
type WriteHandle interface {
	io.Writer
	Commit() error
	Abort() error
}

// Store is the hierarchical byte-addressable storage the catalog is built on.
// Implementations must be safe for concurrent use.
type Store interface {
	List(ctx context.Context) ([]ObjectInfo, error)
	Stat(ctx context.Context, name string) (ObjectInfo, error)
	Open(ctx context.Context, name string) (ReadHandle, error)
	Create(ctx context.Context, name string) (WriteHandle, error)
	Remove(ctx context.Context, name string) error
}

// LocalStore stores one file per blob under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore opens (creating if needed) a store rooted at dir. Staging
// files left behind by an earlier process are removed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, newError(KindIOFailure, "store root must not be empty")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, wrapError(KindIOFailure, err, "resolving store root %q", dir)
	}
	staging := filepath.Join(root, stagingDir)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, wrapError(KindIOFailure, err, "creating store root %q", root)
	}
	entries, err := os.ReadDir(staging)
	if err != nil {
		return nil, wrapError(KindIOFailure, err, "reading staging directory")
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(staging, e.Name())); err != nil {
			slog.Warn("failed to remove stale staging file", "file", e.Name(), "err", err)
		}
	}
	return &LocalStore{root: root}, nil
}

// Root returns the absolute root directory.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

// List returns the visible blobs sorted by name. Directories and hidden
// entries are skipped.
func (s *LocalStore) List(ctx context.Context) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, wrapError(KindIOFailure, err, "listing %q", s.root)
	}
	infos := make([]ObjectInfo, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, wrapError(KindIOFailure, err, "stat %q", e.Name())
		}
		infos = append(infos, ObjectInfo{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Stat describes a single blob.
func (s *LocalStore) Stat(ctx context.Context, name string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	p, err := s.path(name)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return ObjectInfo{}, fsError(err, name)
	}
	if !fi.Mode().IsRegular() {
		return ObjectInfo{}, newError(KindNotFound, "dataset %q does not exist", name)
	}
	return ObjectInfo{Name: name, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Open opens a blob for reading.
func (s *LocalStore) Open(ctx context.Context, name string) (ReadHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fsError(err, name)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fsError(err, name)
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, newError(KindNotFound, "dataset %q does not exist", name)
	}
	return &localReadHandle{File: f, size: fi.Size()}, nil
}

// Create starts a new blob in the staging directory.
func (s *LocalStore) Create(ctx context.Context, name string) (WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	final, err := s.path(name)
	if err != nil {
		return nil, err
	}
	tmp := filepath.Join(s.root, stagingDir, fmt.Sprintf("%s.%s.part", name, uuid.NewString()))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, wrapError(KindIOFailure, err, "creating staging file for %q", name)
	}
	return &localWriteHandle{f: f, tmp: tmp, final: final, name: name}, nil
}

// Remove deletes a blob.
func (s *LocalStore) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fsError(err, name)
	}
	return nil
}

func fsError(err error, name string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return wrapError(KindNotFound, err, "dataset %q does not exist", name)
	}
	return wrapError(KindIOFailure, err, "accessing %q", name)
}

type localReadHandle struct {
	*os.File
	size int64
}

func (h *localReadHandle) Size() int64 {
	return h.size
}

type localWriteHandle struct {
	f     *os.File
	tmp   string
	final string
	name  string
	done  bool
}

func (h *localWriteHandle) Write(p []byte) (int, error) {
	n, err := h.f.Write(p)
	if err != nil {
		return n, wrapError(KindIOFailure, err, "writing %q", h.name)
	}
	return n, nil
}

// Commit publishes the staged file under its final name. A hard link never
// replaces an existing file; filesystems without link support fall back to
// an existence check followed by rename.
func (h *localWriteHandle) Commit() error {
	if h.done {
		return newError(KindIOFailure, "upload of %q already finished", h.name)
	}
	h.done = true
	defer os.Remove(h.tmp)

	if err := h.f.Sync(); err != nil {
		h.f.Close()
		return wrapError(KindIOFailure, err, "syncing %q", h.name)
	}
	if err := h.f.Close(); err != nil {
		return wrapError(KindIOFailure, err, "closing %q", h.name)
	}

	err := os.Link(h.tmp, h.final)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return wrapError(KindAlreadyExists, err, "dataset %q already exists", h.name)
	}
	slog.Debug("hard link unavailable, falling back to rename", "dataset", h.name, "err", err)
	if _, statErr := os.Lstat(h.final); statErr == nil {
		return newError(KindAlreadyExists, "dataset %q already exists", h.name)
	}
	if err := os.Rename(h.tmp, h.final); err != nil {
		return wrapError(KindIOFailure, err, "publishing %q", h.name)
	}
	return nil
}

// Abort discards the staged file. It is safe to call after Commit.
func (h *localWriteHandle) Abort() error {
	if h.done {
		return nil
	}
	h.done = true
	h.f.Close()
	if err := os.Remove(h.tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrapError(KindIOFailure, err, "removing staging file for %q", h.name)
	}
	return nil
}
