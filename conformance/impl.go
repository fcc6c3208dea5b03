// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	"github.com/Query-farm/flight-store/flightstore"
)

// Options tunes a conformance run.
type Options struct {
	// Prefix starts every dataset name. Default "conformance".
	Prefix string
	// Suffix ends every dataset name. Default: eight random hex digits.
	Suffix string
	// Settle bounds how long to wait for the server to roll back an
	// upload whose client went away. Default 5s.
	Settle time.Duration
	// Only restricts the run to the named scenarios when non-empty.
	Only []string
	// Logger receives one line per scenario. Default slog.Default().
	Logger *slog.Logger
}

type scenario struct {
	name string
	run  func(ctx context.Context, s *suite) error
}

var scenarios = []scenario{
	{"round_trip", roundTrip},
	{"idempotent_listing", idempotentListing},
	{"duplicate_rejection", duplicateRejection},
	{"duplicate_field_names", duplicateFieldNames},
	{"schema_mismatch", schemaMismatch},
	{"aborted_upload", abortedUpload},
	{"drop_invalidates_ticket", dropInvalidatesTicket},
	{"unknown_action", unknownAction},
	{"invalid_descriptor", invalidDescriptor},
	{"trades", trades},
}

// Scenarios lists the scenario names in run order.
func Scenarios() []string {
	names := make([]string, len(scenarios))
	for i, sc := range scenarios {
		names[i] = sc.name
	}
	return names
}

type suite struct {
	c       *flightstore.Client
	opts    Options
	mem     memory.Allocator
	created []string
}

// Run executes the scenarios against client in order and returns one
// result per scenario. A failing scenario does not stop the run.
func Run(ctx context.Context, client *flightstore.Client, opts Options) []Result {
	if opts.Prefix == "" {
		opts.Prefix = "conformance"
	}
	if opts.Suffix == "" {
		opts.Suffix = uuid.NewString()[:8]
	}
	if opts.Settle <= 0 {
		opts.Settle = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var results []Result
	for _, sc := range scenarios {
		if len(opts.Only) > 0 && !slices.Contains(opts.Only, sc.name) {
			continue
		}
		s := &suite{c: client, opts: opts, mem: memory.NewGoAllocator()}
		start := time.Now()
		err := sc.run(ctx, s)
		s.cleanup(ctx)

		res := Result{Name: sc.name, Passed: err == nil, Err: err}
		if err != nil {
			opts.Logger.Error("conformance scenario failed", "scenario", sc.name, "err", err, "duration", time.Since(start))
		} else {
			opts.Logger.Info("conformance scenario passed", "scenario", sc.name, "duration", time.Since(start))
		}
		results = append(results, res)
	}
	return results
}

func (s *suite) name(base string) string {
	return fmt.Sprintf("%s-%s-%s", s.opts.Prefix, base, s.opts.Suffix)
}

// upload stores batches under name and schedules the dataset for cleanup.
func (s *suite) upload(ctx context.Context, name string, schema *arrow.Schema, batches []arrow.RecordBatch) ([]flightstore.PutAck, error) {
	acks, err := s.c.Upload(ctx, name, schema, batches)
	if err == nil {
		s.created = append(s.created, name)
	}
	return acks, err
}

func (s *suite) cleanup(ctx context.Context) {
	for _, name := range s.created {
		if err := s.c.Drop(ctx, name); err != nil && !errors.Is(err, flightstore.ErrNotFound) {
			s.opts.Logger.Warn("conformance cleanup failed", "dataset", name, "err", err)
		}
	}
}

// listed reports whether name appears in the server's listing.
func (s *suite) listed(ctx context.Context, name string) (bool, error) {
	infos, err := s.c.List(ctx, name)
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if n, err := flightstore.DatasetName(info.GetFlightDescriptor()); err == nil && n == name {
			return true, nil
		}
	}
	return false, nil
}

func expectKind(err error, want *flightstore.Error, doing string) error {
	if err == nil {
		return fmt.Errorf("%s: succeeded, want %s", doing, want.Kind)
	}
	if !errors.Is(err, want) {
		return fmt.Errorf("%s: got %v, want %s", doing, err, want.Kind)
	}
	return nil
}

// --- Scenarios ---

func roundTrip(ctx context.Context, s *suite) error {
	name := s.name("roundtrip")
	batches := CounterBatches(s.mem, 4, 1, 7)
	defer releaseAll(batches)

	acks, err := s.upload(ctx, name, CounterSchema, batches)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	final := acks[len(acks)-1]
	if final.TotalRows != totalRows(batches) || final.Batch != int64(len(batches)) {
		return fmt.Errorf("final ack %+v, want %d rows in %d batches", final, totalRows(batches), len(batches))
	}

	info, err := s.c.Info(ctx, name)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	if len(info.Endpoint) != 1 {
		return fmt.Errorf("info has %d endpoints, want 1", len(info.Endpoint))
	}
	schema, got, err := s.c.Download(ctx, info.Endpoint[0].Ticket)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer releaseAll(got)
	if err := sameFields(CounterSchema, schema); err != nil {
		return err
	}
	return sameBatches(batches, got)
}

func idempotentListing(ctx context.Context, s *suite) error {
	prefix := s.name("listing")
	for i, sizes := range [][]int64{{3}, {2, 2}} {
		batches := CounterBatches(s.mem, sizes...)
		_, err := s.upload(ctx, fmt.Sprintf("%s-%d", prefix, i), CounterSchema, batches)
		releaseAll(batches)
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}
	}

	type entry struct {
		name           string
		records, bytes int64
	}
	snapshot := func() ([]entry, error) {
		infos, err := s.c.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		out := make([]entry, 0, len(infos))
		for _, info := range infos {
			n, err := flightstore.DatasetName(info.GetFlightDescriptor())
			if err != nil {
				return nil, err
			}
			out = append(out, entry{n, info.TotalRecords, info.TotalBytes})
		}
		slices.SortFunc(out, func(a, b entry) int {
			switch {
			case a.name < b.name:
				return -1
			case a.name > b.name:
				return 1
			}
			return 0
		})
		return out, nil
	}

	first, err := snapshot()
	if err != nil {
		return fmt.Errorf("first listing: %w", err)
	}
	second, err := snapshot()
	if err != nil {
		return fmt.Errorf("second listing: %w", err)
	}
	if len(first) != 2 {
		return fmt.Errorf("listing has %d datasets, want 2", len(first))
	}
	if !slices.Equal(first, second) {
		return fmt.Errorf("listings differ: %v then %v", first, second)
	}
	return nil
}

func duplicateRejection(ctx context.Context, s *suite) error {
	name := s.name("duplicate")
	original := CounterBatches(s.mem, 5, 5)
	defer releaseAll(original)
	if _, err := s.upload(ctx, name, CounterSchema, original); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	replacement := TradesBatch(s.mem, []int64{1}, []float64{2})
	defer replacement.Release()
	_, err := s.c.Upload(ctx, name, TradesSchema, []arrow.RecordBatch{replacement})
	if err := expectKind(err, flightstore.ErrAlreadyExists, "second upload"); err != nil {
		return err
	}

	_, got, err := s.c.DownloadDataset(ctx, name)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer releaseAll(got)
	return sameBatches(original, got)
}

func duplicateFieldNames(ctx context.Context, s *suite) error {
	name := s.name("dupfields")
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	b := array.NewInt64Builder(s.mem)
	defer b.Release()
	b.AppendValues([]int64{1, 2}, nil)
	col := b.NewArray()
	defer col.Release()
	batch := array.NewRecordBatch(schema, []arrow.Array{col, col}, 2)
	defer batch.Release()

	_, err := s.c.Upload(ctx, name, schema, []arrow.RecordBatch{batch})
	if err := expectKind(err, flightstore.ErrSchemaMismatch, "upload"); err != nil {
		return err
	}
	if ok, err := s.listed(ctx, name); err != nil || ok {
		return fmt.Errorf("rejected dataset listed=%t err=%v", ok, err)
	}
	return nil
}

func schemaMismatch(ctx context.Context, s *suite) error {
	name := s.name("mismatch")
	first := CounterBatch(s.mem, 0, 3)
	defer first.Release()
	second := TradesBatch(s.mem, []int64{1, 2}, []float64{3, 4})
	defer second.Release()

	err := uploadSwitchingSchema(ctx, s.c, s.mem, name, first, second)
	if err := expectKind(err, flightstore.ErrSchemaMismatch, "upload"); err != nil {
		return err
	}
	if ok, err := s.listed(ctx, name); err != nil || ok {
		return fmt.Errorf("mismatched dataset listed=%t err=%v", ok, err)
	}

	// the name was released by the rollback
	batches := CounterBatches(s.mem, 2)
	defer releaseAll(batches)
	if _, err := s.upload(ctx, name, CounterSchema, batches); err != nil {
		return fmt.Errorf("re-upload after rollback: %w", err)
	}
	return nil
}

func abortedUpload(ctx context.Context, s *suite) error {
	name := s.name("aborted")
	planned := CounterBatches(s.mem, 10, 10, 10)
	defer releaseAll(planned)

	err := uploadThenCancel(ctx, s.c, s.mem, name, planned[:1], func() error {
		if ok, err := s.listed(ctx, name); err != nil || ok {
			return fmt.Errorf("in-progress dataset listed=%t err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// the server notices the cancellation asynchronously
	deadline := time.Now().Add(s.opts.Settle)
	for {
		ok, err := s.listed(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("aborted dataset %q is listed", name)
		}
		_, err = s.upload(ctx, name, CounterSchema, planned)
		if err == nil {
			return nil
		}
		if !errors.Is(err, flightstore.ErrAlreadyExists) || time.Now().After(deadline) {
			return fmt.Errorf("re-upload after abort: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func dropInvalidatesTicket(ctx context.Context, s *suite) error {
	name := s.name("drop")
	batches := CounterBatches(s.mem, 6)
	defer releaseAll(batches)
	if _, err := s.upload(ctx, name, CounterSchema, batches); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	info, err := s.c.Info(ctx, name)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	ticket := info.Endpoint[0].Ticket

	if err := s.c.Drop(ctx, name); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	if ok, err := s.listed(ctx, name); err != nil || ok {
		return fmt.Errorf("dropped dataset listed=%t err=%v", ok, err)
	}
	_, got, err := s.c.Download(ctx, ticket)
	releaseAll(got)
	if err := expectKind(err, flightstore.ErrNotFound, "download of dropped dataset"); err != nil {
		return err
	}
	return expectKind(s.c.Drop(ctx, name), flightstore.ErrNotFound, "second drop")
}

func unknownAction(ctx context.Context, s *suite) error {
	types, err := s.c.ListActions(ctx)
	if err != nil {
		return fmt.Errorf("list actions: %w", err)
	}
	if !slices.ContainsFunc(types, func(t *flight.ActionType) bool { return t.Type == flightstore.ActionDropDataset }) {
		return fmt.Errorf("%q is not advertised", flightstore.ActionDropDataset)
	}
	_, err = s.c.DoAction(ctx, s.name("no-such-action"), nil)
	return expectKind(err, flightstore.ErrUnknownAction, "unknown action")
}

func invalidDescriptor(ctx context.Context, s *suite) error {
	bad := map[string]*flight.FlightDescriptor{
		"command":       {Type: flight.DescriptorCMD, Cmd: []byte("SELECT 1")},
		"empty path":    {Type: flight.DescriptorPATH},
		"two segments":  {Type: flight.DescriptorPATH, Path: []string{"a", "b"}},
		"parent":        {Type: flight.DescriptorPATH, Path: []string{".."}},
		"path with sep": {Type: flight.DescriptorPATH, Path: []string{"a/b"}},
	}
	for label, desc := range bad {
		_, err := s.c.Describe(ctx, desc)
		if err := expectKind(err, flightstore.ErrInvalidDescriptor, label); err != nil {
			return err
		}
	}
	_, err := s.c.Info(ctx, s.name("absent"))
	return expectKind(err, flightstore.ErrNotFound, "absent dataset")
}

func trades(ctx context.Context, s *suite) error {
	name := s.name("trades")
	batches := []arrow.RecordBatch{
		TradesBatch(s.mem, []int64{1, 2, 3, 4, 5}, []float64{10.5, 11, 11.25, 10.75, 12}),
		TradesBatch(s.mem, []int64{6, 7, 8}, []float64{12.5, 13, 12.75}),
	}
	defer releaseAll(batches)
	if _, err := s.upload(ctx, name, TradesSchema, batches); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	info, err := s.c.Info(ctx, name)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	if info.TotalRecords != 8 {
		return fmt.Errorf("total_records = %d, want 8", info.TotalRecords)
	}
	_, got, err := s.c.Download(ctx, info.Endpoint[0].Ticket)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer releaseAll(got)
	if err := sameBatches(batches, got); err != nil {
		return err
	}

	var ids []int64
	for _, b := range got {
		ids = append(ids, b.Column(0).(*array.Int64).Int64Values()...)
	}
	if !slices.Equal(ids, []int64{1, 2, 3, 4, 5, 6, 7, 8}) {
		return fmt.Errorf("ids arrived as %v", ids)
	}
	return nil
}
