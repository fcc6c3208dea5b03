// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/Query-farm/flight-store/flightstore"
)

// uploadSwitchingSchema sends first under its own schema, then starts a
// second IPC stream on the same DoPut call carrying second. It returns the
// terminal status of the call as an *flightstore.Error.
func uploadSwitchingSchema(ctx context.Context, c *flightstore.Client, mem memory.Allocator, name string, first, second arrow.RecordBatch) error {
	stream, err := c.Flight().DoPut(ctx)
	if err != nil {
		return flightstore.FromStatus(err)
	}

	w1 := flight.NewRecordWriter(stream, ipc.WithSchema(first.Schema()), ipc.WithAllocator(mem))
	w1.SetFlightDescriptor(flightstore.PathDescriptor(name))
	// write failures surface as the status on the receive side
	if err := w1.Write(first); err == nil {
		w2 := flight.NewRecordWriter(stream, ipc.WithSchema(second.Schema()), ipc.WithAllocator(mem))
		_ = w2.Write(second)
		_ = w2.Close()
	}
	_ = stream.CloseSend()
	return drainPut(stream)
}

// uploadThenCancel sends sent batches of a planned upload and then cancels
// the call, simulating a client that disconnects partway through.
func uploadThenCancel(ctx context.Context, c *flightstore.Client, mem memory.Allocator, name string, sent []arrow.RecordBatch, beforeCancel func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.Flight().DoPut(ctx)
	if err != nil {
		return flightstore.FromStatus(err)
	}
	w := flight.NewRecordWriter(stream, ipc.WithSchema(sent[0].Schema()), ipc.WithAllocator(mem))
	w.SetFlightDescriptor(flightstore.PathDescriptor(name))
	for _, b := range sent {
		if err := w.Write(b); err != nil {
			return flightstore.FromStatus(err)
		}
	}
	if beforeCancel != nil {
		if err := beforeCancel(); err != nil {
			return err
		}
	}
	cancel()
	_ = drainPut(stream)
	return nil
}

func drainPut(stream flight.FlightService_DoPutClient) error {
	for {
		_, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return flightstore.FromStatus(err)
		}
	}
}

func releaseAll(batches []arrow.RecordBatch) {
	for _, b := range batches {
		b.Release()
	}
}

// sameFields compares names, types and nullability, ignoring metadata.
func sameFields(want, got *arrow.Schema) error {
	if want.NumFields() != got.NumFields() {
		return fmt.Errorf("schema has %d fields, want %d", got.NumFields(), want.NumFields())
	}
	for i, wf := range want.Fields() {
		gf := got.Field(i)
		if wf.Name != gf.Name || !arrow.TypeEqual(wf.Type, gf.Type) || wf.Nullable != gf.Nullable {
			return fmt.Errorf("field %d is %s, want %s", i, gf, wf)
		}
	}
	return nil
}

// sameBatches requires got to hold the same batches as want, boundary for
// boundary and row for row.
func sameBatches(want, got []arrow.RecordBatch) error {
	if len(want) != len(got) {
		return fmt.Errorf("got %d batches, want %d", len(got), len(want))
	}
	for i := range want {
		if want[i].NumRows() != got[i].NumRows() {
			return fmt.Errorf("batch %d has %d rows, want %d", i, got[i].NumRows(), want[i].NumRows())
		}
		if !array.RecordEqual(want[i], got[i]) {
			return fmt.Errorf("batch %d differs from what was uploaded", i)
		}
	}
	return nil
}

func totalRows(batches []arrow.RecordBatch) int64 {
	var n int64
	for _, b := range batches {
		n += b.NumRows()
	}
	return n
}
