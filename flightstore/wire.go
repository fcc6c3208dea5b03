// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// PutAck is the app metadata sent back on a DoPut stream. One ack is sent
// per stored batch on a best-effort basis and one with Done set when the
// dataset has been published.
type PutAck struct {
	Batch     int64 `json:"batch"`
	Rows      int64 `json:"rows"`
	TotalRows int64 `json:"total_rows"`
	Done      bool  `json:"done,omitempty"`
}

func (a PutAck) encode() []byte {
	b, err := json.Marshal(a)
	if err != nil {
		// all fields are plain integers
		panic(err)
	}
	return b
}

// DecodePutAck parses DoPut app metadata.
func DecodePutAck(b []byte) (PutAck, error) {
	var ack PutAck
	if err := json.Unmarshal(b, &ack); err != nil {
		return PutAck{}, fmt.Errorf("decoding put ack: %w", err)
	}
	return ack, nil
}

// emptyBatch creates a zero-row batch with the given schema.
func emptyBatch(schema *arrow.Schema) arrow.RecordBatch {
	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		cols[i] = makeEmptyArray(mem, f.Type)
	}
	batch := array.NewRecordBatch(schema, cols, 0)
	for _, c := range cols {
		c.Release()
	}
	return batch
}

// makeEmptyArray creates a zero-length array of the given type.
func makeEmptyArray(mem memory.Allocator, dt arrow.DataType) arrow.Array {
	builder := array.NewBuilder(mem, dt)
	defer builder.Release()
	return builder.NewArray()
}

// checkSchemaCompatible reports a SchemaMismatch when got differs from want
// in field count, names, types or nullability. Metadata is ignored.
func checkSchemaCompatible(want, got *arrow.Schema) error {
	if want.NumFields() != got.NumFields() {
		return newError(KindSchemaMismatch, "expected %d columns, got %d", want.NumFields(), got.NumFields())
	}
	for i := 0; i < want.NumFields(); i++ {
		wf, gf := want.Field(i), got.Field(i)
		switch {
		case wf.Name != gf.Name:
			return newError(KindSchemaMismatch, "column %d: expected name %q, got %q", i, wf.Name, gf.Name)
		case !arrow.TypeEqual(wf.Type, gf.Type):
			return newError(KindSchemaMismatch, "column %q: expected type %s, got %s", wf.Name, wf.Type, gf.Type)
		case wf.Nullable != gf.Nullable:
			return newError(KindSchemaMismatch, "column %q: expected nullable=%t, got %t", wf.Name, wf.Nullable, gf.Nullable)
		}
	}
	return nil
}

// checkUniqueFields rejects schemas that declare the same field name twice.
func checkUniqueFields(schema *arrow.Schema) error {
	seen := make(map[string]struct{}, schema.NumFields())
	for _, f := range schema.Fields() {
		if _, dup := seen[f.Name]; dup {
			return newError(KindSchemaMismatch, "duplicate field name %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// isSchemaChange detects the IPC reader error produced when a peer sends a
// second schema message partway through a stream.
func isSchemaChange(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "invalid message type") && strings.Contains(msg, "Schema")
}

// isTransportClosed checks if an error indicates the peer went away.
func isTransportClosed(err error) bool {
	if err == nil {
		return false
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF || err == io.ErrClosedPipe {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "use of closed")
}

// writeErrorStream writes an IPC stream holding only a schema whose
// metadata describes err.
func writeErrorStream(w io.Writer, err error, serverID string) error {
	keys := []string{MetaErrorKind, MetaErrorMessage}
	vals := []string{string(KindOf(err)), err.Error()}
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	md := arrow.NewMetadata(keys, vals)
	schema := arrow.NewSchema(nil, &md)
	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	return writer.Close()
}

// writeErrorBatch ends a stream that already started with a zero-row batch
// whose custom metadata describes err.
func writeErrorBatch(w *ipc.Writer, schema *arrow.Schema, err error, serverID string) error {
	keys := []string{MetaErrorKind, MetaErrorMessage}
	vals := []string{string(KindOf(err)), err.Error()}
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	empty := emptyBatch(schema)
	defer empty.Release()
	batch := array.NewRecordBatchWithMetadata(schema, empty.Columns(), 0, arrow.NewMetadata(keys, vals))
	defer batch.Release()
	return w.Write(batch)
}

// ErrorFromBatch extracts the error carried by a batch written by
// writeErrorBatch. Ordinary batches, including empty ones, yield nil.
func ErrorFromBatch(batch arrow.RecordBatch) error {
	rb, ok := batch.(arrow.RecordBatchWithMetadata)
	if !ok {
		return nil
	}
	return errorFromMetadata(rb.Metadata())
}

// ErrorFromStream extracts the error recorded by writeErrorStream. It returns
// nil when the schema carries no error metadata.
func ErrorFromStream(schema *arrow.Schema) error {
	return errorFromMetadata(schema.Metadata())
}

func errorFromMetadata(md arrow.Metadata) error {
	kind, ok := md.GetValue(MetaErrorKind)
	if !ok {
		return nil
	}
	msg, _ := md.GetValue(MetaErrorMessage)
	return &Error{Kind: Kind(kind), Message: strings.TrimPrefix(msg, kind+": ")}
}
