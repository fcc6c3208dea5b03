// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
)

// Method type string constants for DispatchInfo.MethodType.
const (
	DispatchMethodUnary  = "unary"
	DispatchMethodStream = "stream"
)

// DispatchHook provides observability callpoints around every Flight verb.
// Implementations must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo carries call metadata passed to hooks.
type DispatchInfo struct {
	Method            string            // Flight verb, one of the Method* constants
	MethodType        string            // DispatchMethodUnary or DispatchMethodStream
	ServerID          string            // Server identifier
	RequestID         string            // Request identifier
	Dataset           string            // Dataset addressed by the call, when known up front
	TransportMetadata map[string]string // gRPC metadata plus remote_addr / user_agent
}

// CallStatistics holds per-call I/O counters. Counters are updated
// atomically; the upload ack sender and the receive loop share them.
type CallStatistics struct {
	InputBatches  int64
	OutputBatches int64
	InputRows     int64
	OutputRows    int64
	InputBytes    int64
	OutputBytes   int64
}

// RecordInput records one input batch with the given row count and buffer size.
func (s *CallStatistics) RecordInput(numRows, bufferBytes int64) {
	atomic.AddInt64(&s.InputBatches, 1)
	atomic.AddInt64(&s.InputRows, numRows)
	atomic.AddInt64(&s.InputBytes, bufferBytes)
}

// RecordOutput records one output batch with the given row count and buffer size.
func (s *CallStatistics) RecordOutput(numRows, bufferBytes int64) {
	atomic.AddInt64(&s.OutputBatches, 1)
	atomic.AddInt64(&s.OutputRows, numRows)
	atomic.AddInt64(&s.OutputBytes, bufferBytes)
}

// Snapshot returns a consistent-enough copy for reporting.
func (s *CallStatistics) Snapshot() CallStatistics {
	return CallStatistics{
		InputBatches:  atomic.LoadInt64(&s.InputBatches),
		OutputBatches: atomic.LoadInt64(&s.OutputBatches),
		InputRows:     atomic.LoadInt64(&s.InputRows),
		OutputRows:    atomic.LoadInt64(&s.OutputRows),
		InputBytes:    atomic.LoadInt64(&s.InputBytes),
		OutputBytes:   atomic.LoadInt64(&s.OutputBytes),
	}
}

// batchBufferSize returns the total top-level buffer size in bytes across all
// columns in a record batch.
func batchBufferSize(batch arrow.RecordBatch) int64 {
	var total int64
	for i := 0; i < int(batch.NumCols()); i++ {
		for _, buf := range batch.Column(i).Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
	}
	return total
}
