// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package fsotel instruments a flight-store server with OpenTelemetry. The
// hook it installs opens one server span per Flight call or HTTP gateway
// request and records request, latency and row metrics.
//
//	server := flightstore.NewServer(store)
//	fsotel.InstrumentServer(server, fsotel.DefaultConfig())
package fsotel

import (
	"context"
	"time"

	"github.com/Query-farm/flight-store/flightstore"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/Query-farm/flight-store/flightstore"

// Config selects providers and what the hook records. Nil providers and
// propagator fall back to the otel globals when the hook is built.
type Config struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Propagator     propagation.TextMapPropagator

	Tracing          bool
	Metrics          bool
	RecordExceptions bool

	// ServiceName overrides Server.ServiceName() as rpc.service.
	ServiceName string
	// Attributes are copied onto every span.
	Attributes []attribute.KeyValue
}

// DefaultConfig enables everything.
func DefaultConfig() Config {
	return Config{Tracing: true, Metrics: true, RecordExceptions: true}
}

// InstrumentServer builds a hook for server and installs it.
func InstrumentServer(server *flightstore.Server, cfg Config) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = server.ServiceName()
	}
	server.SetDispatchHook(NewHook(cfg))
}

// NewHook builds the dispatch hook without installing it.
func NewHook(cfg Config) flightstore.DispatchHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "flightstore"
	}
	h := &hook{cfg: cfg, tracer: cfg.TracerProvider.Tracer(scope)}
	if cfg.Metrics {
		h.inst = newInstruments(cfg.MeterProvider.Meter(scope))
	}
	return h
}

type instruments struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	rows     metric.Int64Counter
}

func newInstruments(m metric.Meter) *instruments {
	var in instruments
	// instrument errors only happen for invalid names; a nil instrument is skipped
	in.requests, _ = m.Int64Counter("rpc.server.requests",
		metric.WithUnit("{request}"), metric.WithDescription("Flight calls served"))
	in.latency, _ = m.Float64Histogram("rpc.server.duration",
		metric.WithUnit("s"), metric.WithDescription("Flight call latency"))
	in.rows, _ = m.Int64Counter("flightstore.rows",
		metric.WithUnit("{row}"), metric.WithDescription("Rows uploaded and downloaded"))
	return &in
}

func (in *instruments) record(ctx context.Context, service string, info flightstore.DispatchInfo, stats flightstore.CallStatistics, elapsed time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	common := metric.WithAttributes(
		attribute.String("rpc.system", "arrow_flight"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", info.Method),
		attribute.String("rpc.flightstore.method_type", info.MethodType),
		attribute.String("status", outcome),
	)
	if in.requests != nil {
		in.requests.Add(ctx, 1, common)
	}
	if in.latency != nil {
		in.latency.Record(ctx, elapsed.Seconds(), common)
	}
	if in.rows == nil {
		return
	}
	for _, flow := range []struct {
		dir  string
		rows int64
	}{{"in", stats.InputRows}, {"out", stats.OutputRows}} {
		if flow.rows > 0 {
			in.rows.Add(ctx, flow.rows, metric.WithAttributes(
				attribute.String("rpc.method", info.Method),
				attribute.String("direction", flow.dir),
			))
		}
	}
}

type hook struct {
	cfg    Config
	tracer trace.Tracer
	inst   *instruments
}

type callToken struct {
	span  trace.Span
	start time.Time
}

// OnDispatchStart continues any trace carried in the transport metadata.
func (h *hook) OnDispatchStart(ctx context.Context, info flightstore.DispatchInfo) (context.Context, flightstore.HookToken) {
	if info.TransportMetadata != nil {
		ctx = h.cfg.Propagator.Extract(ctx, propagation.MapCarrier(info.TransportMetadata))
	}
	tok := &callToken{start: time.Now()}
	if !h.cfg.Tracing {
		return ctx, tok
	}
	ctx, tok.span = h.tracer.Start(ctx, "flightstore/"+info.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(h.startAttributes(info)...),
	)
	return ctx, tok
}

func (h *hook) startAttributes(info flightstore.DispatchInfo) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 10+len(h.cfg.Attributes))
	attrs = append(attrs,
		attribute.String("rpc.system", "arrow_flight"),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Method),
		attribute.String("rpc.flightstore.method_type", info.MethodType),
		attribute.String("rpc.flightstore.server_id", info.ServerID),
		attribute.String("rpc.flightstore.request_id", info.RequestID),
	)
	attrs = append(attrs, h.cfg.Attributes...)
	if info.Dataset != "" {
		attrs = append(attrs, attribute.String("flightstore.dataset", info.Dataset))
	}
	for key, attr := range map[string]string{
		"transport":   "network.protocol.name",
		"remote_addr": "net.peer.ip",
		"user_agent":  "user_agent.original",
	} {
		if v := info.TransportMetadata[key]; v != "" {
			attrs = append(attrs, attribute.String(attr, v))
		}
	}
	return attrs
}

// OnDispatchEnd records metrics and closes the span.
func (h *hook) OnDispatchEnd(ctx context.Context, token flightstore.HookToken, info flightstore.DispatchInfo, stats *flightstore.CallStatistics, err error) {
	tok, ok := token.(*callToken)
	if !ok {
		return
	}
	var snap flightstore.CallStatistics
	if stats != nil {
		snap = stats.Snapshot()
	}
	if h.inst != nil {
		h.inst.record(ctx, h.cfg.ServiceName, info, snap, time.Since(tok.start), err != nil)
	}

	span := tok.span
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.Int64("rpc.flightstore.input_batches", snap.InputBatches),
		attribute.Int64("rpc.flightstore.input_rows", snap.InputRows),
		attribute.Int64("rpc.flightstore.input_bytes", snap.InputBytes),
		attribute.Int64("rpc.flightstore.output_batches", snap.OutputBatches),
		attribute.Int64("rpc.flightstore.output_rows", snap.OutputRows),
		attribute.Int64("rpc.flightstore.output_bytes", snap.OutputBytes),
	)
	if err == nil {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetAttributes(attribute.String("rpc.flightstore.error_kind", string(flightstore.KindOf(err))))
		span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			span.RecordError(err)
		}
	}
	span.End()
}
