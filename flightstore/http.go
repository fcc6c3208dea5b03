// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/klauspost/compress/zstd"
)

const arrowContentType = "application/vnd.apache.arrow.stream"

// HttpServer is a read-only HTTP view of a Server's catalog.
type HttpServer struct {
	server           *Server
	prefix           string
	compressionLevel int
	mux              *http.ServeMux
}

// NewHttpServer creates an HTTP gateway for server under the /flight prefix.
func NewHttpServer(server *Server) *HttpServer {
	return NewHttpServerWithPrefix(server, "/flight")
}

// NewHttpServerWithPrefix creates an HTTP gateway under prefix.
func NewHttpServerWithPrefix(server *Server, prefix string) *HttpServer {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	h := &HttpServer{
		server: server,
		prefix: prefix,
	}
	h.mux = http.NewServeMux()
	h.mux.HandleFunc(fmt.Sprintf("GET %s/{$}", h.prefix), h.handleLanding)
	h.mux.HandleFunc(fmt.Sprintf("GET %s/datasets", h.prefix), h.handleListing)
	h.mux.HandleFunc(fmt.Sprintf("GET %s/datasets/{name}", h.prefix), h.handleDataset)
	h.mux.HandleFunc(fmt.Sprintf("%s/", h.prefix), h.handleNotFound)
	return h
}

// SetCompressionLevel enables zstd response compression for clients that
// accept it. Level 0 disables compression; 1 to 4 select zstd encoder
// levels from fastest to best compression.
func (h *HttpServer) SetCompressionLevel(level int) {
	h.compressionLevel = level
}

// Prefix returns the URL prefix the gateway serves under.
func (h *HttpServer) Prefix() string {
	return h.prefix
}

// ServeHTTP implements http.Handler.
func (h *HttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *HttpServer) handleLanding(w http.ResponseWriter, r *http.Request) {
	var summaries []DatasetSummary
	err := h.server.run(r.Context(), httpMetadata(r), MethodListFlights, DispatchMethodUnary, "",
		func(ctx context.Context, call *CallContext, stats *CallStatistics) error {
			var err error
			summaries, err = collectSummaries(ctx, h.server.catalog)
			stats.RecordOutput(int64(len(summaries)), 0)
			return err
		})
	if err != nil {
		http.Error(w, err.Error(), httpStatus(KindOf(err)))
		return
	}
	page := buildLandingHTML(h.prefix, h.server.ServiceName(), h.server.ServerID(), h.server.Location(), summaries)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (h *HttpServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(buildNotFoundHTML(h.prefix, h.server.Location()))
}

func (h *HttpServer) handleListing(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := h.server.run(r.Context(), httpMetadata(r), MethodListFlights, DispatchMethodUnary, "",
		func(ctx context.Context, call *CallContext, stats *CallStatistics) error {
			summaries, err := collectSummaries(ctx, h.server.catalog)
			if err != nil {
				return err
			}
			batch := buildListingBatch(summaries)
			defer batch.Release()
			stats.RecordOutput(batch.NumRows(), batchBufferSize(batch))

			writer := ipc.NewWriter(&buf, ipc.WithSchema(listingSchema(h.server.ServerID())))
			if err := writer.Write(batch); err != nil {
				return wrapError(KindIOFailure, err, "encoding listing")
			}
			return writer.Close()
		})
	if err != nil {
		h.writeHttpError(w, err)
		return
	}
	h.writeArrow(w, r, buf.Bytes())
}

func listingSchema(serverID string) *arrow.Schema {
	if serverID == "" {
		return DatasetListingSchema
	}
	md := arrow.NewMetadata([]string{MetaServerID}, []string{serverID})
	return arrow.NewSchema(DatasetListingSchema.Fields(), &md)
}

func (h *HttpServer) handleDataset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := h.server.run(r.Context(), httpMetadata(r), MethodDoGet, DispatchMethodStream, name,
		func(ctx context.Context, call *CallContext, stats *CallStatistics) error {
			if err := ValidateName(name); err != nil {
				return err
			}
			bs, err := h.server.sessions.openDownload(ctx, name)
			if err != nil {
				return err
			}
			defer bs.Close()

			// from here on the status is committed; a failure is reported
			// in-band as a trailing error batch
			out, finish := h.responseWriter(w, r)
			w.WriteHeader(http.StatusOK)
			writer := ipc.NewWriter(out, ipc.WithSchema(bs.Schema()))
			for bs.Next(ctx) {
				batch := bs.Batch()
				if err := writer.Write(batch); err != nil {
					finish()
					if isTransportClosed(err) {
						return wrapError(KindStreamAborted, err, "client went away reading %q", name)
					}
					return wrapError(KindStreamAborted, err, "writing %q", name)
				}
				stats.RecordOutput(batch.NumRows(), batchBufferSize(batch))
			}
			if err := bs.Err(); err != nil {
				if werr := writeErrorBatch(writer, bs.Schema(), err, h.server.ServerID()); werr != nil {
					call.Logger.Debug("error batch not delivered", "dataset", name, "err", werr)
				}
				writer.Close()
				finish()
				return err
			}
			if err := writer.Close(); err != nil {
				finish()
				return wrapError(KindStreamAborted, err, "writing %q", name)
			}
			return finish()
		})
	if err != nil && w.Header().Get("Content-Type") == "" {
		h.writeHttpError(w, err)
	}
}

// responseWriter sets the Arrow content type and, when enabled and
// accepted, wraps w in a zstd encoder. finish flushes the encoder.
func (h *HttpServer) responseWriter(w http.ResponseWriter, r *http.Request) (io.Writer, func() error) {
	w.Header().Set("Content-Type", arrowContentType)
	if !h.acceptsZstd(r) {
		return w, func() error { return nil }
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevel(h.compressionLevel)))
	if err != nil {
		return w, func() error { return nil }
	}
	w.Header().Set("Content-Encoding", "zstd")
	w.Header().Add("Vary", "Accept-Encoding")
	return enc, enc.Close
}

func (h *HttpServer) acceptsZstd(r *http.Request) bool {
	if h.compressionLevel <= 0 {
		return false
	}
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(enc, "zstd") {
			return true
		}
	}
	return false
}

// httpMetadata collects the request headers a hook may want to see.
func httpMetadata(r *http.Request) map[string]string {
	md := map[string]string{
		"transport":   "http",
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.UserAgent(),
	}
	for _, key := range []string{HeaderRequestID, "traceparent", "tracestate"} {
		if v := r.Header.Get(key); v != "" {
			md[key] = v
		}
	}
	return md
}

// --- Helpers ---

func (h *HttpServer) writeHttpError(w http.ResponseWriter, err error) {
	var buf bytes.Buffer
	_ = writeErrorStream(&buf, err, h.server.ServerID())
	w.Header().Set("Content-Type", arrowContentType)
	w.WriteHeader(httpStatus(KindOf(err)))
	_, _ = w.Write(buf.Bytes())
}

func (h *HttpServer) writeArrow(w http.ResponseWriter, r *http.Request, data []byte) {
	out, finish := h.responseWriter(w, r)
	w.WriteHeader(http.StatusOK)
	_, _ = out.Write(data)
	_ = finish()
}
