// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// ackQueueSize bounds the per-upload queue of progress acks. Acks beyond it
// are dropped rather than slowing the upload.
const ackQueueSize = 64

// Server serves a dataset catalog over Arrow Flight.
type Server struct {
	flight.BaseFlightServer

	catalog  *Catalog
	sessions *SessionManager
	actions  *ActionDispatcher
	logger   *slog.Logger
	mem      memory.Allocator

	serverID     string
	serviceName  string
	location     string
	dispatchHook DispatchHook

	mu sync.Mutex
	fs flight.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCodec sets how uploaded datasets are encoded.
func WithCodec(c CodecOptions) Option {
	return func(s *Server) { s.sessions.codec = c; s.sessions.mem = c.allocator() }
}

// NewServer creates a server over store with the built-in actions
// registered.
func NewServer(store Store, opts ...Option) *Server {
	s := &Server{
		logger:      slog.Default(),
		serviceName: "flightstore",
	}
	s.catalog = NewCatalog(store, nil)
	s.sessions = NewSessionManager(s.catalog, DefaultCodecOptions(), nil)
	for _, o := range opts {
		o(s)
	}
	s.logger = loggerOrDefault(s.logger)
	s.catalog.logger = s.logger
	s.sessions.logger = s.logger
	s.mem = s.sessions.mem
	s.actions = NewActionDispatcher()
	registerBuiltinActions(s.actions, s.catalog)
	return s
}

// SetServerID sets a server identifier reported to hooks and in logs.
func (s *Server) SetServerID(id string) {
	s.serverID = id
}

// ServerID returns the server identifier.
func (s *Server) ServerID() string {
	return s.serverID
}

// SetServiceName sets a logical service name used by observability hooks.
func (s *Server) SetServiceName(name string) {
	s.serviceName = name
}

// ServiceName returns the logical service name.
func (s *Server) ServiceName() string {
	return s.serviceName
}

// SetDispatchHook registers a hook that is called around each Flight call.
func (s *Server) SetDispatchHook(hook DispatchHook) {
	s.dispatchHook = hook
}

// SetLocation sets the URI advertised in every endpoint. When unset it is
// derived from the bound address by Listen.
func (s *Server) SetLocation(uri string) {
	s.mu.Lock()
	s.location = uri
	s.mu.Unlock()
}

// Location returns the advertised URI.
func (s *Server) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

// Catalog returns the dataset catalog.
func (s *Server) Catalog() *Catalog { return s.catalog }

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// Actions returns the action dispatcher; further action types may be
// registered on it before serving.
func (s *Server) Actions() *ActionDispatcher { return s.actions }

// Listen binds addr and registers the Flight service. Call Serve to start
// accepting calls.
func (s *Server) Listen(addr string) error {
	fs := flight.NewServerWithMiddleware(nil)
	if err := fs.Init(addr); err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	fs.RegisterFlightService(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fs = fs
	if s.location == "" {
		s.location = locationFor(fs.Addr())
	}
	return nil
}

func locationFor(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return fmt.Sprintf("grpc+tcp://localhost:%d", tcp.Port)
	}
	return "grpc+tcp://" + addr.String()
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fs == nil {
		return nil
	}
	return s.fs.Addr()
}

// Serve accepts Flight calls until Shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	fs := s.fs
	s.mu.Unlock()
	if fs == nil {
		return errors.New("flightstore: Serve called before Listen")
	}
	s.logger.Info("flight server listening", "addr", fs.Addr().String(), "location", s.Location(), "server_id", s.serverID)
	return fs.Serve()
}

// Shutdown stops accepting calls and waits for running calls to finish.
func (s *Server) Shutdown() {
	s.mu.Lock()
	fs := s.fs
	s.mu.Unlock()
	if fs != nil {
		fs.Shutdown()
	}
}

// ListFlights streams one FlightInfo per dataset. A non-empty criteria
// expression restricts the listing to names with that prefix.
func (s *Server) ListFlights(criteria *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	prefix := string(criteria.GetExpression())
	return s.dispatch(stream.Context(), MethodListFlights, DispatchMethodStream, "",
		func(ctx context.Context, call *CallContext, stats *CallStatistics) error {
			for summary, err := range s.catalog.List(ctx) {
				if err != nil {
					return err
				}
				if !strings.HasPrefix(summary.Name, prefix) {
					continue
				}
				if err := stream.Send(s.flightInfo(summary)); err != nil {
					return wrapError(KindStreamAborted, err, "sending flight info")
				}
				stats.RecordOutput(1, 0)
			}
			return nil
		})
}

// GetFlightInfo describes one dataset.
func (s *Server) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	var info *flight.FlightInfo
	err := s.dispatch(ctx, MethodGetFlightInfo, DispatchMethodUnary, descriptorName(desc),
		func(ctx context.Context, call *CallContext, stats *CallStatistics) error {
			summary, err := s.catalog.Resolve(ctx, desc)
			if err != nil {
				return err
			}
			info = s.flightInfo(summary)
			stats.RecordOutput(1, 0)
			return nil
		})
	return info, err
}

// GetSchema returns the schema of one dataset.
func (s *Server) GetSchema(ctx context.Context, desc *flight.FlightDescriptor) (*flight.SchemaResult, error) {
	var res *flight.SchemaResult
	err := s.dispatch(ctx, MethodGetSchema, DispatchMethodUnary, descriptorName(desc),
		func(ctx context.Context, call *CallContext, stats *CallStatistics) error {
			summary, err := s.catalog.Resolve(ctx, desc)
			if err != nil {
				return err
			}
			res = &flight.SchemaResult{Schema: flight.SerializeSchema(summary.Schema, s.mem)}
			return nil
		})
	return res, err
}

// DoGet streams the batches of the dataset a ticket was issued for.
func (s *Server) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	return s.dispatch(stream.Context(), MethodDoGet, DispatchMethodStream, string(ticket.GetTicket()),
		func(ctx context.Context, call *CallContext, stats *CallStatistics) error {
			bs, err := s.sessions.OpenDownload(ctx, ticket)
			if err != nil {
				return err
			}
			defer bs.Close()

			w := flight.NewRecordWriter(stream, ipc.WithSchema(bs.Schema()), ipc.WithAllocator(s.mem))
			defer w.Close()
			for bs.Next(ctx) {
				batch := bs.Batch()
				if err := w.Write(batch); err != nil {
					return wrapError(KindStreamAborted, err, "sending batch of %q", bs.Name())
				}
				stats.RecordOutput(batch.NumRows(), batchBufferSize(batch))
			}
			return bs.Err()
		})
}

// DoPut stores a new dataset. The first message carries the descriptor and
// schema; every batch after it is validated and stored in order. Progress
// acks are sent as app metadata and a final ack marks publication.
func (s *Server) DoPut(stream flight.FlightService_DoPutServer) error {
	return s.dispatch(stream.Context(), MethodDoPut, DispatchMethodStream, "",
		func(ctx context.Context, call *CallContext, stats *CallStatistics) error {
			rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.mem))
			if err != nil {
				return classifyRecvError(err, "reading upload header")
			}
			defer rdr.Release()

			sink, err := s.sessions.OpenUpload(ctx, rdr.LatestFlightDescriptor(), rdr.Schema())
			if err != nil {
				return err
			}
			// no-op once the sink is closed
			defer sink.Abort(nil)
			logger := call.Logger.With("dataset", sink.Name())

			acks := newAckSender(stream, logger)
			defer acks.stop()
			for rdr.Next() {
				batch := rdr.RecordBatch()
				stats.RecordInput(batch.NumRows(), batchBufferSize(batch))
				ack, err := sink.Write(batch)
				if err != nil {
					return err
				}
				acks.enqueue(ack)
			}
			// progress acks go out before the final one
			acks.stop()
			if err := rdr.Err(); err != nil {
				return sink.Abort(classifyRecvError(err, "receiving batches"))
			}

			summary, err := sink.Close(ctx)
			if err != nil {
				return err
			}
			if n := acks.dropped.Load(); n > 0 {
				logger.Debug("put acks dropped", "count", n)
			}
			done := PutAck{Batch: int64(summary.NumBatches), TotalRows: summary.TotalRecords, Done: true}
			if err := stream.Send(&flight.PutResult{AppMetadata: done.encode()}); err != nil {
				// the dataset is published; only the receipt was lost
				logger.Warn("final put ack not delivered", "err", err)
			}
			return nil
		})
}

// ListActions lists the registered action types.
func (s *Server) ListActions(_ *flight.Empty, stream flight.FlightService_ListActionsServer) error {
	return s.dispatch(stream.Context(), MethodListActions, DispatchMethodStream, "",
		func(ctx context.Context, call *CallContext, stats *CallStatistics) error {
			for _, t := range s.actions.Types() {
				if err := stream.Send(t); err != nil {
					return wrapError(KindStreamAborted, err, "sending action type")
				}
				stats.RecordOutput(1, 0)
			}
			return nil
		})
}

// DoAction runs one action and streams its result payloads.
func (s *Server) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	return s.dispatch(stream.Context(), MethodDoAction, DispatchMethodStream, "",
		func(ctx context.Context, call *CallContext, stats *CallStatistics) error {
			outcome, err := s.actions.Dispatch(call, action)
			if err != nil {
				return err
			}
			for _, body := range outcome.Results {
				if err := stream.Send(&flight.Result{Body: body}); err != nil {
					return wrapError(KindStreamAborted, err, "sending action result")
				}
				stats.RecordOutput(1, int64(len(body)))
			}
			return nil
		})
}

func (s *Server) flightInfo(summary DatasetSummary) *flight.FlightInfo {
	var locations []*flight.Location
	if loc := s.Location(); loc != "" {
		locations = []*flight.Location{{Uri: loc}}
	}
	return &flight.FlightInfo{
		Schema:           flight.SerializeSchema(summary.Schema, s.mem),
		FlightDescriptor: PathDescriptor(summary.Name),
		Endpoint: []*flight.FlightEndpoint{{
			Ticket:   TicketFor(summary.Name),
			Location: locations,
		}},
		TotalRecords: summary.TotalRecords,
		TotalBytes:   summary.TotalBytes,
	}
}

func descriptorName(desc *flight.FlightDescriptor) string {
	if name, err := DatasetName(desc); err == nil {
		return name
	}
	return ""
}

type callFunc func(ctx context.Context, call *CallContext, stats *CallStatistics) error

// dispatch runs one Flight call through run and maps its error to a gRPC
// status.
func (s *Server) dispatch(ctx context.Context, method, methodType, dataset string, fn callFunc) error {
	return statusFromError(s.run(ctx, transportMetadata(ctx), method, methodType, dataset, fn))
}

// run executes one call with hooks, statistics, panic recovery and a
// completion log line. It is shared by the Flight verbs and the HTTP gateway.
func (s *Server) run(ctx context.Context, md map[string]string, method, methodType, dataset string, fn callFunc) error {
	start := time.Now()
	requestID := md[HeaderRequestID]
	if requestID == "" {
		requestID = uuid.NewString()
	}
	info := DispatchInfo{
		Method:            method,
		MethodType:        methodType,
		ServerID:          s.serverID,
		RequestID:         requestID,
		Dataset:           dataset,
		TransportMetadata: md,
	}

	var hookToken HookToken
	var hookActive bool
	stats := &CallStatistics{}

	if s.dispatchHook != nil {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					s.logger.Error("dispatch hook start panic", "err", rv)
				}
			}()
			var hookCtx context.Context
			hookCtx, hookToken = s.dispatchHook.OnDispatchStart(ctx, info)
			if hookCtx != nil {
				ctx = hookCtx
			}
			hookActive = true
		}()
	}

	call := newCallContext(ctx, requestID, s.serverID, method, s.logger)
	err := func() (err error) {
		defer func() {
			if rv := recover(); rv != nil {
				s.logger.Error("flight call panic", "method", method, "request_id", requestID, "err", rv)
				err = newError(KindIOFailure, "internal error in %s: %v", method, rv)
			}
		}()
		return fn(ctx, call, stats)
	}()

	if hookActive {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					s.logger.Error("dispatch hook end panic", "err", rv)
				}
			}()
			s.dispatchHook.OnDispatchEnd(ctx, hookToken, info, stats, err)
		}()
	}

	snap := stats.Snapshot()
	attrs := []any{
		"method", method,
		"request_id", requestID,
		"duration", time.Since(start),
		"in_batches", snap.InputBatches,
		"in_rows", snap.InputRows,
		"out_batches", snap.OutputBatches,
		"out_rows", snap.OutputRows,
	}
	if dataset != "" {
		attrs = append(attrs, "dataset", dataset)
	}
	if transport, ok := md["transport"]; ok {
		attrs = append(attrs, "transport", transport)
	}
	if err != nil {
		attrs = append(attrs, "kind", KindOf(err), "err", err)
		s.logger.Warn("call failed", attrs...)
		return err
	}
	s.logger.Info("call", attrs...)
	return nil
}

// transportMetadata flattens incoming gRPC metadata and adds the peer
// address and user agent.
func transportMetadata(ctx context.Context) map[string]string {
	out := map[string]string{"transport": "grpc"}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for k, vs := range md {
			out[k] = strings.Join(vs, ",")
		}
	}
	if ua, ok := out["user-agent"]; ok {
		out["user_agent"] = ua
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		out["remote_addr"] = p.Addr.String()
	}
	return out
}

// classifyRecvError maps a failure reading the client's stream. A peer
// that went away aborts the stream; anything else the reader could not make
// sense of is an I/O failure.
func classifyRecvError(err error, doing string) error {
	var fe *Error
	switch {
	case errors.As(err, &fe):
		return err
	case isSchemaChange(err):
		return wrapError(KindSchemaMismatch, err, "schema changed mid-stream")
	case isTransportClosed(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return wrapError(KindStreamAborted, err, "%s: peer went away", doing)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.InvalidArgument:
			return wrapError(KindInvalidDescriptor, err, "%s", doing)
		case codes.Canceled, codes.DeadlineExceeded, codes.Unavailable, codes.Aborted:
			return wrapError(KindStreamAborted, err, "%s: peer went away", doing)
		}
	}
	return wrapError(KindIOFailure, err, "%s", doing)
}

// ackSender delivers upload progress acks from its own goroutine so a
// client that is slow to read metadata never stalls the receive loop.
type ackSender struct {
	ch      chan PutAck
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func newAckSender(stream flight.FlightService_DoPutServer, logger *slog.Logger) *ackSender {
	a := &ackSender{
		ch:   make(chan PutAck, ackQueueSize),
		done: make(chan struct{}),
	}
	go func() {
		defer close(a.done)
		for ack := range a.ch {
			if err := stream.Send(&flight.PutResult{AppMetadata: ack.encode()}); err != nil {
				logger.Debug("put ack not delivered", "batch", ack.Batch, "err", err)
				for range a.ch {
				}
				return
			}
		}
	}()
	return a
}

// enqueue never blocks; acks that do not fit are dropped.
func (a *ackSender) enqueue(ack PutAck) {
	select {
	case a.ch <- ack:
	default:
		a.dropped.Add(1)
	}
}

// stop closes the queue and waits for queued acks to be sent.
func (a *ackSender) stop() {
	a.once.Do(func() { close(a.ch) })
	<-a.done
}
