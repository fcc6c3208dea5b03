// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"errors"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client talks to a flight-store server. Every error it returns for a
// failed call is an *Error.
type Client struct {
	fc  flight.Client
	mem memory.Allocator
}

// Dial connects to addr ("host:port"). Without dial options the connection
// is plaintext.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	fc, err := flight.NewClientWithMiddleware(addr, nil, nil, opts...)
	if err != nil {
		return nil, wrapError(KindIOFailure, err, "dialing %s", addr)
	}
	return &Client{fc: fc, mem: memory.NewGoAllocator()}, nil
}

// Flight exposes the underlying Flight client.
func (c *Client) Flight() flight.Client { return c.fc }

// Close closes the connection.
func (c *Client) Close() error {
	return c.fc.Close()
}

// WithRequestID attaches a request id that the server uses in its logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, HeaderRequestID, id)
}

// List returns the datasets whose names start with prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]*flight.FlightInfo, error) {
	stream, err := c.fc.ListFlights(ctx, &flight.Criteria{Expression: []byte(prefix)})
	if err != nil {
		return nil, errorFromStatus(err)
	}
	var out []*flight.FlightInfo
	for {
		info, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, errorFromStatus(err)
		}
		out = append(out, info)
	}
}

// Info describes one dataset.
func (c *Client) Info(ctx context.Context, name string) (*flight.FlightInfo, error) {
	return c.Describe(ctx, PathDescriptor(name))
}

// Describe calls GetFlightInfo with an arbitrary descriptor.
func (c *Client) Describe(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	info, err := c.fc.GetFlightInfo(ctx, desc)
	if err != nil {
		return nil, errorFromStatus(err)
	}
	return info, nil
}

// Schema returns the schema of one dataset.
func (c *Client) Schema(ctx context.Context, name string) (*arrow.Schema, error) {
	res, err := c.fc.GetSchema(ctx, PathDescriptor(name))
	if err != nil {
		return nil, errorFromStatus(err)
	}
	schema, err := flight.DeserializeSchema(res.GetSchema(), c.mem)
	if err != nil {
		return nil, wrapError(KindIOFailure, err, "decoding schema of %q", name)
	}
	return schema, nil
}

// Upload creates dataset name from batches. Each batch becomes one stored
// batch. The returned acks are those the server delivered; the last one
// has Done set when the dataset was published.
func (c *Client) Upload(ctx context.Context, name string, schema *arrow.Schema, batches []arrow.RecordBatch) ([]PutAck, error) {
	stream, err := c.fc.DoPut(ctx)
	if err != nil {
		return nil, errorFromStatus(err)
	}

	var acks []PutAck
	var g errgroup.Group
	g.Go(func() error {
		for {
			res, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return errorFromStatus(err)
			}
			ack, err := DecodePutAck(res.GetAppMetadata())
			if err != nil {
				return wrapError(KindIOFailure, err, "bad ack for %q", name)
			}
			acks = append(acks, ack)
		}
	})

	w := flight.NewRecordWriter(stream, ipc.WithSchema(schema), ipc.WithAllocator(c.mem))
	w.SetFlightDescriptor(PathDescriptor(name))
	var writeErr error
	for _, b := range batches {
		if writeErr = w.Write(b); writeErr != nil {
			break
		}
	}
	if closeErr := w.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if err := stream.CloseSend(); writeErr == nil {
		writeErr = err
	}

	// the server's status arrives on the receive side
	if err := g.Wait(); err != nil {
		return acks, err
	}
	if writeErr != nil && !errors.Is(writeErr, io.EOF) {
		return acks, errorFromStatus(writeErr)
	}
	if len(acks) == 0 || !acks[len(acks)-1].Done {
		return acks, newError(KindStreamAborted, "upload of %q ended without confirmation", name)
	}
	return acks, nil
}

// Download reads every batch behind ticket. The caller releases the
// returned batches.
func (c *Client) Download(ctx context.Context, ticket *flight.Ticket) (*arrow.Schema, []arrow.RecordBatch, error) {
	stream, err := c.fc.DoGet(ctx, ticket)
	if err != nil {
		return nil, nil, errorFromStatus(err)
	}
	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, nil, errorFromStatus(err)
	}
	defer rdr.Release()

	var out []arrow.RecordBatch
	for rdr.Next() {
		b := rdr.RecordBatch()
		b.Retain()
		out = append(out, b)
	}
	if err := rdr.Err(); err != nil {
		for _, b := range out {
			b.Release()
		}
		return nil, nil, errorFromStatus(err)
	}
	return rdr.Schema(), out, nil
}

// DownloadDataset resolves name and downloads it from its first endpoint.
func (c *Client) DownloadDataset(ctx context.Context, name string) (*arrow.Schema, []arrow.RecordBatch, error) {
	info, err := c.Info(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if len(info.Endpoint) == 0 {
		return nil, nil, newError(KindNotFound, "dataset %q has no endpoint", name)
	}
	return c.Download(ctx, info.Endpoint[0].Ticket)
}

// ListActions lists the action types the server supports.
func (c *Client) ListActions(ctx context.Context) ([]*flight.ActionType, error) {
	stream, err := c.fc.ListActions(ctx, &flight.Empty{})
	if err != nil {
		return nil, errorFromStatus(err)
	}
	var out []*flight.ActionType
	for {
		t, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, errorFromStatus(err)
		}
		out = append(out, t)
	}
}

// DoAction runs an action and collects its result payloads.
func (c *Client) DoAction(ctx context.Context, actionType string, body []byte) ([][]byte, error) {
	stream, err := c.fc.DoAction(ctx, &flight.Action{Type: actionType, Body: body})
	if err != nil {
		return nil, errorFromStatus(err)
	}
	var out [][]byte
	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, errorFromStatus(err)
		}
		out = append(out, res.GetBody())
	}
}

// Drop deletes a dataset. A failed drop is returned as an *Error carrying
// the kind reported by the server.
func (c *Client) Drop(ctx context.Context, name string) error {
	results, err := c.DoAction(ctx, ActionDropDataset, []byte(name))
	if err != nil {
		return err
	}
	for _, body := range results {
		res, err := DecodeActionResult(body)
		if err != nil {
			return wrapError(KindIOFailure, err, "dropping %q", name)
		}
		if res.Status == ActionFailed.String() {
			return &Error{Kind: res.Kind, Message: res.Message}
		}
	}
	return nil
}
