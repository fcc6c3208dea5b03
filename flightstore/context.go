// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"log/slog"
)

// CallContext provides request-scoped information to action handlers.
type CallContext struct {
	// Ctx is the request-scoped context, carrying cancellation and deadlines.
	Ctx context.Context
	// RequestID identifies this call in logs and hook callbacks. It is taken
	// from the x-request-id header when the client sends one.
	RequestID string
	// ServerID is the server identifier set via [Server.SetServerID].
	ServerID string
	// Method is the Flight verb being served.
	Method string
	// Action is the action type for DoAction calls.
	Action string
	// Logger carries the request id and method as attributes.
	Logger *slog.Logger
}

func newCallContext(ctx context.Context, requestID, serverID, method string, logger *slog.Logger) *CallContext {
	return &CallContext{
		Ctx:       ctx,
		RequestID: requestID,
		ServerID:  serverID,
		Method:    method,
		Logger:    loggerOrDefault(logger).With("method", method, "request_id", requestID),
	}
}
