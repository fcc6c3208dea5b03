// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

// Flight verb names used in logs, hooks and spans.
const (
	MethodListFlights   = "ListFlights"
	MethodGetFlightInfo = "GetFlightInfo"
	MethodGetSchema     = "GetSchema"
	MethodDoGet         = "DoGet"
	MethodDoPut         = "DoPut"
	MethodListActions   = "ListActions"
	MethodDoAction      = "DoAction"
)

// Built-in action types.
const (
	ActionDropDataset      = "drop-dataset"
	ActionDropDatasetAlias = "drop_dataset"
)

// Well-known metadata keys.
const (
	// HeaderRequestID is the gRPC metadata / HTTP header a client may set to
	// choose the request id.
	HeaderRequestID = "x-request-id"

	// MetaErrorKind and MetaErrorMessage appear as schema metadata on the
	// empty IPC stream the HTTP gateway returns for a failed request.
	MetaErrorKind    = "flightstore.error_kind"
	MetaErrorMessage = "flightstore.error_message"
	MetaServerID     = "flightstore.server_id"
)
