// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a flight-store error. Kinds are stable and are carried
// across the wire as gRPC status codes.
type Kind string

const (
	// KindInvalidDescriptor marks a malformed or unsupported descriptor shape.
	KindInvalidDescriptor Kind = "InvalidDescriptor"
	// KindNotFound marks an absent dataset or ticket target.
	KindNotFound Kind = "NotFound"
	// KindAlreadyExists marks a registration collision.
	KindAlreadyExists Kind = "AlreadyExists"
	// KindSchemaMismatch marks an upload batch that does not match the registered schema.
	KindSchemaMismatch Kind = "SchemaMismatch"
	// KindIOFailure marks a backing-store fault.
	KindIOFailure Kind = "IOFailure"
	// KindStreamAborted marks a peer disconnect or cancellation mid-stream.
	KindStreamAborted Kind = "StreamAborted"
	// KindUnknownAction marks a DoAction call for an unregistered action type.
	KindUnknownAction Kind = "UnknownAction"
)

// Sentinels for use with errors.Is. They match any *Error of the same kind.
var (
	ErrInvalidDescriptor = &Error{Kind: KindInvalidDescriptor}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrAlreadyExists     = &Error{Kind: KindAlreadyExists}
	ErrSchemaMismatch    = &Error{Kind: KindSchemaMismatch}
	ErrIOFailure         = &Error{Kind: KindIOFailure}
	ErrStreamAborted     = &Error{Kind: KindStreamAborted}
	ErrUnknownAction     = &Error{Kind: KindUnknownAction}
)

// Error is the error type returned by every flight-store component.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error target with the same kind. A target without a kind
// matches every *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies err. Errors that are not *Error are reported as
// IOFailure, except context cancellation which is StreamAborted.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindStreamAborted
	}
	return KindIOFailure
}

var kindCodes = map[Kind]codes.Code{
	KindInvalidDescriptor: codes.InvalidArgument,
	KindNotFound:          codes.NotFound,
	KindAlreadyExists:     codes.AlreadyExists,
	KindSchemaMismatch:    codes.FailedPrecondition,
	KindIOFailure:         codes.Internal,
	KindStreamAborted:     codes.Aborted,
	KindUnknownAction:     codes.Unimplemented,
}

// statusFromError converts a component error into the gRPC status returned
// as the terminal status of a Flight call.
func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if !errors.As(err, &fe) {
		if _, ok := status.FromError(err); ok {
			return err
		}
	}
	code, ok := kindCodes[KindOf(err)]
	if !ok {
		code = codes.Unknown
	}
	return status.Error(code, err.Error())
}

// errorFromStatus converts a gRPC status received by a client back into an
// *Error so callers can match it with errors.Is.
func errorFromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var kind Kind
	switch st.Code() {
	case codes.InvalidArgument:
		kind = KindInvalidDescriptor
	case codes.NotFound:
		kind = KindNotFound
	case codes.AlreadyExists:
		kind = KindAlreadyExists
	case codes.FailedPrecondition:
		kind = KindSchemaMismatch
	case codes.Internal, codes.Unknown, codes.DataLoss:
		kind = KindIOFailure
	case codes.Aborted, codes.Canceled, codes.DeadlineExceeded, codes.Unavailable:
		kind = KindStreamAborted
	case codes.Unimplemented:
		kind = KindUnknownAction
	default:
		return err
	}
	return &Error{Kind: kind, Message: strings.TrimPrefix(st.Message(), string(kind)+": ")}
}

// FromStatus converts an error returned by a raw Flight client call into
// an *Error. Errors without a gRPC status are returned unchanged.
func FromStatus(err error) error {
	return errorFromStatus(err)
}

// httpStatus maps an error kind to the status code used by the HTTP gateway.
func httpStatus(kind Kind) int {
	switch kind {
	case KindInvalidDescriptor:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists:
		return http.StatusConflict
	case KindSchemaMismatch:
		return http.StatusUnprocessableEntity
	case KindStreamAborted:
		return http.StatusServiceUnavailable
	case KindUnknownAction:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
