// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package flightstore implements a dataset catalog served over Apache
// Arrow Flight. Datasets are named, schema-typed tables persisted as one
// Parquet file each under a storage root; clients list them, fetch their
// schema and rows, upload new ones with DoPut, and drop them through
// administrative actions.
//
// # Components
//
//   - [Store] is the backing store. [LocalStore] keeps one file per
//     dataset under a root directory and publishes uploads atomically from
//     a staging area.
//   - [BatchEncoder] and [BatchDecoder] form the batch codec. Each
//     uploaded batch becomes one Parquet row group and each row group is
//     served back as one batch.
//   - [Catalog] maps names to stored files and computes summaries from the
//     files themselves. Registrations and removals of one name are
//     mutually exclusive.
//   - [SessionManager] owns download ([BatchStream]) and upload
//     ([BatchSink]) sessions. Uploads are all-or-nothing.
//   - [ActionDispatcher] routes DoAction requests to registered
//     [ActionHandler] values. The built-in "drop-dataset" action removes a
//     dataset.
//   - [Server] exposes the catalog as a Flight service. [HttpServer] adds
//     a read-only HTTP view.
//
// # Descriptors and tickets
//
// Only PATH descriptors with exactly one segment are accepted. The ticket
// of a dataset is its name, so a ticket outlives nothing: once the dataset
// is dropped, DoGet on its ticket fails with NotFound.
//
// # Errors
//
// Every failure carries a [Kind]. The server maps kinds to gRPC status
// codes and the [Client] maps them back, so
//
//	errors.Is(err, flightstore.ErrNotFound)
//
// works on both sides of the wire.
//
// # Observability
//
// [Server.SetDispatchHook] installs a [DispatchHook] called around every
// Flight call and HTTP request. The fsotel sub-package provides an
// OpenTelemetry implementation.
package flightstore
