// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package conformance checks that a running flight-store endpoint behaves
// as a dataset catalog should: uploads round-trip in order, listings are
// stable, duplicate names and mismatched schemas are rejected without
// side effects, aborted uploads leave nothing behind, dropped datasets
// invalidate their tickets, and malformed descriptors or unknown actions
// fail with the right error kind.
//
// The entry point is [Run]. Dataset names carry a random suffix so the
// suite can run against a server shared with other clients; every dataset
// a scenario creates is dropped when the scenario ends.
//
// The fixture schemas [CounterSchema] and [TradesSchema] and their batch
// builders are exported for use by tests and examples.
package conformance
