// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow/flight"
)

// ValidateName reports whether name can address a dataset. A dataset name is
// a single non-empty path segment; dot-prefixed names are reserved for
// staging files.
func ValidateName(name string) error {
	switch {
	case name == "":
		return newError(KindInvalidDescriptor, "dataset name must not be empty")
	case name == "." || name == "..":
		return newError(KindInvalidDescriptor, "dataset name %q is not a file name", name)
	case strings.HasPrefix(name, "."):
		return newError(KindInvalidDescriptor, "dataset name %q must not start with '.'", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return newError(KindInvalidDescriptor, "dataset name %q must be a single path segment", name)
	}
	return nil
}

// DatasetName extracts the dataset name from a client descriptor. Only PATH
// descriptors with exactly one path component are addressable; command
// descriptors are rejected.
func DatasetName(desc *flight.FlightDescriptor) (string, error) {
	if desc == nil {
		return "", newError(KindInvalidDescriptor, "missing FlightDescriptor")
	}
	if desc.Type != flight.DescriptorPATH {
		return "", newError(KindInvalidDescriptor, "must provide PATH-type FlightDescriptor, got %s", desc.Type)
	}
	if len(desc.Path) != 1 {
		return "", newError(KindInvalidDescriptor,
			"must provide PATH-type FlightDescriptor with one path component, got %d", len(desc.Path))
	}
	name := desc.Path[0]
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// PathDescriptor builds the descriptor that addresses the named dataset.
func PathDescriptor(name string) *flight.FlightDescriptor {
	return &flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{name}}
}

// TicketFor issues the ticket for a dataset: its storage-relative name.
func TicketFor(name string) *flight.Ticket {
	return &flight.Ticket{Ticket: []byte(name)}
}

// DatasetFromTicket maps a ticket back to the dataset it was issued for.
// Tickets that could never have been issued resolve to NotFound.
func DatasetFromTicket(t *flight.Ticket) (string, error) {
	if t == nil || len(t.Ticket) == 0 {
		return "", newError(KindNotFound, "empty ticket")
	}
	name := string(t.Ticket)
	if err := ValidateName(name); err != nil {
		return "", wrapError(KindNotFound, err, "no dataset for ticket %q", name)
	}
	return name, nil
}
