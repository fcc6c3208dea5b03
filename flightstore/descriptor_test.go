// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"trades", "trade.parquet", "a-b_c", "x..y"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", ".", "..", ".staging", ".hidden", "a/b", `a\b`, "nul\x00"} {
		assert.ErrorIs(t, ValidateName(bad), ErrInvalidDescriptor, "%q", bad)
	}
}

func TestDatasetName(t *testing.T) {
	name, err := DatasetName(PathDescriptor("trades"))
	require.NoError(t, err)
	assert.Equal(t, "trades", name)

	bad := []*flight.FlightDescriptor{
		nil,
		{Type: flight.DescriptorCMD, Cmd: []byte("trades")},
		{Type: flight.DescriptorPATH},
		{Type: flight.DescriptorPATH, Path: []string{"a", "b"}},
		{Type: flight.DescriptorPATH, Path: []string{"../etc"}},
	}
	for i, desc := range bad {
		_, err := DatasetName(desc)
		assert.ErrorIs(t, err, ErrInvalidDescriptor, "descriptor %d", i)
	}
}

func TestTickets(t *testing.T) {
	name, err := DatasetFromTicket(TicketFor("trades"))
	require.NoError(t, err)
	assert.Equal(t, "trades", name)

	for _, tk := range []*flight.Ticket{nil, {}, {Ticket: []byte("../x")}, {Ticket: []byte(".staging")}} {
		_, err := DatasetFromTicket(tk)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}
