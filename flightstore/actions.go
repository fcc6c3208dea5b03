// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/flight"
)

// ActionState is a step in the lifecycle of one DoAction call.
type ActionState int

const (
	ActionReceived ActionState = iota
	ActionValidated
	ActionExecuted
	ActionCompleted
	ActionFailed
)

func (s ActionState) String() string {
	switch s {
	case ActionReceived:
		return "received"
	case ActionValidated:
		return "validated"
	case ActionExecuted:
		return "executed"
	case ActionCompleted:
		return "completed"
	case ActionFailed:
		return "failed"
	}
	return fmt.Sprintf("ActionState(%d)", int(s))
}

// ActionHandler implements one action type.
type ActionHandler interface {
	// Validate checks the request body before anything is executed.
	Validate(body []byte) error
	// Execute performs the action and returns its result payloads.
	Execute(ctx context.Context, call *CallContext, body []byte) ([][]byte, error)
}

// ActionFunc adapts a function to ActionHandler. Validation accepts every body.
type ActionFunc func(ctx context.Context, call *CallContext, body []byte) ([][]byte, error)

// Validate accepts any body.
func (f ActionFunc) Validate([]byte) error { return nil }

// Execute calls f.
func (f ActionFunc) Execute(ctx context.Context, call *CallContext, body []byte) ([][]byte, error) {
	return f(ctx, call, body)
}

// ActionResult is the JSON payload describing the outcome of an action.
type ActionResult struct {
	Action  string `json:"action"`
	Status  string `json:"status"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Dataset string `json:"dataset,omitempty"`
}

// DecodeActionResult parses a payload produced by a built-in action.
func DecodeActionResult(b []byte) (ActionResult, error) {
	var r ActionResult
	if err := json.Unmarshal(b, &r); err != nil {
		return ActionResult{}, fmt.Errorf("decoding action result: %w", err)
	}
	return r, nil
}

func (r ActionResult) encode() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	return b
}

// ActionOutcome records what happened to one dispatched action.
type ActionOutcome struct {
	Type    string
	State   ActionState
	Results [][]byte
	// Err is the domain failure reported in the result payload, if any.
	Err error
}

type actionEntry struct {
	description string
	handler     ActionHandler
}

// ActionDispatcher routes DoAction calls by type name.
type ActionDispatcher struct {
	mu      sync.RWMutex
	actions map[string]actionEntry
}

// NewActionDispatcher creates an empty dispatcher.
func NewActionDispatcher() *ActionDispatcher {
	return &ActionDispatcher{actions: make(map[string]actionEntry)}
}

// Register adds an action type. It panics if name is empty or already
// registered.
func (d *ActionDispatcher) Register(name, description string, h ActionHandler) {
	if name == "" {
		panic("flightstore: action name must not be empty")
	}
	if h == nil {
		panic(fmt.Sprintf("flightstore: nil handler for action %q", name))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.actions[name]; dup {
		panic(fmt.Sprintf("flightstore: action %q registered twice", name))
	}
	d.actions[name] = actionEntry{description: description, handler: h}
}

// Types lists registered action types sorted by name.
func (d *ActionDispatcher) Types() []*flight.ActionType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*flight.ActionType, 0, len(d.actions))
	for name, e := range d.actions {
		out = append(out, &flight.ActionType{Type: name, Description: e.description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Dispatch runs one action to completion. Only an unknown action type is
// returned as an error; failures inside the handler are reported as an
// ActionResult payload on the outcome.
func (d *ActionDispatcher) Dispatch(call *CallContext, action *flight.Action) (*ActionOutcome, error) {
	if action == nil || action.Type == "" {
		return nil, newError(KindUnknownAction, "action type must not be empty")
	}
	out := &ActionOutcome{Type: action.Type, State: ActionReceived}
	call.Action = action.Type

	d.mu.RLock()
	entry, ok := d.actions[action.Type]
	d.mu.RUnlock()
	if !ok {
		return nil, newError(KindUnknownAction, "unknown action type %q", action.Type)
	}

	if err := entry.handler.Validate(action.Body); err != nil {
		return d.fail(call, out, err), nil
	}
	out.State = ActionValidated

	results, err := entry.handler.Execute(call.Ctx, call, action.Body)
	if err != nil {
		return d.fail(call, out, err), nil
	}
	out.State = ActionExecuted
	out.Results = results
	out.State = ActionCompleted
	return out, nil
}

func (d *ActionDispatcher) fail(call *CallContext, out *ActionOutcome, err error) *ActionOutcome {
	out.State = ActionFailed
	out.Err = err
	msg := err.Error()
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" {
		msg = fe.Message
	}
	out.Results = [][]byte{ActionResult{
		Action:  out.Type,
		Status:  ActionFailed.String(),
		Kind:    KindOf(err),
		Message: msg,
	}.encode()}
	call.Logger.Info("action failed", "action", out.Type, "kind", KindOf(err), "err", err)
	return out
}

// dropDataset removes the dataset named by the action body.
type dropDataset struct {
	catalog *Catalog
}

func (a dropDataset) Validate(body []byte) error {
	return ValidateName(strings.TrimSpace(string(body)))
}

func (a dropDataset) Execute(ctx context.Context, call *CallContext, body []byte) ([][]byte, error) {
	name := strings.TrimSpace(string(body))
	if err := a.catalog.Remove(ctx, name); err != nil {
		return nil, err
	}
	call.Logger.Info("dataset dropped", "dataset", name)
	return [][]byte{ActionResult{
		Action:  call.Action,
		Status:  ActionCompleted.String(),
		Dataset: name,
	}.encode()}, nil
}

// registerBuiltinActions installs drop-dataset and its alias.
func registerBuiltinActions(d *ActionDispatcher, catalog *Catalog) {
	h := dropDataset{catalog: catalog}
	d.Register(ActionDropDataset, "Delete a dataset. Body: the dataset name.", h)
	d.Register(ActionDropDatasetAlias, "Alias of drop-dataset.", h)
}
