// Package fsm implements the declarative state machine driving negotiation
// and rate lifecycles. Transitions are data: a named record of source states,
// target state, required parameters, and the names of a guard and a side
// effect. Guards and effects are resolved through a TransitionHandler supplied
// by the orchestrator, so the machine itself performs no I/O.
package fsm

import (
	"context"
	"fmt"

	"github.com/counselops/be-rate-negotiations/internal/apperr"
)

// Params carries transition parameters supplied by the caller.
type Params map[string]any

// Transition is one declarative entry in a machine's table.
type Transition struct {
	Name           string
	Sources        []string
	Target         string
	RequiredParams []string
	Guard          string // handler-resolved guard name, empty = unconditional
	Effect         string // handler-resolved side effect name, empty = none
}

// allowsSource reports whether the transition may fire from the given state.
func (t Transition) allowsSource(state string) bool {
	for _, s := range t.Sources {
		if s == state {
			return true
		}
	}
	return false
}

// Request is the execution context handed to guards and effects.
type Request struct {
	EntityID     string
	ActorID      string
	CurrentState string
	Params       Params
}

// TransitionHandler resolves guard and effect names to behavior. The
// orchestrating service owns the implementation and all of its I/O.
type TransitionHandler interface {
	// Guard evaluates the named guard. A false result blocks the transition.
	Guard(ctx context.Context, name string, req Request) (bool, error)
	// Effect runs the named side effect. It runs before the state mutation is
	// persisted; an error aborts the transition.
	Effect(ctx context.Context, name string, req Request) error
}

// NopHandler satisfies TransitionHandler for tables without guards or
// effects, and for tests.
type NopHandler struct{}

func (NopHandler) Guard(context.Context, string, Request) (bool, error) { return true, nil }
func (NopHandler) Effect(context.Context, string, Request) error { return nil }

// Machine is an immutable transition table for one entity kind.
type Machine struct {
	entity      string
	transitions map[string]Transition
	order       []string
}

// NewMachine builds a machine from a transition list. Duplicate names panic;
// tables are package-level constants and a duplicate is a programming error.
func NewMachine(entity string, transitions []Transition) *Machine {
	m := &Machine{
		entity:      entity,
		transitions: make(map[string]Transition, len(transitions)),
	}
	for _, t := range transitions {
		if _, exists := m.transitions[t.Name]; exists {
			panic(fmt.Sprintf("fsm: duplicate transition %q in %s table", t.Name, entity))
		}
		m.transitions[t.Name] = t
		m.order = append(m.order, t.Name)
	}
	return m
}

// Get returns the named transition.
func (m *Machine) Get(name string) (Transition, bool) {
	t, ok := m.transitions[name]
	return t, ok
}

// ValidTransitions lists every transition that may fire from state, in table
// order. Terminal states return an empty list.
func (m *Machine) ValidTransitions(state string) []Transition {
	var out []Transition
	for _, name := range m.order {
		if t := m.transitions[name]; t.allowsSource(state) {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks that the named transition may fire from the current state
// with the given parameters. It does not evaluate guards; guard evaluation
// needs a handler and happens in Execute.
func (m *Machine) Validate(current, name string, params Params) (Transition, error) {
	t, ok := m.transitions[name]
	if !ok {
		return Transition{}, apperr.Newf(apperr.CodeInvalidTransition,
			"unknown %s transition '%s'", m.entity, name)
	}
	if !t.allowsSource(current) {
		return Transition{}, apperr.InvalidTransition(m.entity, current, t.Target)
	}
	for _, p := range t.RequiredParams {
		if v, ok := params[p]; !ok || v == nil {
			return Transition{}, apperr.InvalidInput(p,
				fmt.Sprintf("required parameter for transition '%s'", name))
		}
	}
	return t, nil
}

// Execute re-validates, evaluates the guard, runs the side effect, and returns
// the target state. The caller persists the new state and appends exactly one
// audit entry; a returned error means nothing was mutated here.
func (m *Machine) Execute(ctx context.Context, current, name string, req Request, h TransitionHandler) (string, error) {
	t, err := m.Validate(current, name, req.Params)
	if err != nil {
		return "", err
	}
	req.CurrentState = current

	if t.Guard != "" {
		ok, err := h.Guard(ctx, t.Guard, req)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", apperr.Newf(apperr.CodeInvalidTransition,
				"%s transition '%s' blocked by guard '%s'", m.entity, name, t.Guard)
		}
	}

	if t.Effect != "" {
		if err := h.Effect(ctx, t.Effect, req); err != nil {
			return "", err
		}
	}

	return t.Target, nil
}
