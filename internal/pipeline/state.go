// Package pipeline drives one mutation from raw input to merged backend
// results through an explicit state machine.
package pipeline

import (
	"fmt"

	"thingmapper/internal/adapter"
	"thingmapper/internal/bql"
)

// State is a pipeline stage. Success and Error are terminal.
type State int

const (
	StateStringify State = iota
	StateEnrich
	StatePreQuery
	StatePreHookDependencies
	StateParseBQL
	StateAdapter
	StateSuccess
	StateError
)

var stateNames = [...]string{
	StateStringify:           "stringify",
	StateEnrich:              "enrich",
	StatePreQuery:            "preQuery",
	StatePreHookDependencies: "preHookDependencies",
	StateParseBQL:            "parseBQL",
	StateAdapter:             "adapter",
	StateSuccess:             "success",
	StateError:               "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError
}

// Event is what a stage reports once it has run.
type Event struct {
	// Err is set when the stage failed.
	Err error
}

// Done reports a finished stage.
func Done() Event { return Event{} }

// Failed reports a failed stage.
func Failed(err error) Event { return Event{Err: err} }

// Context is the state of one run. It is owned by a single run and never
// shared between mutations.
type Context struct {
	Raw    any
	Nodes  []*bql.Node
	Tree   []*bql.EnrichedNode
	Graph  *bql.Graph
	Result []adapter.Result
	Err    error

	// Adapter is the single active backend, chosen by stringify.
	Adapter adapter.Adapter
	// PreQuery is true when pre-querying is enabled and Adapter needs it.
	PreQuery bool
	// Passes counts enrich runs.
	Passes int
}

// Transition is the pure transition function of the pipeline. Guards only
// read c; the returned Context differs from c only in its error slot.
func Transition(s State, ev Event, c Context) (State, Context) {
	if s.Terminal() {
		return s, c
	}
	if ev.Err != nil {
		c.Err = ev.Err
		return StateError, c
	}

	switch s {
	case StateStringify:
		return StateEnrich, c
	case StateEnrich:
		if c.PreQuery && bql.RequiresPreQuery(c.Tree) {
			return StatePreQuery, c
		}
		return StateParseBQL, c
	case StatePreQuery:
		if bql.RequiresDependencies(c.Tree) {
			return StatePreHookDependencies, c
		}
		return StateParseBQL, c
	case StatePreHookDependencies:
		return StateEnrich, c
	case StateParseBQL:
		return StateAdapter, c
	case StateAdapter:
		return StateSuccess, c
	}
	c.Err = fmt.Errorf("unknown pipeline state %d", int(s))
	return StateError, c
}
