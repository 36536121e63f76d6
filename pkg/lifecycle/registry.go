package lifecycle

import (
	"fmt"
	"sort"
)

// Edge is one allowed outgoing transition and the action it represents.
type Edge struct {
	Target State  `yaml:"target" json:"target"`
	Action Action `yaml:"action" json:"action,omitempty"`
}

// StateDef declares a state and its outgoing edges. A state without edges is
// terminal.
type StateDef struct {
	Transitions []Edge `yaml:"transitions" json:"transitions,omitempty"`
	Terminal    bool   `yaml:"terminal"    json:"terminal,omitempty"`
}

// Table is the YAML-mappable transition table of one entity kind.
type Table struct {
	Kind         Kind               `yaml:"kind"          json:"kind"`
	InitialState State              `yaml:"initial_state" json:"initial_state"`
	States       map[State]StateDef `yaml:"states"        json:"states"`
}

type compiled struct {
	initial State
	order   []State
	edges   map[State][]Edge
}

// Registry holds the transition tables of every entity kind. It is built
// once and never mutated, so concurrent reads need no locking.
type Registry struct {
	kinds map[Kind]*compiled
}

// NewRegistry validates the given tables and builds a registry. A later table
// for the same kind replaces an earlier one.
func NewRegistry(tables ...Table) (*Registry, error) {
	r := &Registry{kinds: make(map[Kind]*compiled, len(tables))}
	for _, t := range tables {
		c, err := compile(t)
		if err != nil {
			return nil, err
		}
		r.kinds[t.Kind] = c
	}
	return r, nil
}

func compile(t Table) (*compiled, error) {
	if t.Kind == "" {
		return nil, fmt.Errorf("transition table: kind is required")
	}
	if len(t.States) == 0 {
		return nil, fmt.Errorf("kind %q: no states declared", t.Kind)
	}
	if t.InitialState == "" {
		return nil, fmt.Errorf("kind %q: initial_state is required", t.Kind)
	}
	if _, ok := t.States[t.InitialState]; !ok {
		return nil, fmt.Errorf("kind %q: initial_state %q not found in states", t.Kind, t.InitialState)
	}

	c := &compiled{
		initial: t.InitialState,
		edges:   make(map[State][]Edge, len(t.States)),
	}
	for name, def := range t.States {
		if name == "" {
			return nil, fmt.Errorf("kind %q: empty state name", t.Kind)
		}
		if def.Terminal && len(def.Transitions) > 0 {
			return nil, fmt.Errorf("kind %q state %q: terminal state declares transitions", t.Kind, name)
		}
		seen := make(map[State]bool, len(def.Transitions))
		edges := make([]Edge, 0, len(def.Transitions))
		for i, e := range def.Transitions {
			if e.Target == "" {
				return nil, fmt.Errorf("kind %q state %q transition %d: target is required", t.Kind, name, i)
			}
			if _, ok := t.States[e.Target]; !ok {
				return nil, fmt.Errorf("kind %q state %q transition %d: target %q not found", t.Kind, name, i, e.Target)
			}
			if e.Target == name {
				return nil, fmt.Errorf("kind %q state %q: self transition", t.Kind, name)
			}
			if seen[e.Target] {
				return nil, fmt.Errorf("kind %q state %q: duplicate target %q", t.Kind, name, e.Target)
			}
			seen[e.Target] = true
			if e.Action == "" {
				e.Action = ActionStatusChange
			}
			edges = append(edges, e)
		}
		c.edges[name] = edges
		c.order = append(c.order, name)
	}
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })
	return c, nil
}

// Allowed reports whether kind may move directly from one state to another.
// Unknown kinds, unknown or empty states, and terminal sources yield false.
func (r *Registry) Allowed(kind Kind, from, to State) bool {
	_, ok := r.edge(kind, from, to)
	return ok
}

// Action returns the action tag of the from → to edge.
func (r *Registry) Action(kind Kind, from, to State) (Action, bool) {
	e, ok := r.edge(kind, from, to)
	return e.Action, ok
}

func (r *Registry) edge(kind Kind, from, to State) (Edge, bool) {
	if r == nil || from == "" || to == "" {
		return Edge{}, false
	}
	c, ok := r.kinds[kind]
	if !ok {
		return Edge{}, false
	}
	for _, e := range c.edges[from] {
		if e.Target == to {
			return e, true
		}
	}
	return Edge{}, false
}

// ParseState maps a persisted state name back to a registered state.
func (r *Registry) ParseState(kind Kind, name string) (State, error) {
	c, ok := r.kinds[kind]
	if !ok {
		return "", &UnknownStateError{Kind: kind, Name: name}
	}
	s := State(name)
	if _, ok := c.edges[s]; !ok {
		return "", &UnknownStateError{Kind: kind, Name: name}
	}
	return s, nil
}

// IsTerminal reports whether s is a declared state of kind with no exits.
func (r *Registry) IsTerminal(kind Kind, s State) bool {
	c, ok := r.kinds[kind]
	if !ok {
		return false
	}
	edges, declared := c.edges[s]
	return declared && len(edges) == 0
}

// InitialState returns the state new entities of kind start in.
func (r *Registry) InitialState(kind Kind) (State, bool) {
	c, ok := r.kinds[kind]
	if !ok {
		return "", false
	}
	return c.initial, true
}

// States returns the declared states of kind in name order.
func (r *Registry) States(kind Kind) []State {
	c, ok := r.kinds[kind]
	if !ok {
		return nil
	}
	out := make([]State, len(c.order))
	copy(out, c.order)
	return out
}

// Transitions returns a copy of the outgoing edges of from.
func (r *Registry) Transitions(kind Kind, from State) []Edge {
	c, ok := r.kinds[kind]
	if !ok {
		return nil
	}
	out := make([]Edge, len(c.edges[from]))
	copy(out, c.edges[from])
	return out
}

// Kinds returns the registered kinds in name order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
