package lifecycle

import "time"

// StateChangeEvent records an accepted transition. ID and Timestamp are zero
// until the event bus stamps them at publish time.
type StateChangeEvent struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	Kind      Kind      `json:"kind"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Action    Action    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	LinkedID  string    `json:"linked_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Linked is implemented by entities attached to an aggregate in another
// module; the link travels with their events.
type Linked interface {
	LinkID() string
}

func (r *Record) LinkID() string { return r.LinkedID }

// Guard is the single authority entities consult before mutating state.
type Guard struct {
	registry *Registry
}

// NewGuard creates a guard backed by the given registry.
func NewGuard(r *Registry) *Guard {
	return &Guard{registry: r}
}

// Registry returns the registry the guard consults.
func (g *Guard) Registry() *Registry {
	return g.registry
}

// RequestTransition moves e to target if the registry allows it and returns
// the resulting event. On rejection e is left untouched. The event is not
// published here.
func (g *Guard) RequestTransition(e Entity, target State, reason string) (StateChangeEvent, error) {
	from := e.CurrentState()
	action, ok := g.registry.Action(e.EntityKind(), from, target)
	if !ok {
		return StateChangeEvent{}, &IllegalTransitionError{
			Kind:     e.EntityKind(),
			EntityID: e.EntityID(),
			From:     from,
			To:       target,
		}
	}
	e.SetState(target)

	evt := StateChangeEvent{
		EntityID: e.EntityID(),
		Kind:     e.EntityKind(),
		From:     from,
		To:       target,
		Action:   action,
		Reason:   reason,
	}
	if l, ok := e.(Linked); ok {
		evt.LinkedID = l.LinkID()
	}
	return evt, nil
}
