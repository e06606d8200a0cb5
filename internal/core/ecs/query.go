package ecs

import "slices"

// Predicate decides query membership.
type Predicate func(e *Entity) bool

// With matches entities carrying every key.
func With(keys ...string) Predicate {
	return func(e *Entity) bool { return e.Has(keys...) }
}

// WithComponents matches entities carrying every component.
func WithComponents(components ...Component) Predicate {
	return func(e *Entity) bool {
		for _, c := range components {
			if !e.HasComponent(c) {
				return false
			}
		}
		return true
	}
}

// OfKind matches on the type discriminator.
func OfKind(kind string) Predicate {
	return func(e *Entity) bool { return e.Kind() == kind }
}

// All matches every entity.
func All() Predicate { return func(*Entity) bool { return true } }

func And(preds ...Predicate) Predicate {
	return func(e *Entity) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}
}

// EnterHandler runs when an entity joins a query; its teardown runs when the
// entity leaves.
type EnterHandler func(e *Entity) (teardown func())

type enterEntry struct {
	fn     EnterHandler
	active bool
}

// Query is a live view over the entities of a World that satisfy a predicate.
type Query struct {
	world    *World
	pred     Predicate
	members  map[EntityID]*Entity
	exits    map[EntityID][]func()
	handlers []*enterEntry
	unwatch  Disposer
	disposed bool
}

// NewQuery subscribes to w and seeds the set with entities already present.
func NewQuery(w *World, pred Predicate) *Query {
	q := &Query{
		world:   w,
		pred:    pred,
		members: make(map[EntityID]*Entity),
		exits:   make(map[EntityID][]func()),
	}
	for _, e := range w.entities {
		if pred(e) {
			q.members[e.id] = e
		}
	}
	q.unwatch = w.watch(q)
	return q
}

// EntityLifecycle registers handler for entities entering from now on.
// Current members are not replayed.
func (q *Query) EntityLifecycle(handler EnterHandler) Disposer {
	entry := &enterEntry{fn: handler, active: true}
	q.handlers = append(q.handlers, entry)
	return func() {
		if !entry.active {
			return
		}
		entry.active = false
		q.handlers = slices.DeleteFunc(q.handlers, func(h *enterEntry) bool { return h == entry })
	}
}

// Track is EntityLifecycle that also runs handler, in id order, for every
// current member before returning. Disposing the query drops the collected
// teardowns without running them.
func (q *Query) Track(handler EnterHandler) Disposer {
	dispose := q.EntityLifecycle(handler)
	for _, e := range q.Entities() {
		if q.members[e.id] != e {
			continue
		}
		teardown := handler(e)
		if teardown == nil {
			continue
		}
		if q.members[e.id] != e {
			// left the query while the handler ran
			teardown()
			continue
		}
		q.exits[e.id] = append(q.exits[e.id], teardown)
	}
	return dispose
}

// Dispose stops membership tracking. The last snapshot stays readable.
func (q *Query) Dispose() {
	if q.disposed {
		return
	}
	q.disposed = true
	q.unwatch()
}

func (q *Query) Entities() []*Entity {
	return sortedEntities(q.members)
}

func (q *Query) Has(id EntityID) bool {
	_, ok := q.members[id]
	return ok
}

func (q *Query) Len() int { return len(q.members) }

func (q *Query) entityAdded(e *Entity) {
	if q.pred(e) {
		q.enter(e)
	}
}

func (q *Query) entityPatched(e *Entity) {
	matches := q.pred(e)
	_, member := q.members[e.id]
	switch {
	case matches && !member:
		q.enter(e)
	case !matches && member:
		q.exit(e.id)
	}
}

func (q *Query) entityRemoved(e *Entity) {
	q.exit(e.id)
}

func (q *Query) enter(e *Entity) {
	q.members[e.id] = e
	for _, h := range slices.Clone(q.handlers) {
		if !h.active {
			continue
		}
		if teardown := h.fn(e); teardown != nil {
			q.exits[e.id] = append(q.exits[e.id], teardown)
		}
	}
}

func (q *Query) exit(id EntityID) {
	if _, ok := q.members[id]; !ok {
		return
	}
	delete(q.members, id)
	exits := q.exits[id]
	delete(q.exits, id)
	for i := len(exits) - 1; i >= 0; i-- {
		exits[i]()
	}
}
