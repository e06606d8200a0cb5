package ecs

import (
	"cmp"
	"slices"

	"github.com/pkg/errors"
)

// Disposer undoes a registration. Calling it more than once is a no-op.
type Disposer func()

// LifecycleHandler is invoked when an entity enters the world. The returned
// teardown, if any, runs when that entity is removed.
type LifecycleHandler func(e *Entity) (teardown func())

// System processes the current members of its query once per Tick.
type System func(entities []*Entity)

// watcher is the internal hook queries use to follow membership changes.
type watcher interface {
	entityAdded(e *Entity)
	entityPatched(e *Entity)
	entityRemoved(e *Entity)
}

type handlerEntry struct {
	fn     LifecycleHandler
	active bool
}

type systemEntry struct {
	query  *Query
	fn     System
	active bool
}

type watcherEntry struct {
	w      watcher
	active bool
}

// World is the entity store. It is not safe for concurrent use: a single
// simulation goroutine owns it and everything else defers work onto that
// goroutine.
type World struct {
	entities  map[EntityID]*Entity
	teardowns map[EntityID][]func()
	handlers  []*handlerEntry
	watchers  []*watcherEntry
	systems   []*systemEntry
	mutated   map[EntityID]struct{}
	nextID    EntityID
}

func NewWorld() *World {
	return &World{
		entities:  make(map[EntityID]*Entity),
		teardowns: make(map[EntityID][]func()),
		mutated:   make(map[EntityID]struct{}),
		nextID:    1,
	}
}

// Create allocates the next id and returns a detached entity. It is not
// part of the world until AddEntity.
func (w *World) Create(fields Fields) *Entity {
	id := w.nextID
	w.nextID++
	return NewEntity(id, fields)
}

// AddEntity inserts e and runs every lifecycle handler registered so far.
func (w *World) AddEntity(e *Entity) (Disposer, error) {
	if e == nil || e.id == 0 {
		return nil, ErrInvalidEntity
	}
	if _, exists := w.entities[e.id]; exists {
		return nil, errors.Wrapf(ErrDuplicateEntity, "entity %d", e.id)
	}
	if e.id >= w.nextID {
		w.nextID = e.id + 1
	}

	w.entities[e.id] = e

	for _, h := range slices.Clone(w.handlers) {
		if !h.active {
			continue
		}
		if teardown := h.fn(e); teardown != nil {
			if w.entities[e.id] != e {
				// the handler removed the entity it was handed
				teardown()
				continue
			}
			w.teardowns[e.id] = append(w.teardowns[e.id], teardown)
		}
	}

	for _, wt := range slices.Clone(w.watchers) {
		if wt.active && w.entities[e.id] == e {
			wt.w.entityAdded(e)
		}
	}

	id := e.id
	return func() { w.removeIf(id, e) }, nil
}

// RemoveEntity deletes the entity and runs its teardowns in reverse order.
// Unknown ids are ignored.
func (w *World) RemoveEntity(id EntityID) {
	if e, ok := w.entities[id]; ok {
		w.removeIf(id, e)
	}
}

func (w *World) removeIf(id EntityID, e *Entity) {
	if w.entities[id] != e {
		return
	}
	delete(w.entities, id)
	delete(w.mutated, id)

	teardowns := w.teardowns[id]
	delete(w.teardowns, id)
	for i := len(teardowns) - 1; i >= 0; i-- {
		teardowns[i]()
	}

	watchers := slices.Clone(w.watchers)
	for i := len(watchers) - 1; i >= 0; i-- {
		if watchers[i].active {
			watchers[i].w.entityRemoved(e)
		}
	}
}

// PatchEntity shallow-merges fields into the entity with the given id, or
// adds a new entity when the id is unknown.
func (w *World) PatchEntity(id EntityID, fields Fields) (*Entity, error) {
	if id == 0 {
		return nil, ErrInvalidEntity
	}
	e, ok := w.entities[id]
	if !ok {
		e = NewEntity(id, fields)
		if _, err := w.AddEntity(e); err != nil {
			return nil, err
		}
		return e, nil
	}

	e.merge(fields)
	w.mutated[id] = struct{}{}

	for _, wt := range slices.Clone(w.watchers) {
		if wt.active {
			wt.w.entityPatched(e)
		}
	}
	return e, nil
}

// MarkAsMutated flags e for replication this tick.
func (w *World) MarkAsMutated(e *Entity) {
	w.MarkMutated(e.id)
}

func (w *World) MarkMutated(id EntityID) {
	if _, ok := w.entities[id]; ok {
		w.mutated[id] = struct{}{}
	}
}

// Mutated returns the ids flagged since the last Tick, ascending.
func (w *World) Mutated() []EntityID {
	out := make([]EntityID, 0, len(w.mutated))
	for id := range w.mutated {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// ClearMutated drops every flag without running systems.
func (w *World) ClearMutated() { clear(w.mutated) }

func (w *World) AddSystem(q *Query, fn System) Disposer {
	entry := &systemEntry{query: q, fn: fn, active: true}
	w.systems = append(w.systems, entry)
	return func() {
		if !entry.active {
			return
		}
		entry.active = false
		w.systems = slices.DeleteFunc(w.systems, func(s *systemEntry) bool { return s == entry })
	}
}

// Tick clears the mutated set and runs every system once. Callers must not
// rely on any ordering between systems.
func (w *World) Tick() {
	clear(w.mutated)
	for _, s := range slices.Clone(w.systems) {
		if s.active {
			s.fn(s.query.Entities())
		}
	}
}

// OnLifecycle registers handler for entities added from now on. Entities
// already present are not replayed.
func (w *World) OnLifecycle(handler LifecycleHandler) Disposer {
	entry := &handlerEntry{fn: handler, active: true}
	w.handlers = append(w.handlers, entry)
	return func() {
		if !entry.active {
			return
		}
		entry.active = false
		w.handlers = slices.DeleteFunc(w.handlers, func(h *handlerEntry) bool { return h == entry })
	}
}

func (w *World) watch(wt watcher) Disposer {
	entry := &watcherEntry{w: wt, active: true}
	w.watchers = append(w.watchers, entry)
	return func() {
		if !entry.active {
			return
		}
		entry.active = false
		w.watchers = slices.DeleteFunc(w.watchers, func(x *watcherEntry) bool { return x == entry })
	}
}

func (w *World) Entity(id EntityID) (*Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

// Entities returns every live entity ordered by id.
func (w *World) Entities() []*Entity {
	return sortedEntities(w.entities)
}

func (w *World) Len() int { return len(w.entities) }

func sortedEntities(m map[EntityID]*Entity) []*Entity {
	out := make([]*Entity, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Entity) int { return cmp.Compare(a.id, b.id) })
	return out
}
