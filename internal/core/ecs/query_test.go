package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(entities []*Entity) []EntityID {
	out := make([]EntityID, len(entities))
	for i, e := range entities {
		out[i] = e.ID()
	}
	return out
}

func TestQuery_MembershipFollowsWorld(t *testing.T) {
	w := NewWorld()
	q := NewQuery(w, func(e *Entity) bool { return e.ID() > 1 })

	exits := map[EntityID]int{}
	q.EntityLifecycle(func(e *Entity) func() {
		return func() { exits[e.ID()]++ }
	})

	for i := 0; i < 3; i++ {
		_, err := w.AddEntity(w.Create(nil))
		require.NoError(t, err)
	}
	assert.Equal(t, []EntityID{2, 3}, ids(q.Entities()))

	w.RemoveEntity(2)
	assert.Equal(t, []EntityID{3}, ids(q.Entities()))
	assert.Equal(t, 1, exits[2])

	w.RemoveEntity(2)
	assert.Equal(t, 1, exits[2], "exit teardown must run exactly once")
	assert.Zero(t, exits[1])
}

func TestQuery_SeedsExistingEntities(t *testing.T) {
	w := NewWorld()
	for i := 0; i < 3; i++ {
		_, _ = w.AddEntity(w.Create(nil))
	}

	q := NewQuery(w, func(e *Entity) bool { return e.ID() > 1 })
	assert.Equal(t, []EntityID{2, 3}, ids(q.Entities()))

	entered := 0
	q.EntityLifecycle(func(e *Entity) func() {
		entered++
		return nil
	})
	assert.Zero(t, entered, "existing members are not replayed")

	w.RemoveEntity(2)
	assert.Equal(t, []EntityID{3}, ids(q.Entities()))
}

func TestQuery_PatchReevaluates(t *testing.T) {
	w := NewWorld()
	q := NewQuery(w, OfKind("fishing_spot"))

	left := 0
	q.EntityLifecycle(func(e *Entity) func() {
		return func() { left++ }
	})

	e := w.Create(Fields{"type": "chunk"})
	_, _ = w.AddEntity(e)
	assert.False(t, q.Has(e.ID()))

	_, err := w.PatchEntity(e.ID(), Fields{"type": "fishing_spot"})
	require.NoError(t, err)
	assert.True(t, q.Has(e.ID()))

	_, err = w.PatchEntity(e.ID(), Fields{"type": "chunk"})
	require.NoError(t, err)
	assert.False(t, q.Has(e.ID()))
	assert.Equal(t, 1, left)
}

func TestQuery_DisposeFreezesSnapshot(t *testing.T) {
	w := NewWorld()
	q := NewQuery(w, With("x"))

	a := w.Create(Fields{"x": 1.0})
	_, _ = w.AddEntity(a)
	q.Dispose()
	q.Dispose()

	_, _ = w.AddEntity(w.Create(Fields{"x": 2.0}))
	w.RemoveEntity(a.ID())

	assert.Equal(t, []EntityID{a.ID()}, ids(q.Entities()))
}

func TestQuery_HandlerDisposer(t *testing.T) {
	w := NewWorld()
	q := NewQuery(w, And(With("x"), OfKind("player")))

	entered := 0
	dispose := q.EntityLifecycle(func(e *Entity) func() {
		entered++
		return nil
	})

	_, _ = w.AddEntity(w.Create(Fields{"x": 1.0, "type": "player"}))
	_, _ = w.AddEntity(w.Create(Fields{"x": 1.0, "type": "chunk"}))
	dispose()
	_, _ = w.AddEntity(w.Create(Fields{"x": 1.0, "type": "player"}))

	assert.Equal(t, 1, entered)
	assert.Equal(t, 2, q.Len())
}

func TestQuery_WithComponents(t *testing.T) {
	position := NewComponent("position", "x", "y")
	heading := NewComponent("heading", "dir_x", "dir_y")

	w := NewWorld()
	q := NewQuery(w, WithComponents(position, heading))

	_, _ = w.AddEntity(w.Create(Fields{"x": 0.0, "y": 0.0}))
	mover := w.Create(Fields{"x": 0.0, "y": 0.0, "dir_x": 1.0, "dir_y": 0.0})
	_, _ = w.AddEntity(mover)

	assert.Equal(t, []EntityID{mover.ID()}, ids(q.Entities()))
	assert.True(t, mover.HasComponent(position))
}

func TestQuery_TrackReplaysMembers(t *testing.T) {
	w := NewWorld()
	for i := 0; i < 2; i++ {
		_, err := w.AddEntity(w.Create(nil))
		require.NoError(t, err)
	}

	q := NewQuery(w, All())
	var entered []EntityID
	removed := map[EntityID]int{}
	q.Track(func(e *Entity) func() {
		entered = append(entered, e.ID())
		return func() { removed[e.ID()]++ }
	})
	assert.Equal(t, []EntityID{1, 2}, entered)

	_, err := w.AddEntity(w.Create(nil))
	require.NoError(t, err)
	assert.Equal(t, []EntityID{1, 2, 3}, entered)

	w.RemoveEntity(1)
	assert.Equal(t, 1, removed[1], "replayed members get their teardown too")

	q.Dispose()
	w.RemoveEntity(2)
	assert.Zero(t, removed[2])
}

func TestQuery_TrackSkipsMembersRemovedDuringReplay(t *testing.T) {
	w := NewWorld()
	for i := 0; i < 3; i++ {
		_, err := w.AddEntity(w.Create(nil))
		require.NoError(t, err)
	}

	q := NewQuery(w, All())
	var entered []EntityID
	removed := map[EntityID]int{}
	q.Track(func(e *Entity) func() {
		entered = append(entered, e.ID())
		switch e.ID() {
		case 1:
			w.RemoveEntity(3)
		case 2:
			w.RemoveEntity(2)
		}
		return func() { removed[e.ID()]++ }
	})

	assert.Equal(t, []EntityID{1, 2}, entered)
	assert.Equal(t, 1, removed[2], "an entity removed by its own handler is torn down at once")
	assert.Zero(t, removed[3])
	assert.Equal(t, 1, q.Len())
	assert.Len(t, q.exits, 1)
}
