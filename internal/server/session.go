package server

import (
	"context"

	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/events"
	"github.com/seofernando25/catfish/internal/core/observability/log"
	"github.com/seofernando25/catfish/internal/core/protocol"
	"github.com/seofernando25/catfish/internal/core/replication"
)

// session is one connected client. The replicator may be used from any
// goroutine; query and spawned belong to the simulation goroutine.
type session struct {
	id     string
	conn   *protocol.Connection
	repl   *replication.Replicator
	logger log.Log

	ctx    context.Context
	cancel context.CancelFunc

	query   *ecs.Query
	spawned bool
}

func (s *session) info() events.Session {
	return events.Session{ID: s.id, RemoteAddr: s.conn.RemoteAddr().String()}
}

// subscribe starts replicating the world to the session. The lifecycle
// subscription and the snapshot are taken in one step on the simulation
// goroutine, so an entity added around spawn time is sent exactly once.
// It returns the pending adds of the snapshot.
func (s *session) subscribe(world *ecs.World) []*replication.Pending {
	var snapshot []*replication.Pending
	replaying := true

	s.query = ecs.NewQuery(world, ecs.All())
	s.query.Track(func(e *ecs.Entity) func() {
		p, err := s.repl.Add(e)
		if err != nil {
			s.logger.Error("failed to replicate entity", log.Uint64("entity", uint64(e.ID())), log.Error(err))
			return nil
		}
		if replaying && p != nil {
			snapshot = append(snapshot, p)
		}
		id := e.ID()
		return func() { s.repl.Remove(id) }
	})
	replaying = false
	return snapshot
}

// unsubscribe runs on the simulation goroutine once the connection is gone.
func (s *session) unsubscribe() {
	if s.query != nil {
		s.query.Dispose()
		s.query = nil
	}
}
