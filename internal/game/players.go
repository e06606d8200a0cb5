package game

import (
	"math"

	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/observability/log"
)

// SpawnPlayer creates the player entity owned by a session. Spawning twice
// returns the existing entity.
func (s *Sim) SpawnPlayer(sessionID string) (*ecs.Entity, error) {
	if id, ok := s.players[sessionID]; ok {
		if e, ok := s.world.Entity(id); ok {
			return e, nil
		}
	}
	e := s.world.Create(ecs.Fields{
		ecs.KindField: KindPlayer,
		"session":     sessionID,
		"x":           0.0,
		"y":           0.0,
		"z":           0.0,
		"dir_x":       0.0,
		"dir_y":       0.0,
	})
	if _, err := s.world.AddEntity(e); err != nil {
		return nil, err
	}
	s.players[sessionID] = e.ID()
	s.logger.Info("player spawned", log.String("session", sessionID), log.Uint64("entity", uint64(e.ID())))
	return e, nil
}

// RemovePlayer drops the session's player entity, if any.
func (s *Sim) RemovePlayer(sessionID string) {
	id, ok := s.players[sessionID]
	if !ok {
		return
	}
	delete(s.players, sessionID)
	s.world.RemoveEntity(id)
	s.logger.Info("player removed", log.String("session", sessionID), log.Uint64("entity", uint64(id)))
}

// SetDirection stores the requested heading. Normalization happens in the
// movement system; non-finite input is rejected here.
func (s *Sim) SetDirection(sessionID string, x, y float64) bool {
	if !finite(x) || !finite(y) {
		return false
	}
	e, ok := s.Player(sessionID)
	if !ok {
		return false
	}
	oldX, _ := e.Float("dir_x")
	oldY, _ := e.Float("dir_y")
	if oldX == x && oldY == y {
		return true
	}
	e.Set("dir_x", x)
	e.Set("dir_y", y)
	s.world.MarkAsMutated(e)
	return true
}

func (s *Sim) Player(sessionID string) (*ecs.Entity, bool) {
	id, ok := s.players[sessionID]
	if !ok {
		return nil, false
	}
	return s.world.Entity(id)
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
