package game

import (
	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/observability/log"
)

func (s *Sim) spawnSpot() *ecs.Entity {
	tickrate := s.ticker.Tickrate()
	expires := s.ticker.CurrentTick() + ticks(s.cfg.SpotLifetime, tickrate)
	p := s.terrain.FindWater(s.rng)

	e := s.world.Create(ecs.Fields{
		ecs.KindField: KindFishingSpot,
		"x":           p.X,
		"y":           p.Y,
		"z":           0.0,
		"fish":        float64(s.cfg.FishCapacity),
		"capacity":    float64(s.cfg.FishCapacity),
		"expires_at":  float64(expires),
	})
	if _, err := s.world.AddEntity(e); err != nil {
		s.logger.Error("failed to add fishing spot", log.Error(err))
		return nil
	}
	s.expiry.Add(expires, e.ID())
	return e
}

// fishingSystem refills spots on a fixed cadence and replaces the ones whose
// lifetime ran out.
func (s *Sim) fishingSystem(entities []*ecs.Entity) {
	tick := s.ticker.CurrentTick()

	if tick%ticks(s.cfg.RegenEvery, s.ticker.Tickrate()) == 0 {
		for _, e := range entities {
			fish, _ := e.Float("fish")
			capacity, _ := e.Float("capacity")
			if fish < capacity {
				e.Set("fish", fish+1)
				s.world.MarkAsMutated(e)
			}
		}
	}

	for _, id := range s.expiry.PopDue(tick) {
		e, ok := s.world.Entity(id)
		if !ok || e.Kind() != KindFishingSpot {
			continue
		}
		s.world.RemoveEntity(id)
		s.spawnSpot()
	}
}

// Catch takes one fish from a spot. It reports false when the spot is gone
// or empty.
func (s *Sim) Catch(id ecs.EntityID) bool {
	e, ok := s.world.Entity(id)
	if !ok || e.Kind() != KindFishingSpot {
		return false
	}
	fish, _ := e.Float("fish")
	if fish < 1 {
		return false
	}
	e.Set("fish", fish-1)
	s.world.MarkAsMutated(e)
	return true
}
