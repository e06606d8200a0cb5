package game

import (
	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/systems/physics"
)

// moveSystem walks every player along its heading. Headings come straight
// from clients, so they are normalized here and positions are clamped to
// the world bounds.
func (s *Sim) moveSystem(entities []*ecs.Entity) {
	step := s.cfg.PlayerSpeed * s.ticker.DeltaTime()
	for _, e := range entities {
		dx, _ := e.Float("dir_x")
		dy, _ := e.Float("dir_y")
		dir := physics.Vec2{X: dx, Y: dy}.Normalize()
		if dir.IsZero() {
			continue
		}

		x, y := position(e)
		from := physics.Vec2{X: x, Y: y}
		to := s.bounds.Clamp(from.Add(dir.Scale(step)))
		if to == from {
			continue
		}
		e.Set("x", to.X)
		e.Set("y", to.Y)
		s.world.MarkAsMutated(e)
	}
}
