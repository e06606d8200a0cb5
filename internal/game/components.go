package game

import "github.com/seofernando25/catfish/internal/core/ecs"

// Entity kinds stored in the type field.
const (
	KindPlayer      = "player"
	KindChunk       = "chunk"
	KindFishingSpot = "fishing_spot"
)

var (
	Position = ecs.NewComponent("position", "x", "y", "z")
	Heading  = ecs.NewComponent("heading", "dir_x", "dir_y")
	Fishery  = ecs.NewComponent("fishery", "fish", "capacity", "expires_at")
	Tile     = ecs.NewComponent("tile", "chunk_x", "chunk_y", "size")
)

func position(e *ecs.Entity) (x, y float64) {
	x, _ = e.Float("x")
	y, _ = e.Float("y")
	return x, y
}
