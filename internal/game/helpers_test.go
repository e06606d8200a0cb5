package game

import (
	"math"

	"github.com/seofernando25/catfish/internal/core/systems/physics"
)

func physicsVec(x, y float64) physics.Vec2 { return physics.Vec2{X: x, Y: y} }

func nan() float64 { return math.NaN() }
