package game

import (
	"math"
	"math/rand"

	"github.com/aquilax/go-perlin"

	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/systems/physics"
)

const (
	perlinAlpha = 2.0
	perlinBeta  = 2.0
	perlinN     = int32(3)
)

// Terrain answers height queries from seeded Perlin noise. Height sampling
// for rendering lives on the client; the server only needs to know where
// water is.
type Terrain struct {
	noise      *perlin.Perlin
	scale      float64
	waterLevel float64
	bounds     physics.Bounds
}

func NewTerrain(cfg Config) *Terrain {
	return &Terrain{
		noise:      perlin.NewPerlin(perlinAlpha, perlinBeta, perlinN, cfg.Seed),
		scale:      cfg.NoiseScale,
		waterLevel: cfg.WaterLevel,
		bounds:     physics.Square(cfg.WorldSize),
	}
}

func (t *Terrain) Height(x, y float64) float64 {
	return t.noise.Noise2D(x*t.scale, y*t.scale)
}

func (t *Terrain) IsWater(x, y float64) bool {
	return t.Height(x, y) < t.waterLevel
}

func (t *Terrain) Bounds() physics.Bounds { return t.bounds }

// FindWater samples random points until one lands on water. It falls back
// to the last sample when the map is mostly land.
func (t *Terrain) FindWater(rng *rand.Rand) physics.Vec2 {
	var p physics.Vec2
	for i := 0; i < 64; i++ {
		p = physics.Vec2{
			X: t.bounds.Min.X + rng.Float64()*(t.bounds.Max.X-t.bounds.Min.X),
			Y: t.bounds.Min.Y + rng.Float64()*(t.bounds.Max.Y-t.bounds.Min.Y),
		}
		if t.IsWater(p.X, p.Y) {
			return p
		}
	}
	return p
}

// chunkFields describes every terrain chunk covering the world.
func chunkFields(cfg Config) []ecs.Fields {
	n := int(math.Ceil(cfg.WorldSize / cfg.ChunkSize))
	half := float64(n) * cfg.ChunkSize / 2
	out := make([]ecs.Fields, 0, n*n)
	for cy := 0; cy < n; cy++ {
		for cx := 0; cx < n; cx++ {
			out = append(out, ecs.Fields{
				ecs.KindField: KindChunk,
				"chunk_x":     cx,
				"chunk_y":     cy,
				"size":        cfg.ChunkSize,
				"x":           float64(cx)*cfg.ChunkSize - half,
				"y":           float64(cy)*cfg.ChunkSize - half,
				"z":           0.0,
				"seed":        cfg.Seed,
			})
		}
	}
	return out
}
