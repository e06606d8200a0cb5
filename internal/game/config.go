package game

import "time"

type Config struct {
	Seed int64 `yaml:"seed"`
	// WorldSize is the side of the square playable area centred on the origin.
	WorldSize float64 `yaml:"world_size"`
	ChunkSize float64 `yaml:"chunk_size"`
	// WaterLevel is the noise threshold below which terrain counts as water.
	WaterLevel  float64 `yaml:"water_level"`
	NoiseScale  float64 `yaml:"noise_scale"`
	PlayerSpeed float64 `yaml:"player_speed"`

	FishingSpots int           `yaml:"fishing_spots"`
	FishCapacity int           `yaml:"fish_capacity"`
	SpotLifetime time.Duration `yaml:"spot_lifetime"`
	RegenEvery   time.Duration `yaml:"regen_every"`
}

func DefaultConfig() Config {
	return Config{
		Seed:         1337,
		WorldSize:    512,
		ChunkSize:    64,
		WaterLevel:   -0.05,
		NoiseScale:   0.02,
		PlayerSpeed:  6,
		FishingSpots: 12,
		FishCapacity: 5,
		SpotLifetime: 90 * time.Second,
		RegenEvery:   5 * time.Second,
	}
}

// ticks converts a duration into a whole number of ticks, at least one.
func ticks(d time.Duration, tickrate float64) uint64 {
	n := uint64(d.Seconds() * tickrate)
	if n == 0 {
		return 1
	}
	return n
}
