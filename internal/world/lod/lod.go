// Package lod assigns discrete detail tiers to chunks by distance from the
// viewpoint and derives the resident-set capacity and fog distances from the
// configured render range.
package lod

import (
	"math"
	"sync"

	"voxelstream.dev/internal/world"
)

// Tier is a detail level. Higher tiers mean lower detail, farther out.
type Tier int

const (
	Tier0 Tier = iota // full detail
	Tier1             // simplified faces
	Tier2             // heightmap columns
	Tier3             // flat far quad
)

// AbsoluteMaxChunks caps the resident set regardless of configuration.
const AbsoluteMaxChunks = 2500

// Quality is a preset pairing of threshold and max render distance.
type Quality struct {
	Threshold   int
	MaxDistance int
}

var (
	QualityLow    = Quality{Threshold: 4, MaxDistance: 12}
	QualityMedium = Quality{Threshold: 8, MaxDistance: 20}
	QualityHigh   = Quality{Threshold: 8, MaxDistance: 32}
	QualityUltra  = Quality{Threshold: 10, MaxDistance: 40}
)

// Config holds the two tunables and every boundary derived from them. All
// derived values are recomputed on every write; nothing is cached across a
// settings change. Safe for concurrent use.
type Config struct {
	mu sync.RWMutex

	threshold         int // full-detail radius, chunks
	maxRenderDistance int // chunks

	lod2Start       int
	lod3Start       int
	unloadDistance  int
	maxLoadedChunks int
}

// New returns a Config with the default medium-range settings
// (threshold 12, max render distance 20).
func New() *Config {
	c := &Config{threshold: 12, maxRenderDistance: 20}
	c.recalc()
	return c
}

// SetThreshold sets the full-detail radius, clamped to [2, 16].
func (c *Config) SetThreshold(t int) {
	c.mu.Lock()
	c.threshold = clamp(t, 2, 16)
	c.recalc()
	c.mu.Unlock()
}

// SetMaxRenderDistance sets the outer render radius, clamped to [8, 40].
func (c *Config) SetMaxRenderDistance(d int) {
	c.mu.Lock()
	c.maxRenderDistance = clamp(d, 8, 40)
	c.recalc()
	c.mu.Unlock()
}

// ApplyPreset installs a quality preset.
func (c *Config) ApplyPreset(q Quality) {
	c.mu.Lock()
	c.threshold = clamp(q.Threshold, 2, 16)
	c.maxRenderDistance = clamp(q.MaxDistance, 8, 40)
	c.recalc()
	c.mu.Unlock()
}

// recalc derives the tier boundaries, unload distance and resident-set
// capacity. Called with mu held.
//
// The range past the threshold is split at 30% and 60%:
//
//	tier1: threshold .. threshold + 0.3*range
//	tier2: .. threshold + 0.6*range
//	tier3: .. maxRenderDistance
func (c *Config) recalc() {
	r := c.maxRenderDistance - c.threshold
	c.lod2Start = c.threshold + int(float64(r)*0.3)
	c.lod3Start = c.threshold + int(float64(r)*0.6)
	c.unloadDistance = c.maxRenderDistance + 2
	// Capacity follows the circular keep area (pi*r^2) with a 10% margin,
	// not the bounding square.
	area := int(math.Pi * float64(c.maxRenderDistance*c.maxRenderDistance) * 1.1)
	if area > AbsoluteMaxChunks {
		area = AbsoluteMaxChunks
	}
	c.maxLoadedChunks = area
}

// TierForDistSq maps a squared chunk distance to a tier. No square roots.
func (c *Config) TierForDistSq(distSq int) Tier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case distSq <= c.threshold*c.threshold:
		return Tier0
	case distSq <= c.lod2Start*c.lod2Start:
		return Tier1
	case distSq <= c.lod3Start*c.lod3Start:
		return Tier2
	default:
		return Tier3
	}
}

func (c *Config) Threshold() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threshold
}

func (c *Config) MaxRenderDistance() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxRenderDistance
}

func (c *Config) Lod2Start() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lod2Start
}

func (c *Config) Lod3Start() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lod3Start
}

// UnloadDistance is the eviction radius: max render distance plus a margin.
func (c *Config) UnloadDistance() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unloadDistance
}

// MaxLoadedChunks is the resident-set capacity bound.
func (c *Config) MaxLoadedChunks() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxLoadedChunks
}

// FogStart is the fog onset distance in world units.
func (c *Config) FogStart() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return float64(c.maxRenderDistance-8) * world.ChunkSize
}

// FogEnd is the full-fog distance in world units.
func (c *Config) FogEnd() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return float64(c.maxRenderDistance) * world.ChunkSize
}

// FarPlane is the camera far-plane distance in world units.
func (c *Config) FarPlane() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return float64(c.maxRenderDistance+4) * world.ChunkSize
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
