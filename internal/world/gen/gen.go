// Package gen is the reference terrain generator: a deterministic,
// hash-noise column builder. It exists so the engine can run headless and so
// streaming has a real Generator to exercise; it makes no attempt at tuned
// noise design.
package gen

import (
	"context"

	"voxelstream.dev/internal/world"
)

// Minimal block palette used by the reference generator.
const (
	Air     = world.Air
	Stone   = uint16(1)
	Dirt    = uint16(2)
	Grass   = uint16(3)
	Sand    = uint16(4)
	Water   = uint16(5)
	Log     = uint16(6)
	CoalOre = uint16(7)
	IronOre = uint16(8)
)

// Generator produces chunk content as a pure function of position and seed.
type Generator struct {
	Seed int64
}

func New(seed int64) *Generator { return &Generator{Seed: seed} }

// Generate builds the chunk at pos. The context is checked between columns
// so a timed-out task stops promptly.
func (g *Generator) Generate(ctx context.Context, pos world.ChunkPos) (*world.Chunk, error) {
	c := world.NewChunk(pos)
	for z := 0; z < world.ChunkSize; z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < world.ChunkSize; x++ {
			wx := pos.WorldX() + x
			wz := pos.WorldZ() + z
			g.column(c, x, z, wx, wz)
		}
	}
	c.SetGenerated(true)
	// Fresh terrain is neither edited nor meshed yet; the coordinator
	// schedules the first mesh build on insertion.
	c.ClearDirty()
	c.ClearModified()
	return c, nil
}

func (g *Generator) column(c *world.Chunk, x, z, wx, wz int) {
	h := g.heightAt(wx, wz)
	biome := biomeAt(g.Seed, wx, wz)

	for y := 0; y <= h; y++ {
		b := Stone
		switch {
		case y == h:
			if biome == biomeDesert || h <= world.SeaLevel {
				b = Sand
			} else {
				b = Grass
			}
		case y >= h-3:
			if biome == biomeDesert {
				b = Sand
			} else {
				b = Dirt
			}
		default:
			// Ore veins deep in the stone body.
			switch {
			case hash3(g.Seed+11, wx, y, wz)%1000 < 4 && y < world.SeaLevel-8:
				b = IronOre
			case hash3(g.Seed+12, wx, y, wz)%1000 < 9 && y < world.SeaLevel:
				b = CoalOre
			}
		}
		c.Set(x, y, z, b)
	}

	// Flood up to sea level.
	for y := h + 1; y < world.SeaLevel; y++ {
		c.Set(x, y, z, Water)
	}

	// Sparse tree trunks on grass in forests.
	if biome == biomeForest && h > world.SeaLevel && hash2(g.Seed+21, wx, wz)%1000 < 8 {
		top := h + 4
		if top >= world.WorldHeight {
			top = world.WorldHeight - 1
		}
		for y := h + 1; y <= top; y++ {
			c.Set(x, y, z, Log)
		}
	}
}

// heightAt is two octaves of bilinear value noise around sea level.
func (g *Generator) heightAt(wx, wz int) int {
	broad := valueNoise(g.Seed+1, wx, wz, 64)
	detail := valueNoise(g.Seed+2, wx, wz, 16)
	h := world.SeaLevel - 10 + int(broad*36+detail*8)
	if h < 1 {
		h = 1
	}
	if h > world.WorldHeight-10 {
		h = world.WorldHeight - 10
	}
	return h
}

type biome int

const (
	biomePlains biome = iota
	biomeForest
	biomeDesert
)

const biomeRegionSize = 128

func biomeAt(seed int64, x, z int) biome {
	rx := world.FloorDiv(x, biomeRegionSize)
	rz := world.FloorDiv(z, biomeRegionSize)
	switch hash2(seed, rx, rz) % 3 {
	case 0:
		return biomePlains
	case 1:
		return biomeForest
	default:
		return biomeDesert
	}
}

// valueNoise interpolates unit hashes on a grid of the given cell size,
// returning a value in [0, 1).
func valueNoise(seed int64, x, z, cell int) float64 {
	gx := world.FloorDiv(x, cell)
	gz := world.FloorDiv(z, cell)
	fx := float64(world.Mod(x, cell)) / float64(cell)
	fz := float64(world.Mod(z, cell)) / float64(cell)

	// Smoothstep fade.
	fx = fx * fx * (3 - 2*fx)
	fz = fz * fz * (3 - 2*fz)

	v00 := unit(hash2(seed, gx, gz))
	v10 := unit(hash2(seed, gx+1, gz))
	v01 := unit(hash2(seed, gx, gz+1))
	v11 := unit(hash2(seed, gx+1, gz+1))

	top := v00 + (v10-v00)*fx
	bot := v01 + (v11-v01)*fx
	return top + (bot-top)*fz
}

func unit(h uint64) float64 {
	return float64(h%1_000_000) / 1_000_000
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9))
}

func hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9))
}
