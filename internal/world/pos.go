package world

import (
	"fmt"
	"math"
)

// ChunkPos is an immutable (x, z) chunk coordinate. Only equality matters
// for map keys; ordering helpers exist for stable iteration in tools/tests.
type ChunkPos struct {
	X int
	Z int
}

// PosFromWorld returns the chunk that contains the given world position.
func PosFromWorld(wx, wz float64) ChunkPos {
	return ChunkPos{
		X: FloorDiv(int(math.Floor(wx)), ChunkSize),
		Z: FloorDiv(int(math.Floor(wz)), ChunkSize),
	}
}

// PosFromBlock returns the chunk that contains the given block column.
func PosFromBlock(bx, bz int) ChunkPos {
	return ChunkPos{X: FloorDiv(bx, ChunkSize), Z: FloorDiv(bz, ChunkSize)}
}

// DistSq is the squared distance to another chunk, in chunks.
func (p ChunkPos) DistSq(o ChunkPos) int {
	dx := p.X - o.X
	dz := p.Z - o.Z
	return dx*dx + dz*dz
}

// WorldX is the world-space X of this chunk's minimum corner.
func (p ChunkPos) WorldX() int { return p.X * ChunkSize }

// WorldZ is the world-space Z of this chunk's minimum corner.
func (p ChunkPos) WorldZ() int { return p.Z * ChunkSize }

func (p ChunkPos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Z)
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Mod returns the non-negative remainder of a/b.
func Mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
