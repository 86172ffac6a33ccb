// Package stream coordinates the resident chunk set around a moving
// viewpoint: it decides which chunks must be loaded, produces them through a
// worker pool (disk recovery first, generation on a miss), schedules mesh
// rebuilds, and evicts chunks that fall out of range, flushing edits through
// the asynchronous persistence writer.
package stream

import (
	"context"

	"voxelstream.dev/internal/world"
	"voxelstream.dev/internal/world/lod"
)

// Generator produces chunk content as a pure function of position. It may
// fail; failures are retryable.
type Generator interface {
	Generate(ctx context.Context, pos world.ChunkPos) (*world.Chunk, error)
}

// MeshData is CPU-side geometry produced by a Mesher. The renderer uploads
// it; nothing in this package touches the GPU.
type MeshData struct {
	Opaque      []float32
	Transparent []float32
}

// Mesher builds geometry for one chunk at a detail tier, reading neighbor
// content through the world access. Pure and CPU-only.
type Mesher interface {
	BuildMesh(c *world.Chunk, access world.BlockGetter, tier lod.Tier) (MeshData, error)
}

// Hook runs once per newly resident chunk, before its first mesh build
// (e.g. initial light propagation).
type Hook func(c *world.Chunk, access world.BlockGetter)
