package world

// World dimension constants.
const (
	ChunkSize   = 16
	WorldHeight = 128
	SeaLevel    = 64
	ChunkVolume = ChunkSize * ChunkSize * WorldHeight

	// Air is block id 0 everywhere; the rest of the palette is the
	// generator's business.
	Air uint16 = 0
)

// Chunk is a 16x128x16 column of blocks plus streaming bookkeeping.
//
// Content is written only by the interactive thread after insertion into the
// ChunkMap (the producing worker fills it exactly once, before insertion).
// Meshers may read it concurrently through read-only accessors.
type Chunk struct {
	Pos    ChunkPos
	Blocks []uint16 // len = ChunkVolume, index x + z*16 + y*256

	dirty     bool // content changed since last mesh build
	modified  bool // content changed since last disk write
	generated bool // true if produced by the generator, false if loaded

	heights []int16 // cached column heights; nil until first use
}

// NewChunk allocates an empty (all-air) chunk at pos.
func NewChunk(pos ChunkPos) *Chunk {
	return &Chunk{Pos: pos, Blocks: make([]uint16, ChunkVolume)}
}

func (c *Chunk) index(x, y, z int) int {
	// x fastest, then z, then y
	return x + z*ChunkSize + y*ChunkSize*ChunkSize
}

// Get returns the block at local coordinates. Out-of-range y reads as air.
func (c *Chunk) Get(x, y, z int) uint16 {
	if y < 0 || y >= WorldHeight {
		return Air
	}
	return c.Blocks[c.index(x, y, z)]
}

// Set writes a block at local coordinates and marks the chunk dirty and
// modified. Writes outside the vertical range are ignored.
func (c *Chunk) Set(x, y, z int, b uint16) {
	if y < 0 || y >= WorldHeight {
		return
	}
	i := c.index(x, y, z)
	if c.Blocks[i] == b {
		return
	}
	c.Blocks[i] = b
	c.dirty = true
	c.modified = true
	c.heights = nil
}

// HeightAt returns the y of the topmost non-air block in the column, or -1
// for an empty column. The heightmap is cached and invalidated on edit.
func (c *Chunk) HeightAt(x, z int) int {
	if c.heights == nil {
		c.buildHeights()
	}
	return int(c.heights[x+z*ChunkSize])
}

func (c *Chunk) buildHeights() {
	c.heights = make([]int16, ChunkSize*ChunkSize)
	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			h := int16(-1)
			for y := WorldHeight - 1; y >= 0; y-- {
				if c.Blocks[c.index(x, y, z)] != Air {
					h = int16(y)
					break
				}
			}
			c.heights[x+z*ChunkSize] = h
		}
	}
}

// Dirty reports whether the chunk needs a mesh rebuild.
func (c *Chunk) Dirty() bool { return c.dirty }

// MarkDirty requests a mesh rebuild (e.g. a neighbor changed on a boundary).
func (c *Chunk) MarkDirty() { c.dirty = true }

// ClearDirty is called by the coordinator after a mesh build.
func (c *Chunk) ClearDirty() { c.dirty = false }

// Modified reports whether the chunk has edits not yet written to disk.
func (c *Chunk) Modified() bool { return c.modified }

// MarkModified flags the chunk for persistence without a block edit
// (used when content is installed wholesale).
func (c *Chunk) MarkModified() { c.modified = true }

// ClearModified is called once the content has been handed to persistence.
func (c *Chunk) ClearModified() { c.modified = false }

// Generated reports provenance: true for generator output, false for a
// chunk recovered from disk.
func (c *Chunk) Generated() bool { return c.generated }

// SetGenerated records provenance at creation time.
func (c *Chunk) SetGenerated(v bool) { c.generated = v }
