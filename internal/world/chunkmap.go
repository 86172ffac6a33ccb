package world

import (
	"sort"
	"sync"
)

// BlockGetter is read-only world access for meshers and lighting.
type BlockGetter interface {
	// BlockAt returns the block at world coordinates; air outside loaded
	// chunks or the vertical range.
	BlockAt(x, y, z int) uint16
}

// ChunkMap is the resident set of loaded chunks.
//
// Concurrency contract: all inserts and removals happen on the interactive
// thread (the streaming coordinator). Reads may come from any thread (mesh
// builders reading neighbor content), so the map itself is locked.
type ChunkMap struct {
	mu     sync.RWMutex
	chunks map[ChunkPos]*Chunk
}

func NewChunkMap() *ChunkMap {
	return &ChunkMap{chunks: map[ChunkPos]*Chunk{}}
}

// Get returns the resident chunk at pos, or nil.
func (m *ChunkMap) Get(pos ChunkPos) *Chunk {
	m.mu.RLock()
	c := m.chunks[pos]
	m.mu.RUnlock()
	return c
}

// Put inserts a chunk. Coordinator only.
func (m *ChunkMap) Put(c *Chunk) {
	m.mu.Lock()
	m.chunks[c.Pos] = c
	m.mu.Unlock()
}

// Delete removes the chunk at pos. Coordinator only.
func (m *ChunkMap) Delete(pos ChunkPos) {
	m.mu.Lock()
	delete(m.chunks, pos)
	m.mu.Unlock()
}

// Len is the number of resident chunks.
func (m *ChunkMap) Len() int {
	m.mu.RLock()
	n := len(m.chunks)
	m.mu.RUnlock()
	return n
}

// Keys returns all resident positions sorted by (X, Z).
func (m *ChunkMap) Keys() []ChunkPos {
	m.mu.RLock()
	keys := make([]ChunkPos, 0, len(m.chunks))
	for k := range m.chunks {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Z < keys[j].Z
	})
	return keys
}

// Each calls f for every resident chunk. The lock is held for the duration;
// f must not call back into the map.
func (m *ChunkMap) Each(f func(*Chunk)) {
	m.mu.RLock()
	for _, c := range m.chunks {
		f(c)
	}
	m.mu.RUnlock()
}

// BlockAt implements BlockGetter over the resident set.
func (m *ChunkMap) BlockAt(x, y, z int) uint16 {
	if y < 0 || y >= WorldHeight {
		return Air
	}
	c := m.Get(PosFromBlock(x, z))
	if c == nil {
		return Air
	}
	return c.Get(Mod(x, ChunkSize), y, Mod(z, ChunkSize))
}

// SetBlockAt edits a block in world coordinates. Returns the owning chunk,
// or nil if it is not resident. Coordinator/gameplay thread only.
func (m *ChunkMap) SetBlockAt(x, y, z int, b uint16) *Chunk {
	c := m.Get(PosFromBlock(x, z))
	if c == nil {
		return nil
	}
	c.Set(Mod(x, ChunkSize), y, Mod(z, ChunkSize), b)
	return c
}
