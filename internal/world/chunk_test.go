package world

import "testing"

func TestPosFromWorld_Negative(t *testing.T) {
	cases := []struct {
		wx, wz float64
		want   ChunkPos
	}{
		{0, 0, ChunkPos{0, 0}},
		{15.9, 15.9, ChunkPos{0, 0}},
		{16, 0, ChunkPos{1, 0}},
		{-0.5, -0.5, ChunkPos{-1, -1}},
		{-16.0, -17.0, ChunkPos{-1, -2}},
		{-33.0, 47.0, ChunkPos{-3, 2}},
	}
	for _, c := range cases {
		if got := PosFromWorld(c.wx, c.wz); got != c.want {
			t.Fatalf("PosFromWorld(%v,%v) = %v, want %v", c.wx, c.wz, got, c.want)
		}
	}
}

func TestChunk_SetMarksDirtyAndModified(t *testing.T) {
	c := NewChunk(ChunkPos{0, 0})
	if c.Dirty() || c.Modified() {
		t.Fatalf("fresh chunk should be clean")
	}
	c.Set(3, 10, 5, 7)
	if !c.Dirty() || !c.Modified() {
		t.Fatalf("edit should set dirty and modified")
	}
	if got := c.Get(3, 10, 5); got != 7 {
		t.Fatalf("Get = %d, want 7", got)
	}

	c.ClearDirty()
	c.ClearModified()
	// Writing the same value again is a no-op.
	c.Set(3, 10, 5, 7)
	if c.Dirty() || c.Modified() {
		t.Fatalf("no-op write should not re-flag the chunk")
	}
}

func TestChunk_VerticalRange(t *testing.T) {
	c := NewChunk(ChunkPos{0, 0})
	c.Set(0, -1, 0, 5)
	c.Set(0, WorldHeight, 0, 5)
	if c.Modified() {
		t.Fatalf("out-of-range writes must be ignored")
	}
	if got := c.Get(0, -1, 0); got != Air {
		t.Fatalf("out-of-range read = %d, want air", got)
	}
}

func TestChunk_HeightmapInvalidation(t *testing.T) {
	c := NewChunk(ChunkPos{0, 0})
	if got := c.HeightAt(4, 4); got != -1 {
		t.Fatalf("empty column height = %d, want -1", got)
	}
	c.Set(4, 60, 4, 1)
	if got := c.HeightAt(4, 4); got != 60 {
		t.Fatalf("height after edit = %d, want 60", got)
	}
	c.Set(4, 90, 4, 1)
	if got := c.HeightAt(4, 4); got != 90 {
		t.Fatalf("height after higher edit = %d, want 90", got)
	}
	c.Set(4, 90, 4, Air)
	if got := c.HeightAt(4, 4); got != 60 {
		t.Fatalf("height after clearing top = %d, want 60", got)
	}
}

func TestChunkMap_BlockAtCrossesChunks(t *testing.T) {
	m := NewChunkMap()
	a := NewChunk(ChunkPos{0, 0})
	b := NewChunk(ChunkPos{-1, 0})
	a.Set(0, 64, 0, 2)
	b.Set(ChunkSize-1, 64, 0, 3)
	m.Put(a)
	m.Put(b)

	if got := m.BlockAt(0, 64, 0); got != 2 {
		t.Fatalf("BlockAt(0,64,0) = %d, want 2", got)
	}
	if got := m.BlockAt(-1, 64, 0); got != 3 {
		t.Fatalf("BlockAt(-1,64,0) = %d, want 3", got)
	}
	if got := m.BlockAt(100, 64, 100); got != Air {
		t.Fatalf("BlockAt over missing chunk = %d, want air", got)
	}
}

func TestChunkMap_Keys(t *testing.T) {
	m := NewChunkMap()
	for _, p := range []ChunkPos{{2, 1}, {0, 0}, {-1, 5}, {0, -3}} {
		m.Put(NewChunk(p))
	}
	keys := m.Keys()
	want := []ChunkPos{{-1, 5}, {0, -3}, {0, 0}, {2, 1}}
	if len(keys) != len(want) {
		t.Fatalf("len = %d, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d] = %v, want %v", i, keys[i], want[i])
		}
	}
}
