package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"voxelstream.dev/internal/save"
	"voxelstream.dev/internal/world"
	"voxelstream.dev/internal/world/lod"
)

// fakeGen counts calls per position and can block or fail on demand.
type fakeGen struct {
	mu    sync.Mutex
	calls map[world.ChunkPos]int
	fail  map[world.ChunkPos]bool
	gate  chan struct{} // when non-nil, Generate waits for it
}

func newFakeGen() *fakeGen {
	return &fakeGen{calls: map[world.ChunkPos]int{}, fail: map[world.ChunkPos]bool{}}
}

func (g *fakeGen) Generate(ctx context.Context, pos world.ChunkPos) (*world.Chunk, error) {
	g.mu.Lock()
	g.calls[pos]++
	failing := g.fail[pos]
	gate := g.gate
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failing {
		return nil, errors.New("synthetic generation failure")
	}
	c := world.NewChunk(pos)
	c.Set(0, 10, 0, 1)
	c.SetGenerated(true)
	c.ClearDirty()
	c.ClearModified()
	return c, nil
}

func (g *fakeGen) callCount(pos world.ChunkPos) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[pos]
}

func (g *fakeGen) setFail(pos world.ChunkPos, v bool) {
	g.mu.Lock()
	g.fail[pos] = v
	g.mu.Unlock()
}

type countingMesher struct {
	mu     sync.Mutex
	builds map[world.ChunkPos]int
}

func newCountingMesher() *countingMesher {
	return &countingMesher{builds: map[world.ChunkPos]int{}}
}

func (m *countingMesher) BuildMesh(c *world.Chunk, access world.BlockGetter, tier lod.Tier) (MeshData, error) {
	m.mu.Lock()
	m.builds[c.Pos]++
	m.mu.Unlock()
	return MeshData{Opaque: []float32{float32(tier)}}, nil
}

func (m *countingMesher) buildCount(pos world.ChunkPos) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.builds[pos]
}

func newTestStreamer(t *testing.T, cfg Config, deps Deps) *Streamer {
	t.Helper()
	if deps.LOD == nil {
		deps.LOD = lod.New()
	}
	if deps.Chunks == nil {
		deps.Chunks = world.NewChunkMap()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	s := New(cfg, deps)
	s.Init()
	t.Cleanup(s.Shutdown)
	return s
}

// pumpUntil runs coordinator passes until cond holds or the deadline hits.
func pumpUntil(t *testing.T, s *Streamer, wx, wz float64, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for {
		s.Update(wx, wz)
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached: stats=%+v", s.Stats())
		}
		time.Sleep(time.Millisecond)
	}
}

func settled(s *Streamer) func() bool {
	return func() bool {
		st := s.Stats()
		return st.Pending == 0 && st.Queued == 0
	}
}

func TestDedupe_SamePositionRequestedOnce(t *testing.T) {
	gen := newFakeGen()
	gen.gate = make(chan struct{})
	chunks := world.NewChunkMap()
	s := newTestStreamer(t, Config{KeepRadius: 1, Workers: 2}, Deps{Gen: gen, Chunks: chunks})

	// Several passes while every worker is blocked: the desired set is
	// recomputed once, and pending positions must not be resubmitted.
	for i := 0; i < 20; i++ {
		s.Update(8, 8)
		time.Sleep(time.Millisecond)
	}

	close(gen.gate)
	origin := world.ChunkPos{X: 0, Z: 0}
	pumpUntil(t, s, 8, 8, func() bool { return chunks.Get(origin) != nil })

	if got := gen.callCount(origin); got != 1 {
		t.Fatalf("generator called %d times for %v, want 1", got, origin)
	}
}

func TestCircularKeepSet(t *testing.T) {
	gen := newFakeGen()
	s := newTestStreamer(t, Config{KeepRadius: 8, Workers: 4}, Deps{Gen: gen})

	pumpUntil(t, s, 8, 8, settled(s))

	// (9,0): 81 > 64, outside the circle despite being inside the square.
	if got := gen.callCount(world.ChunkPos{X: 9, Z: 0}); got != 0 {
		t.Fatalf("corner position (9,0) requested %d times, want 0", got)
	}
	// (5,5): 50 <= 64, inside.
	if got := gen.callCount(world.ChunkPos{X: 5, Z: 5}); got != 1 {
		t.Fatalf("position (5,5) requested %d times, want 1", got)
	}
}

func TestCapacityBound(t *testing.T) {
	gen := newFakeGen()
	cfg := lod.New()
	cfg.SetMaxRenderDistance(8) // capacity ~221, unload distance 10
	s := newTestStreamer(t, Config{KeepRadius: 12, Workers: 4, CloseGenPerFrame: 64, FarGenPerFrame: 64},
		Deps{Gen: gen, LOD: cfg})

	max := cfg.MaxLoadedChunks()
	chunks := s.deps.Chunks
	deadline := time.Now().Add(15 * time.Second)
	for !settled(s)() {
		if time.Now().After(deadline) {
			t.Fatalf("never settled: %+v", s.Stats())
		}
		s.Update(8, 8)
		if got := chunks.Len(); got > max {
			t.Fatalf("resident set %d exceeds capacity %d", got, max)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGenerationFailureClearsPendingAndRetries(t *testing.T) {
	gen := newFakeGen()
	target := world.ChunkPos{X: 0, Z: 0}
	gen.setFail(target, true)
	chunks := world.NewChunkMap()
	s := newTestStreamer(t, Config{KeepRadius: 1, Workers: 2}, Deps{Gen: gen, Chunks: chunks})

	pumpUntil(t, s, 8, 8, settled(s))
	if chunks.Get(target) != nil {
		t.Fatalf("failed position became resident")
	}
	if s.Stats().Failed == 0 {
		t.Fatalf("failure counter not incremented")
	}
	if s.Pending() != 0 {
		t.Fatalf("pending marker leaked after failure")
	}

	// Recovery: the generator heals, and a cell transition re-desires the
	// position.
	gen.setFail(target, false)
	s.Update(24, 8) // neighbor cell
	pumpUntil(t, s, 8, 8, func() bool { return chunks.Get(target) != nil })

	if got := gen.callCount(target); got < 2 {
		t.Fatalf("generator retried %d times, want >= 2", got)
	}
}

func TestInsertTriggersMeshAndNeighborRebuild(t *testing.T) {
	gen := newFakeGen()
	mesher := newCountingMesher()
	chunks := world.NewChunkMap()
	s := newTestStreamer(t, Config{KeepRadius: 2, Workers: 2},
		Deps{Gen: gen, Mesher: mesher, Chunks: chunks})

	pumpUntil(t, s, 8, 8, settled(s))
	origin := world.ChunkPos{X: 0, Z: 0}
	if got := mesher.buildCount(origin); got == 0 {
		t.Fatalf("no mesh built for inserted chunk")
	}
	// Late neighbors force rebuilds, so interior chunks build more than
	// once; every resident chunk must have at least one build.
	for _, pos := range chunks.Keys() {
		if mesher.buildCount(pos) == 0 {
			t.Fatalf("resident chunk %v never meshed", pos)
		}
	}
}

func TestInvalidateAtBoundary(t *testing.T) {
	gen := newFakeGen()
	mesher := newCountingMesher()
	chunks := world.NewChunkMap()
	s := newTestStreamer(t, Config{KeepRadius: 2, Workers: 2},
		Deps{Gen: gen, Mesher: mesher, Chunks: chunks})
	pumpUntil(t, s, 8, 8, settled(s))

	origin := world.ChunkPos{X: 0, Z: 0}
	west := world.ChunkPos{X: -1, Z: 0}
	before := mesher.buildCount(origin)
	beforeWest := mesher.buildCount(west)

	// Block (0, y, 5) sits on the west boundary of chunk (0,0).
	s.InvalidateAt(0, 64, 5)
	s.Update(8, 8)

	if got := mesher.buildCount(origin); got != before+1 {
		t.Fatalf("owner rebuilds = %d, want %d", got, before+1)
	}
	if got := mesher.buildCount(west); got != beforeWest+1 {
		t.Fatalf("west neighbor rebuilds = %d, want %d", got, beforeWest+1)
	}
}

func TestEditRebuildsAndPersistsOnEvict(t *testing.T) {
	dir := t.TempDir()
	store, err := save.NewStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	writer := save.NewWriter(store, save.DefaultWriterConfig(), zap.NewNop())

	gen := newFakeGen()
	chunks := world.NewChunkMap()
	s := newTestStreamer(t, Config{KeepRadius: 2, Workers: 2},
		Deps{Gen: gen, Chunks: chunks, Store: store, Writer: writer})

	origin := world.ChunkPos{X: 0, Z: 0}
	pumpUntil(t, s, 8, 8, func() bool { return chunks.Get(origin) != nil })

	// Gameplay edit.
	if c := chunks.SetBlockAt(3, 70, 3, 42); c == nil {
		t.Fatalf("edit target not resident")
	}
	s.InvalidateAt(3, 70, 3)

	// Move far enough that (0,0) passes the unload distance (22 chunks).
	pumpUntil(t, s, 40*16, 8, func() bool { return chunks.Get(origin) == nil })

	writer.FlushSync()
	if !store.HasChunk(0, 0) {
		t.Fatalf("modified chunk not persisted on eviction")
	}

	// Scenario D: coming back must reload the edited content from disk
	// without invoking the generator again.
	genCallsBefore := gen.callCount(origin)
	pumpUntil(t, s, 8, 8, func() bool { return chunks.Get(origin) != nil })

	if got := gen.callCount(origin); got != genCallsBefore {
		t.Fatalf("generator invoked for a persisted chunk (%d -> %d)", genCallsBefore, got)
	}
	c := chunks.Get(origin)
	if got := c.Get(3, 70, 3); got != 42 {
		t.Fatalf("reloaded block = %d, want 42", got)
	}
	if c.Generated() {
		t.Fatalf("reloaded chunk should carry loaded provenance")
	}
}

func TestShutdownFlushesModified(t *testing.T) {
	dir := t.TempDir()
	store, err := save.NewStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	writer := save.NewWriter(store, save.DefaultWriterConfig(), zap.NewNop())

	gen := newFakeGen()
	chunks := world.NewChunkMap()
	deps := Deps{Gen: gen, Chunks: chunks, Store: store, Writer: writer, LOD: lod.New(), Log: zap.NewNop()}
	s := New(Config{KeepRadius: 1, Workers: 2}, deps)
	s.Init()

	origin := world.ChunkPos{X: 0, Z: 0}
	pumpUntil(t, s, 8, 8, func() bool { return chunks.Get(origin) != nil })
	chunks.SetBlockAt(1, 50, 1, 7)

	s.Shutdown()

	if !store.HasChunk(0, 0) {
		t.Fatalf("modified chunk not flushed at shutdown")
	}
	reloaded, err := store.LoadChunk(0, 0)
	if err != nil {
		t.Fatalf("LoadChunk: %v", err)
	}
	if got := reloaded.Get(1, 50, 1); got != 7 {
		t.Fatalf("flushed block = %d, want 7", got)
	}
}

func TestStaleResultEvictedNextPass(t *testing.T) {
	gen := newFakeGen()
	gen.gate = make(chan struct{})
	chunks := world.NewChunkMap()
	s := newTestStreamer(t, Config{KeepRadius: 1, Workers: 1}, Deps{Gen: gen, Chunks: chunks})

	// Request around the origin, then leave before anything completes.
	s.Update(8, 8)
	time.Sleep(5 * time.Millisecond)
	close(gen.gate)

	// No cancellation: the stale results still apply, then age out once
	// the viewpoint has moved past the unload distance.
	pumpUntil(t, s, 50*16, 8, func() bool {
		st := s.Stats()
		return st.Pending == 0 && st.Queued == 0 && chunks.Get(world.ChunkPos{X: 0, Z: 0}) == nil
	})
}
