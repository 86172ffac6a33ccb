package stream

import (
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"voxelstream.dev/internal/encoding"
	"voxelstream.dev/internal/save"
	"voxelstream.dev/internal/world"
	"voxelstream.dev/internal/world/lod"
)

// Config tunes the streaming coordinator.
type Config struct {
	// KeepRadius is the circular radius (in chunks) of positions that must
	// be resident around the viewpoint.
	KeepRadius int
	// Workers is the production pool size.
	Workers int
	// QueueCap bounds the intake and completion queues.
	QueueCap int
	// GenTimeout bounds one generation task; zero disables the deadline.
	GenTimeout time.Duration
	// CloseGenPerFrame / FarGenPerFrame cap production submissions per
	// update for near (tier 0-1) and far (tier 2-3) positions.
	CloseGenPerFrame int
	FarGenPerFrame   int
	// ShutdownTimeout bounds the worker-pool join at shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig mirrors the engine's tuned streaming parameters.
func DefaultConfig() Config {
	return Config{
		KeepRadius:       8,
		Workers:          4,
		QueueCap:         4096,
		GenTimeout:       30 * time.Second,
		CloseGenPerFrame: 4,
		FarGenPerFrame:   6,
		ShutdownTimeout:  5 * time.Second,
	}
}

// Deps are the coordinator's collaborators. Store, Writer, Mesher and
// PostLoad may be nil (headless / persistence-free operation).
type Deps struct {
	LOD      *lod.Config
	Chunks   *world.ChunkMap
	Gen      Generator
	Mesher   Mesher
	Store    *save.Store
	Writer   *save.Writer
	PostLoad Hook
	Log      *zap.Logger
}

// Stats is a snapshot of the coordinator counters.
type Stats struct {
	Resident      int   `json:"resident"`
	Pending       int   `json:"pending"`
	Queued        int   `json:"queued"`
	Generated     int64 `json:"generated"`
	Loaded        int64 `json:"loaded"`
	Failed        int64 `json:"failed"`
	MeshBuilds    int64 `json:"mesh_builds"`
	Evicted       int64 `json:"evicted"`
	SavedOnEvict  int64 `json:"saved_on_evict"`
	SubmitDropped int64 `json:"submit_dropped"`
}

// Streamer keeps the resident set consistent with the viewpoint.
//
// Threading: Init, Update, InvalidateAt, InvalidateMany and Shutdown are
// interactive-thread only. The worker pool and persistence writer run on
// their own goroutines; all handoff is through queues. Stats is safe from
// any goroutine.
type Streamer struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	pool *pool

	// Interactive-thread state. A position is in exactly one of:
	// absent, pending, resident (deps.Chunks).
	pending   map[world.ChunkPos]struct{}
	queue     []world.ChunkPos // desired, unsubmitted, near-to-far
	meshes    map[world.ChunkPos]MeshData
	center    world.ChunkPos
	hasCenter bool

	pendingCount  atomic.Int64
	queuedCount   atomic.Int64
	generated     atomic.Int64
	loaded        atomic.Int64
	failed        atomic.Int64
	meshBuilds    atomic.Int64
	evicted       atomic.Int64
	savedOnEvict  atomic.Int64
	submitDropped atomic.Int64
	residentCount atomic.Int64
}

// New builds a coordinator. Call Init before the first Update.
func New(cfg Config, deps Deps) *Streamer {
	if cfg.KeepRadius <= 0 {
		cfg.KeepRadius = 8
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 4096
	}
	if cfg.CloseGenPerFrame <= 0 {
		cfg.CloseGenPerFrame = 4
	}
	if cfg.FarGenPerFrame <= 0 {
		cfg.FarGenPerFrame = 6
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Streamer{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log,
		pending: map[world.ChunkPos]struct{}{},
		meshes:  map[world.ChunkPos]MeshData{},
	}
}

// Init starts the production worker pool.
func (s *Streamer) Init() {
	var source chunkSource
	if s.deps.Store != nil {
		source = s.deps.Store
	}
	s.pool = newPool(s.cfg.Workers, s.cfg.QueueCap, s.deps.Gen, source, s.cfg.GenTimeout, s.log)
}

// Update runs one coordinator pass for the given viewpoint (world units).
func (s *Streamer) Update(wx, wz float64) {
	cell := world.PosFromWorld(wx, wz)
	if !s.hasCenter {
		s.center = cell
	}

	s.drainResults()
	s.rebuildDirty()

	// The desired set is recomputed only on a cell transition; submission
	// continues every frame until the queue drains.
	if !s.hasCenter || cell != s.center {
		s.center = cell
		s.hasCenter = true
		s.recomputeDesired()
	}
	s.hasCenter = true
	s.submitBudgeted()

	s.evictOutOfRange()
	s.enforceCapacity()
}

// drainResults applies every finished production result.
func (s *Streamer) drainResults() {
	for {
		select {
		case r := <-s.pool.results:
			s.apply(r)
		default:
			return
		}
	}
}

func (s *Streamer) apply(r result) {
	// The pending marker is released no matter how production went;
	// otherwise a failed position could never be retried.
	if _, ok := s.pending[r.pos]; ok {
		delete(s.pending, r.pos)
		s.pendingCount.Add(-1)
	}

	if r.err != nil {
		s.failed.Add(1)
		s.log.Warn("chunk production failed",
			zap.String("pos", r.pos.String()), zap.Error(r.err))
		return
	}
	if s.deps.Chunks.Get(r.pos) != nil {
		// Already resident (stale duplicate); the resident chunk wins.
		return
	}

	if r.fromDisk {
		s.loaded.Add(1)
	} else {
		s.generated.Add(1)
	}
	s.deps.Chunks.Put(r.chunk)
	s.residentCount.Store(int64(s.deps.Chunks.Len()))

	if s.deps.PostLoad != nil {
		s.deps.PostLoad(r.chunk, s.deps.Chunks)
	}
	s.buildMesh(r.chunk)

	// Cross-boundary faces and lighting depend on neighbor content, so the
	// four lateral neighbors are rebuilt in this same pass.
	for _, n := range lateralNeighbors(r.pos) {
		if c := s.deps.Chunks.Get(n); c != nil {
			c.MarkDirty()
		}
	}
}

func lateralNeighbors(p world.ChunkPos) [4]world.ChunkPos {
	return [4]world.ChunkPos{
		{X: p.X - 1, Z: p.Z},
		{X: p.X + 1, Z: p.Z},
		{X: p.X, Z: p.Z - 1},
		{X: p.X, Z: p.Z + 1},
	}
}

func (s *Streamer) rebuildDirty() {
	var dirty []*world.Chunk
	s.deps.Chunks.Each(func(c *world.Chunk) {
		if c.Dirty() {
			dirty = append(dirty, c)
		}
	})
	for _, c := range dirty {
		s.buildMesh(c)
	}
}

func (s *Streamer) buildMesh(c *world.Chunk) {
	// Dirty clears even without a mesher (or on a build failure): the next
	// edit re-flags the chunk, and a failed build must not retry forever.
	c.ClearDirty()
	if s.deps.Mesher == nil {
		return
	}
	tier := s.deps.LOD.TierForDistSq(c.Pos.DistSq(s.center))
	md, err := s.deps.Mesher.BuildMesh(c, s.deps.Chunks, tier)
	if err != nil {
		s.log.Warn("mesh build failed",
			zap.String("pos", c.Pos.String()), zap.Error(err))
		return
	}
	s.meshes[c.Pos] = md
	s.meshBuilds.Add(1)
}

// recomputeDesired fills the submission queue with every position inside
// the circular keep radius, nearest first.
func (s *Streamer) recomputeDesired() {
	r := s.cfg.KeepRadius
	r2 := r * r
	s.queue = s.queue[:0]
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dz*dz > r2 {
				continue
			}
			s.queue = append(s.queue, world.ChunkPos{X: s.center.X + dx, Z: s.center.Z + dz})
		}
	}
	sort.Slice(s.queue, func(i, j int) bool {
		return s.queue[i].DistSq(s.center) < s.queue[j].DistSq(s.center)
	})
	s.queuedCount.Store(int64(len(s.queue)))
}

// submitBudgeted hands queued positions to the worker pool, bounded per
// frame so a teleport cannot flood a single update.
func (s *Streamer) submitBudgeted() {
	if len(s.queue) == 0 {
		return
	}
	closeBudget := s.cfg.CloseGenPerFrame
	farBudget := s.cfg.FarGenPerFrame
	lod2 := s.deps.LOD.Lod2Start()

	rest := s.queue[:0]
	for i, pos := range s.queue {
		if closeBudget == 0 && farBudget == 0 {
			rest = append(rest, s.queue[i:]...)
			break
		}
		if s.deps.Chunks.Get(pos) != nil {
			continue
		}
		if _, ok := s.pending[pos]; ok {
			continue
		}

		isClose := pos.DistSq(s.center) <= lod2*lod2
		if isClose && closeBudget == 0 || !isClose && farBudget == 0 {
			rest = append(rest, pos)
			continue
		}

		// Pending marker and queue submission move together, so the same
		// position is never in flight twice.
		s.pending[pos] = struct{}{}
		if !s.pool.submit(pos) {
			delete(s.pending, pos)
			s.submitDropped.Add(1)
			rest = append(rest, pos)
			continue
		}
		s.pendingCount.Add(1)
		if isClose {
			closeBudget--
		} else {
			farBudget--
		}
	}
	s.queue = rest
	s.queuedCount.Store(int64(len(s.queue)))
}

func (s *Streamer) evictOutOfRange() {
	unload := s.deps.LOD.UnloadDistance()
	limit := unload * unload
	var out []*world.Chunk
	s.deps.Chunks.Each(func(c *world.Chunk) {
		if c.Pos.DistSq(s.center) > limit {
			out = append(out, c)
		}
	})
	for _, c := range out {
		s.evict(c)
	}
}

// enforceCapacity evicts farthest-first until the resident set fits the
// LOD-derived bound.
func (s *Streamer) enforceCapacity() {
	max := s.deps.LOD.MaxLoadedChunks()
	over := s.deps.Chunks.Len() - max
	if over <= 0 {
		return
	}
	var all []*world.Chunk
	s.deps.Chunks.Each(func(c *world.Chunk) { all = append(all, c) })
	sort.Slice(all, func(i, j int) bool {
		return all[i].Pos.DistSq(s.center) > all[j].Pos.DistSq(s.center)
	})
	for i := 0; i < over && i < len(all); i++ {
		s.evict(all[i])
	}
}

func (s *Streamer) evict(c *world.Chunk) {
	if c.Modified() {
		blob := encoding.EncodeChunk(c)
		switch {
		case s.deps.Writer != nil:
			if s.deps.Writer.Enqueue(c.Pos, blob) {
				s.savedOnEvict.Add(1)
			}
			// A throttle drop is an accepted loss; content is regenerable.
		case s.deps.Store != nil:
			if err := s.deps.Store.WriteBlob(c.Pos, blob); err != nil {
				s.log.Warn("evict save failed",
					zap.String("pos", c.Pos.String()), zap.Error(err))
			} else {
				s.savedOnEvict.Add(1)
			}
		}
	}
	s.deps.Chunks.Delete(c.Pos)
	delete(s.meshes, c.Pos)
	s.evicted.Add(1)
	s.residentCount.Store(int64(s.deps.Chunks.Len()))
}

// InvalidateAt flags the chunk owning the block for a mesh rebuild, plus
// any lateral neighbor sharing that block's boundary.
func (s *Streamer) InvalidateAt(x, y, z int) {
	pos := world.PosFromBlock(x, z)
	if c := s.deps.Chunks.Get(pos); c != nil {
		c.MarkDirty()
	}

	lx := world.Mod(x, world.ChunkSize)
	lz := world.Mod(z, world.ChunkSize)
	var neighbors []world.ChunkPos
	if lx == 0 {
		neighbors = append(neighbors, world.ChunkPos{X: pos.X - 1, Z: pos.Z})
	}
	if lx == world.ChunkSize-1 {
		neighbors = append(neighbors, world.ChunkPos{X: pos.X + 1, Z: pos.Z})
	}
	if lz == 0 {
		neighbors = append(neighbors, world.ChunkPos{X: pos.X, Z: pos.Z - 1})
	}
	if lz == world.ChunkSize-1 {
		neighbors = append(neighbors, world.ChunkPos{X: pos.X, Z: pos.Z + 1})
	}
	for _, n := range neighbors {
		if c := s.deps.Chunks.Get(n); c != nil {
			c.MarkDirty()
		}
	}
}

// InvalidateMany flags a batch of chunks for rebuild.
func (s *Streamer) InvalidateMany(positions []world.ChunkPos) {
	for _, p := range positions {
		if c := s.deps.Chunks.Get(p); c != nil {
			c.MarkDirty()
		}
	}
}

// Mesh returns the last built geometry for pos, if any.
func (s *Streamer) Mesh(pos world.ChunkPos) (MeshData, bool) {
	md, ok := s.meshes[pos]
	return md, ok
}

// Pending reports the number of in-flight productions.
func (s *Streamer) Pending() int { return int(s.pendingCount.Load()) }

// Stats snapshots the coordinator counters. Safe from any goroutine.
func (s *Streamer) Stats() Stats {
	return Stats{
		Resident:      int(s.residentCount.Load()),
		Pending:       int(s.pendingCount.Load()),
		Queued:        int(s.queuedCount.Load()),
		Generated:     s.generated.Load(),
		Loaded:        s.loaded.Load(),
		Failed:        s.failed.Load(),
		MeshBuilds:    s.meshBuilds.Load(),
		Evicted:       s.evicted.Load(),
		SavedOnEvict:  s.savedOnEvict.Load(),
		SubmitDropped: s.submitDropped.Load(),
	}
}

// Shutdown stops the worker pool, drains what finished in time, flushes
// modified resident chunks synchronously, then stops the writer.
func (s *Streamer) Shutdown() {
	s.pool.close()
	if !s.pool.join(s.cfg.ShutdownTimeout) {
		s.log.Warn("worker pool join timed out",
			zap.Duration("timeout", s.cfg.ShutdownTimeout))
	}
	s.drainResults()

	if s.deps.Store != nil {
		saved := s.deps.Store.SaveModified(s.deps.Chunks)
		if saved > 0 {
			s.log.Info("flushed modified chunks", zap.Int("count", saved))
		}
	}
	if s.deps.Writer != nil {
		s.deps.Writer.Shutdown()
	}
}
