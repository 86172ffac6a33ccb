package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"voxelstream.dev/internal/save"
	"voxelstream.dev/internal/world"
)

// chunkSource is the disk-recovery half of chunk production. *save.Store
// implements it.
type chunkSource interface {
	LoadChunk(cx, cz int) (*world.Chunk, error)
}

// result is one finished production attempt. err is set on failure; the
// coordinator still uses the result to release the pending marker.
type result struct {
	pos      world.ChunkPos
	chunk    *world.Chunk
	fromDisk bool
	err      error
}

// pool is the fixed-size production worker pool. Workers pull positions
// from one intake queue, try disk recovery, fall back to the generator, and
// push onto one completion queue consumed only by the coordinator.
type pool struct {
	gen     Generator
	source  chunkSource
	timeout time.Duration
	log     *zap.Logger

	intake  chan world.ChunkPos
	results chan result
	wg      sync.WaitGroup
}

func newPool(workers, queueCap int, gen Generator, source chunkSource, timeout time.Duration, logger *zap.Logger) *pool {
	p := &pool{
		gen:     gen,
		source:  source,
		timeout: timeout,
		log:     logger,
		intake:  make(chan world.ChunkPos, queueCap),
		results: make(chan result, queueCap),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// submit offers a position to the intake queue without blocking. Returns
// false when the queue is full.
func (p *pool) submit(pos world.ChunkPos) bool {
	select {
	case p.intake <- pos:
		return true
	default:
		return false
	}
}

// close stops intake; workers exit once the queue is drained.
func (p *pool) close() { close(p.intake) }

// join waits for the workers within the bound. Returns false on timeout.
func (p *pool) join(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *pool) worker() {
	defer p.wg.Done()
	for pos := range p.intake {
		p.results <- p.produce(pos)
	}
}

// produce recovers a chunk from disk or generates it. A panic inside the
// generator is converted to a failure result so the worker loop survives.
func (p *pool) produce(pos world.ChunkPos) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res = result{pos: pos, err: fmt.Errorf("generator panic: %v", r)}
		}
	}()

	if p.source != nil {
		c, err := p.source.LoadChunk(pos.X, pos.Z)
		if err == nil {
			return result{pos: pos, chunk: c, fromDisk: true}
		}
		if !save.IsNotFound(err) {
			// A read failure reads as "not saved": regenerate.
			p.log.Warn("disk recovery failed; regenerating",
				zap.String("pos", pos.String()), zap.Error(err))
		}
	}

	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	c, err := p.gen.Generate(ctx, pos)
	if err != nil {
		return result{pos: pos, err: err}
	}
	return result{pos: pos, chunk: c}
}
