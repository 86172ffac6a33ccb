package save

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"voxelstream.dev/internal/world"
)

// BlobSink receives drained save jobs. *Store implements it; tests inject
// slow or failing sinks.
type BlobSink interface {
	WriteBlob(pos world.ChunkPos, data []byte) error
}

// WriterConfig bounds the async writer's backlog.
type WriterConfig struct {
	// MaxPending is a hard cap on distinct queued positions. New positions
	// beyond it are dropped even outside throttle mode; merges always land.
	MaxPending int
	// HighWater enters throttle mode; LowWater exits it. The gap prevents
	// oscillation under bursty load.
	HighWater int
	LowWater  int
	// ShutdownTimeout bounds the join of the writer goroutine.
	ShutdownTimeout time.Duration
}

// DefaultWriterConfig mirrors the engine's tuned backlog bounds.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		MaxPending:      512,
		HighWater:       500,
		LowWater:        200,
		ShutdownTimeout: 5 * time.Second,
	}
}

// WriterStats is a point-in-time snapshot of the writer's counters.
type WriterStats struct {
	Backlog       int
	Enqueued      int64
	Merged        int64
	Dropped       int64
	PeakBacklog   int64
	ChunksWritten int64
	BytesWritten  int64
	Throttled     bool
	ThrottledFor  time.Duration
}

// Writer drains coalesced chunk save jobs to a BlobSink on a dedicated
// goroutine. Enqueue never touches disk and never blocks on it.
//
// Jobs for the same position coalesce: the payload is replaced in place and
// the position keeps its original FIFO rank. Under throttle only merges are
// accepted; brand-new positions are dropped and counted.
type Writer struct {
	sink BlobSink
	cfg  WriterConfig
	log  *zap.Logger

	mu            sync.Mutex
	jobs          map[world.ChunkPos][]byte
	fifo          []world.ChunkPos
	throttled     bool
	throttleStart time.Time

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	enqueued      atomic.Int64
	merged        atomic.Int64
	dropped       atomic.Int64
	peakBacklog   atomic.Int64
	chunksWritten atomic.Int64
	bytesWritten  atomic.Int64
	throttledNs   atomic.Int64
}

// NewWriter starts the writer goroutine.
func NewWriter(sink BlobSink, cfg WriterConfig, logger *zap.Logger) *Writer {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 512
	}
	if cfg.HighWater <= 0 || cfg.HighWater > cfg.MaxPending {
		cfg.HighWater = cfg.MaxPending
	}
	if cfg.LowWater <= 0 || cfg.LowWater > cfg.HighWater {
		cfg.LowWater = cfg.HighWater / 2
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	w := &Writer{
		sink: sink,
		cfg:  cfg,
		log:  logger,
		jobs: map[world.ChunkPos][]byte{},
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue queues (or merges) a save job. Returns false if the job was
// dropped by backpressure. O(1), never blocks on disk.
func (w *Writer) Enqueue(pos world.ChunkPos, data []byte) bool {
	w.mu.Lock()

	size := len(w.jobs)
	if int64(size) > w.peakBacklog.Load() {
		w.peakBacklog.Store(int64(size))
	}

	// Two-watermark hysteresis. Transitions are evaluated on the producer
	// path so the counters never need a background sweep.
	if !w.throttled && size >= w.cfg.HighWater {
		w.throttled = true
		w.throttleStart = time.Now()
	} else if w.throttled && size < w.cfg.LowWater {
		w.throttled = false
		w.throttledNs.Add(time.Since(w.throttleStart).Nanoseconds())
	}

	if _, queued := w.jobs[pos]; queued {
		// Merge: latest payload wins, FIFO rank unchanged.
		w.jobs[pos] = data
		w.merged.Add(1)
		w.mu.Unlock()
		w.kick()
		return true
	}

	if w.throttled || size >= w.cfg.MaxPending {
		w.dropped.Add(1)
		w.mu.Unlock()
		return false
	}

	w.jobs[pos] = data
	w.fifo = append(w.fifo, pos)
	w.enqueued.Add(1)
	w.mu.Unlock()
	w.kick()
	return true
}

func (w *Writer) kick() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Backlog is the number of distinct queued positions.
func (w *Writer) Backlog() int {
	w.mu.Lock()
	n := len(w.jobs)
	w.mu.Unlock()
	return n
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	backlog := len(w.jobs)
	throttled := w.throttled
	extra := time.Duration(0)
	if throttled {
		extra = time.Since(w.throttleStart)
	}
	w.mu.Unlock()
	return WriterStats{
		Backlog:       backlog,
		Enqueued:      w.enqueued.Load(),
		Merged:        w.merged.Load(),
		Dropped:       w.dropped.Load(),
		PeakBacklog:   w.peakBacklog.Load(),
		ChunksWritten: w.chunksWritten.Load(),
		BytesWritten:  w.bytesWritten.Load(),
		Throttled:     throttled,
		ThrottledFor:  time.Duration(w.throttledNs.Load()) + extra,
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		if pos, data, ok := w.pop(); ok {
			w.write(pos, data)
			continue
		}
		select {
		case <-w.wake:
		case <-w.stop:
			w.drain()
			return
		}
	}
}

// pop removes the oldest distinct position and its (latest) payload.
func (w *Writer) pop() (world.ChunkPos, []byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.fifo) == 0 {
		return world.ChunkPos{}, nil, false
	}
	pos := w.fifo[0]
	w.fifo = w.fifo[1:]
	data, ok := w.jobs[pos]
	delete(w.jobs, pos)
	return pos, data, ok
}

func (w *Writer) write(pos world.ChunkPos, data []byte) {
	if err := w.sink.WriteBlob(pos, data); err != nil {
		// The save is lost; content is regenerable, so log and move on.
		w.log.Warn("async chunk write failed",
			zap.Int("cx", pos.X), zap.Int("cz", pos.Z), zap.Error(err))
		return
	}
	w.chunksWritten.Add(1)
	w.bytesWritten.Add(int64(len(data)))
}

func (w *Writer) drain() {
	for {
		pos, data, ok := w.pop()
		if !ok {
			return
		}
		w.write(pos, data)
	}
}

// FlushSync blocks until the backlog is empty. World-save/shutdown path
// only; never called per frame.
func (w *Writer) FlushSync() {
	for {
		if w.Backlog() == 0 {
			return
		}
		select {
		case <-w.done:
			// Writer exited; drain whatever it left behind.
			w.drain()
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// Shutdown stops the writer, joins it within the configured bound, then
// performs a best-effort drain of anything that remains.
func (w *Writer) Shutdown() {
	select {
	case <-w.stop:
		// Already stopped.
	default:
		close(w.stop)
	}

	select {
	case <-w.done:
	case <-time.After(w.cfg.ShutdownTimeout):
		w.log.Warn("writer join timed out; draining best-effort",
			zap.Duration("timeout", w.cfg.ShutdownTimeout))
	}
	// Safe even if the goroutine is alive: pop and the sink serialize
	// internally, so a caller-side drain cannot double-write a job.
	w.drain()

	w.mu.Lock()
	if w.throttled {
		w.throttled = false
		w.throttledNs.Add(time.Since(w.throttleStart).Nanoseconds())
	}
	w.mu.Unlock()
}
