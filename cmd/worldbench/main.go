// worldbench drives the streaming coordinator along a straight flight path
// against the real generator and persistence stack, then reports counters
// and update timings. Useful for sizing worker counts and per-frame budgets.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"voxelstream.dev/internal/save"
	"voxelstream.dev/internal/stream"
	"voxelstream.dev/internal/world"
	"voxelstream.dev/internal/world/gen"
	"voxelstream.dev/internal/world/lod"
)

func main() {
	var (
		seed     = flag.Int64("seed", 1337, "world seed")
		updates  = flag.Int("updates", 2000, "coordinator passes to run")
		step     = flag.Float64("step", 4, "world units traveled per pass")
		radius   = flag.Int("radius", 8, "keep radius in chunks")
		workers  = flag.Int("workers", 4, "generation workers")
		maxDist  = flag.Int("max_dist", 20, "max render distance in chunks")
		dataDir = flag.String("data", "", "world directory (default: temp, removed after)")
		jsonOut = flag.Bool("json", false, "print the report as JSON")
	)
	flag.Parse()

	dir := *dataDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "worldbench-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	logger := zap.NewNop()
	store, err := save.NewStore(dir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	writer := save.NewWriter(store, save.DefaultWriterConfig(), logger)

	detail := lod.New()
	detail.SetMaxRenderDistance(*maxDist)

	s := stream.New(stream.Config{
		KeepRadius: *radius,
		Workers:    *workers,
	}, stream.Deps{
		LOD:    detail,
		Chunks: world.NewChunkMap(),
		Gen:    &gen.Generator{Seed: *seed},
		Store:  store,
		Writer: writer,
		Log:    logger,
	})
	s.Init()

	durations := make([]time.Duration, 0, *updates)
	start := time.Now()
	for i := 0; i < *updates; i++ {
		x := float64(i) * *step
		t0 := time.Now()
		s.Update(x, 0)
		durations = append(durations, time.Since(t0))
	}
	// Let the pool finish what the flight left in the air.
	deadline := time.Now().Add(10 * time.Second)
	x := float64(*updates) * *step
	for s.Pending() > 0 && time.Now().Before(deadline) {
		s.Update(x, 0)
		time.Sleep(time.Millisecond)
	}
	elapsed := time.Since(start)
	s.Shutdown()

	report := buildReport(s.Stats(), writer.Stats(), durations, elapsed)
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}
	fmt.Printf("flight: %d updates over %.1fs (%.0f updates/s)\n",
		len(durations), elapsed.Seconds(), float64(len(durations))/elapsed.Seconds())
	fmt.Printf("update: p50=%s p95=%s p99=%s max=%s\n",
		report.UpdateP50, report.UpdateP95, report.UpdateP99, report.UpdateMax)
	fmt.Printf("chunks: generated=%d loaded=%d evicted=%d failed=%d\n",
		report.Stream.Generated, report.Stream.Loaded, report.Stream.Evicted, report.Stream.Failed)
	fmt.Printf("writer: written=%d merged=%d dropped=%d peak_backlog=%d\n",
		report.Writer.ChunksWritten, report.Writer.Merged, report.Writer.Dropped, report.Writer.PeakBacklog)
}

type report struct {
	Updates   int           `json:"updates"`
	ElapsedMs int64         `json:"elapsed_ms"`
	UpdateP50 time.Duration `json:"update_p50_ns"`
	UpdateP95 time.Duration `json:"update_p95_ns"`
	UpdateP99 time.Duration `json:"update_p99_ns"`
	UpdateMax time.Duration `json:"update_max_ns"`

	Stream stream.Stats     `json:"stream"`
	Writer save.WriterStats `json:"writer"`
}

func buildReport(ss stream.Stats, ws save.WriterStats, durations []time.Duration, elapsed time.Duration) report {
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	pct := func(p float64) time.Duration {
		if len(sorted) == 0 {
			return 0
		}
		return sorted[int(p*float64(len(sorted)-1))]
	}
	return report{
		Updates:   len(durations),
		ElapsedMs: elapsed.Milliseconds(),
		UpdateP50: pct(0.50),
		UpdateP95: pct(0.95),
		UpdateP99: pct(0.99),
		UpdateMax: pct(1),
		Stream:    ss,
		Writer:    ws,
	}
}
