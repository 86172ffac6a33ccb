// worldd runs a headless chunk-streaming world server: it keeps the resident
// set consistent with a viewpoint driven over HTTP, persists edits through
// the async region writer, and pushes telemetry over a websocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"voxelstream.dev/internal/save"
	"voxelstream.dev/internal/save/indexdb"
	"voxelstream.dev/internal/stream"
	"voxelstream.dev/internal/telemetry"
	"voxelstream.dev/internal/tuning"
	"voxelstream.dev/internal/world"
	"voxelstream.dev/internal/world/gen"
	"voxelstream.dev/internal/world/lod"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		worldName  = flag.String("world", "world", "world name")
		seed       = flag.Int64("seed", 1337, "world seed (fresh worlds only)")
		preset     = flag.String("preset", "default", "generation preset (fresh worlds only)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <data>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite save index")
		tickMs     = flag.Int("tick_ms", 50, "coordinator update interval")
	)
	flag.Parse()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*dataDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "load tuning: %v\n", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}

	logger, err := newLogger(tune.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	worldsRoot := filepath.Join(*dataDir, "worlds")
	worldDir := filepath.Join(worldsRoot, *worldName)
	if !save.MetaExists(worldDir) {
		worldDir = filepath.Join(worldsRoot, save.ToFolderName(worldsRoot, *worldName))
	}

	var meta *save.Meta
	if save.MetaExists(worldDir) {
		meta, err = save.LoadMeta(worldDir)
		if err != nil {
			logger.Fatal("load world meta", zap.Error(err))
		}
		if !meta.LockValid() {
			logger.Fatal("generation lock mismatch; refusing to create seams",
				zap.String("world", meta.Name), zap.String("preset", meta.GenPreset))
		}
		logger.Info("resuming world", zap.String("name", meta.Name), zap.Int64("seed", meta.Seed))
	} else {
		meta = save.NewMeta(*worldName, *seed, *preset)
		if err := meta.Save(worldDir); err != nil {
			logger.Fatal("create world meta", zap.Error(err))
		}
		logger.Info("created world", zap.String("name", meta.Name), zap.Int64("seed", meta.Seed))
	}

	store, err := save.NewStore(worldDir, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index.db"))
		if err != nil {
			logger.Fatal("open save index", zap.Error(err))
		}
		defer idx.Close()
		if _, err := idx.BeginSession(meta.Name, meta.Seed); err != nil {
			logger.Warn("begin index session", zap.Error(err))
		}
		defer idx.EndSession()
	}

	writer := save.NewWriter(indexedSink{store: store, idx: idx}, save.WriterConfig{
		MaxPending: tune.WriterMaxPending,
		HighWater:  tune.WriterHighWater,
		LowWater:   tune.WriterLowWater,
	}, logger)

	detail := lod.New()
	detail.SetThreshold(tune.LodThreshold)
	detail.SetMaxRenderDistance(tune.MaxRenderDistance)

	chunks := world.NewChunkMap()
	streamer := stream.New(stream.Config{
		KeepRadius:       tune.KeepRadius,
		Workers:          tune.GenWorkers,
		GenTimeout:       time.Duration(tune.GenTimeoutMs) * time.Millisecond,
		CloseGenPerFrame: tune.CloseGenPerFrame,
		FarGenPerFrame:   tune.FarGenPerFrame,
	}, stream.Deps{
		LOD:    detail,
		Chunks: chunks,
		Gen:    &gen.Generator{Seed: meta.Seed},
		Store:  store,
		Writer: writer,
		Log:    logger,
	})
	streamer.Init()

	view := &viewpoint{x: meta.PlayerX, z: meta.PlayerZ}

	ctx, cancel := signalContext()
	defer cancel()

	// Coordinator loop. Single goroutine; every streamer call happens here.
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		tick := time.NewTicker(time.Duration(*tickMs) * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				streamer.Shutdown()
				return
			case <-tick.C:
				x, z := view.get()
				streamer.Update(x, z)
			}
		}
	}()

	stats := telemetry.NewServer(func() telemetry.Snapshot {
		return telemetry.Merge(streamer.Stats(), writer.Stats(), detail)
	}, time.Second, logger)
	defer stats.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/stats", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(telemetry.Merge(streamer.Stats(), writer.Stats(), detail))
	})
	mux.HandleFunc("/v1/viewpoint", func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			x, z := view.get()
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]float64{"x": x, "z": z})
		case http.MethodPost:
			var req struct {
				X float64 `json:"x"`
				Z float64 `json:"z"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(rw, err.Error(), http.StatusBadRequest)
				return
			}
			view.set(req.X, req.Z)
			rw.WriteHeader(http.StatusNoContent)
		default:
			rw.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/v1/telemetry", stats.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", zap.String("addr", *addr), zap.String("world_dir", worldDir))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("listen", zap.Error(err))
	}

	<-loopDone

	x, z := view.get()
	meta.PlayerX, meta.PlayerZ = x, z
	if err := meta.Save(worldDir); err != nil {
		logger.Warn("save world meta", zap.Error(err))
	}
	logger.Info("world closed", zap.String("name", meta.Name))
}

// indexedSink routes async writes through the store and records each one in
// the save index.
type indexedSink struct {
	store *save.Store
	idx   *indexdb.SQLiteIndex
}

func (s indexedSink) WriteBlob(pos world.ChunkPos, data []byte) error {
	if err := s.store.WriteBlob(pos, data); err != nil {
		return err
	}
	s.idx.RecordSave(indexdb.SaveEvent{CX: pos.X, CZ: pos.Z, Bytes: len(data), Reason: "evict"})
	return nil
}

type viewpoint struct {
	mu   sync.Mutex
	x, z float64
}

func (v *viewpoint) get() (float64, float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.x, v.z
}

func (v *viewpoint) set(x, z float64) {
	v.mu.Lock()
	v.x, v.z = x, z
	v.mu.Unlock()
}

func newLogger(cfg tuning.Logging) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
