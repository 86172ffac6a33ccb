// Package telemetry exposes engine counters to external observers: a merged
// stats snapshot and a websocket endpoint that pushes it on an interval.
package telemetry

import (
	"time"

	"voxelstream.dev/internal/save"
	"voxelstream.dev/internal/stream"
)

// Snapshot is the wire form of one telemetry sample. Field names are part of
// the schema in schemas/stats.schema.json.
type Snapshot struct {
	UnixMs int64 `json:"unix_ms"`

	Stream struct {
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
	} `json:"stream"`

	Writer struct {
		Backlog       int   `json:"backlog"`
		Enqueued      int64 `json:"enqueued"`
		Merged        int64 `json:"merged"`
		Dropped       int64 `json:"dropped"`
		PeakBacklog   int64 `json:"peak_backlog"`
		ChunksWritten int64 `json:"chunks_written"`
		BytesWritten  int64 `json:"bytes_written"`
		Throttled     bool  `json:"throttled"`
		ThrottledMs   int64 `json:"throttled_ms"`
	} `json:"writer"`

	Lod struct {
		Threshold         int `json:"threshold"`
		MaxRenderDistance int `json:"max_render_distance"`
		MaxChunks         int `json:"max_chunks"`
	} `json:"lod"`
}

// LodView is the subset of the detail config telemetry reports.
type LodView interface {
	Threshold() int
	MaxRenderDistance() int
	MaxLoadedChunks() int
}

// Merge folds the per-subsystem counters into one sample.
func Merge(ss stream.Stats, ws save.WriterStats, lod LodView) Snapshot {
	var snap Snapshot
	snap.UnixMs = time.Now().UnixMilli()

	snap.Stream.Resident = ss.Resident
	snap.Stream.Pending = ss.Pending
	snap.Stream.Queued = ss.Queued
	snap.Stream.Generated = ss.Generated
	snap.Stream.Loaded = ss.Loaded
	snap.Stream.Failed = ss.Failed
	snap.Stream.MeshBuilds = ss.MeshBuilds
	snap.Stream.Evicted = ss.Evicted
	snap.Stream.SavedOnEvict = ss.SavedOnEvict
	snap.Stream.SubmitDropped = ss.SubmitDropped

	snap.Writer.Backlog = ws.Backlog
	snap.Writer.Enqueued = ws.Enqueued
	snap.Writer.Merged = ws.Merged
	snap.Writer.Dropped = ws.Dropped
	snap.Writer.PeakBacklog = ws.PeakBacklog
	snap.Writer.ChunksWritten = ws.ChunksWritten
	snap.Writer.BytesWritten = ws.BytesWritten
	snap.Writer.Throttled = ws.Throttled
	snap.Writer.ThrottledMs = ws.ThrottledFor.Milliseconds()

	if lod != nil {
		snap.Lod.Threshold = lod.Threshold()
		snap.Lod.MaxRenderDistance = lod.MaxRenderDistance()
		snap.Lod.MaxChunks = lod.MaxLoadedChunks()
	}
	return snap
}
