// Package tuning is the engine's configuration surface, loaded from a YAML
// file and overridable per-flag in the commands.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	// Streaming.
	KeepRadius       int `yaml:"keep_radius"`
	GenWorkers       int `yaml:"gen_workers"`
	GenTimeoutMs     int `yaml:"gen_timeout_ms"`
	CloseGenPerFrame int `yaml:"close_gen_per_frame"`
	FarGenPerFrame   int `yaml:"far_gen_per_frame"`

	// LOD.
	LodThreshold      int `yaml:"lod_threshold"`
	MaxRenderDistance int `yaml:"max_render_distance"`

	// Persistence writer.
	WriterMaxPending int `yaml:"writer_max_pending"`
	WriterHighWater  int `yaml:"writer_high_water"`
	WriterLowWater   int `yaml:"writer_low_water"`

	Logging Logging `yaml:"logging"`
}

type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // "json" or "console"
}

// Defaults returns the stock engine tuning.
func Defaults() Tuning {
	return Tuning{
		KeepRadius:        8,
		GenWorkers:        4,
		GenTimeoutMs:      30000,
		CloseGenPerFrame:  4,
		FarGenPerFrame:    6,
		LodThreshold:      12,
		MaxRenderDistance: 20,
		WriterMaxPending:  512,
		WriterHighWater:   500,
		WriterLowWater:    200,
		Logging:           Logging{Level: "info", Format: "console"},
	}
}

// Load reads a tuning file. Unset fields fall back to Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
