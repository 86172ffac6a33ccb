package save

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const metaFile = "world.json"

// Meta is the per-world metadata stored next to the region directory.
type Meta struct {
	Version   int    `json:"version"`
	Name      string `json:"name"`
	Seed      int64  `json:"seed"`
	CreatedAt int64  `json:"created_at_ms"`
	LastPlay  int64  `json:"last_played_ms"`

	PlayerX     float64 `json:"player_x"`
	PlayerY     float64 `json:"player_y"`
	PlayerZ     float64 `json:"player_z"`
	PlayerYaw   float64 `json:"player_yaw"`
	PlayerPitch float64 `json:"player_pitch"`

	SpawnX float64 `json:"spawn_x"`
	SpawnY float64 `json:"spawn_y"`
	SpawnZ float64 `json:"spawn_z"`

	// GenPreset and GenLock pin the generation parameters for the lifetime
	// of the save. Changing them after chunks exist would create seams, so
	// loads verify the lock hash.
	GenPreset string `json:"gen_preset"`
	GenLock   string `json:"gen_lock"`
}

// NewMeta returns metadata for a fresh world.
func NewMeta(name string, seed int64, preset string) *Meta {
	now := time.Now().UnixMilli()
	return &Meta{
		Version:   1,
		Name:      name,
		Seed:      seed,
		CreatedAt: now,
		LastPlay:  now,
		PlayerY:   80,
		SpawnY:    80,
		GenPreset: preset,
		GenLock:   GenLockHash(preset, seed),
	}
}

// GenLockHash derives the lock checksum for a preset/seed pair.
func GenLockHash(preset string, seed int64) string {
	h := sha256.Sum256([]byte(preset + "\x00" + hex.EncodeToString(int64Bytes(seed))))
	return hex.EncodeToString(h[:8])
}

func int64Bytes(v int64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// LockValid reports whether the stored lock matches the stored preset/seed.
func (m *Meta) LockValid() bool {
	return m.GenLock == GenLockHash(m.GenPreset, m.Seed)
}

// Save writes world.json atomically (temp file + rename).
func (m *Meta) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	m.LastPlay = time.Now().UnixMilli()
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, metaFile+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, metaFile))
}

// LoadMeta reads world.json from dir.
func LoadMeta(dir string) (*Meta, error) {
	b, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// MetaExists reports whether dir holds a saved world.
func MetaExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, metaFile))
	return err == nil
}
