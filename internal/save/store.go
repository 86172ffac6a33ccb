package save

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"voxelstream.dev/internal/encoding"
	"voxelstream.dev/internal/world"
)

type regionKey struct{ RX, RZ int }

// Store is the synchronous persistence façade for one world directory:
//
//	<dir>/world.json       (metadata)
//	<dir>/region/r.X.Z.dat (region files)
//
// The Store is the single writing authority for its region files; the async
// Writer performs its disk writes through the same Store, so there is one
// region cache and one lock.
type Store struct {
	dir       string
	regionDir string
	log       *zap.Logger

	mu      sync.Mutex
	regions map[regionKey]*RegionFile
}

// NewStore opens a store rooted at the world directory.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	regionDir := filepath.Join(dir, "region")
	if err := os.MkdirAll(regionDir, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		dir:       dir,
		regionDir: regionDir,
		log:       logger,
		regions:   map[regionKey]*RegionFile{},
	}, nil
}

// Dir returns the world directory.
func (s *Store) Dir() string { return s.dir }

// region returns the cached region file owning (cx, cz), opening it on
// first use. Called with s.mu held.
func (s *Store) region(cx, cz int) (*RegionFile, error) {
	k := regionKey{RX: ToRegion(cx), RZ: ToRegion(cz)}
	if r, ok := s.regions[k]; ok {
		return r, nil
	}
	r, err := OpenRegion(s.regionDir, k.RX, k.RZ)
	if err != nil {
		return nil, err
	}
	s.regions[k] = r
	return r, nil
}

// WriteBlob stores a pre-encoded chunk blob. This is the path the async
// writer drains through.
func (s *Store) WriteBlob(pos world.ChunkPos, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.region(pos.X, pos.Z)
	if err != nil {
		return err
	}
	return r.Write(pos.X, pos.Z, data)
}

// SaveChunk encodes and writes a chunk, clearing its modified flag on
// success.
func (s *Store) SaveChunk(c *world.Chunk) error {
	if err := s.WriteBlob(c.Pos, encoding.EncodeChunk(c)); err != nil {
		return err
	}
	c.ClearModified()
	return nil
}

// LoadChunk reads and decodes the chunk at (cx, cz). Returns ErrNotFound
// when nothing is saved there.
func (s *Store) LoadChunk(cx, cz int) (*world.Chunk, error) {
	s.mu.Lock()
	r, err := s.region(cx, cz)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	blob, err := r.Read(cx, cz)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c, err := encoding.DecodeChunk(blob)
	if err != nil {
		return nil, fmt.Errorf("chunk (%d,%d): %w", cx, cz, err)
	}
	if c.Pos.X != cx || c.Pos.Z != cz {
		return nil, fmt.Errorf("chunk (%d,%d): blob claims %v", cx, cz, c.Pos)
	}
	return c, nil
}

// HasChunk reports whether (cx, cz) is present on disk. IO errors read as
// absent.
func (s *Store) HasChunk(cx, cz int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.region(cx, cz)
	if err != nil {
		return false
	}
	return r.Has(cx, cz)
}

// SaveModified writes every modified resident chunk. Write failures are
// logged and skipped; the count of successful saves is returned.
func (s *Store) SaveModified(m *world.ChunkMap) int {
	return s.saveWhere(m, func(c *world.Chunk) bool { return c.Modified() })
}

// SaveAll writes every resident chunk (shutdown/world-save path).
func (s *Store) SaveAll(m *world.ChunkMap) int {
	return s.saveWhere(m, func(c *world.Chunk) bool { return true })
}

func (s *Store) saveWhere(m *world.ChunkMap, keep func(*world.Chunk) bool) int {
	var batch []*world.Chunk
	m.Each(func(c *world.Chunk) {
		if keep(c) {
			batch = append(batch, c)
		}
	})
	saved := 0
	for _, c := range batch {
		if err := s.SaveChunk(c); err != nil {
			s.log.Warn("save chunk failed",
				zap.Int("cx", c.Pos.X), zap.Int("cz", c.Pos.Z), zap.Error(err))
			continue
		}
		saved++
	}
	return saved
}

// Close closes every cached region file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, r := range s.regions {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.regions, k)
	}
	return firstErr
}

// IsNotFound reports whether err means "no saved chunk" rather than an IO
// failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
