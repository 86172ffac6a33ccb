// Package save owns on-disk world persistence: the region file format, a
// synchronous store façade, an asynchronous coalescing writer, and world
// metadata.
package save

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"voxelstream.dev/internal/world"
)

// ErrNotFound is returned when a chunk has no saved content.
var ErrNotFound = errors.New("chunk not saved")

const (
	// RegionSize is the side of the square of chunks one region file holds.
	RegionSize = 32

	headerSlots = RegionSize * RegionSize
	slotBytes   = 8 // uint32 offset + uint32 length, big-endian
	headerBytes = headerSlots * slotBytes
)

// ToRegion maps a chunk coordinate to its region coordinate.
func ToRegion(c int) int { return world.FloorDiv(c, RegionSize) }

// RegionFile is one on-disk region: a fixed 1024-slot header of
// (offset, length) pairs followed by appended chunk blobs. A rewrite of a
// chunk appends a fresh blob and repoints the slot; old bytes stay as
// unreclaimed space. Not safe for concurrent use; the Store serializes
// access.
type RegionFile struct {
	path string
	f    *os.File

	offsets [headerSlots]uint32
	lengths [headerSlots]uint32
}

// OpenRegion opens (creating if needed) the region file for (rx, rz) under
// dir and loads its header.
func OpenRegion(dir string, rx, rz int) (*RegionFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("r.%d.%d.dat", rx, rz))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	r := &RegionFile{path: path, f: f}
	if err := r.loadHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func (r *RegionFile) loadHeader() error {
	st, err := r.f.Stat()
	if err != nil {
		return err
	}
	if st.Size() == 0 {
		// Fresh file: reserve the zeroed header.
		zero := make([]byte, headerBytes)
		_, err := r.f.WriteAt(zero, 0)
		return err
	}
	if st.Size() < headerBytes {
		return fmt.Errorf("region %s: truncated header (%d bytes)", r.path, st.Size())
	}
	buf := make([]byte, headerBytes)
	if _, err := io.ReadFull(io.NewSectionReader(r.f, 0, headerBytes), buf); err != nil {
		return err
	}
	for i := 0; i < headerSlots; i++ {
		r.offsets[i] = binary.BigEndian.Uint32(buf[i*slotBytes:])
		r.lengths[i] = binary.BigEndian.Uint32(buf[i*slotBytes+4:])
	}
	return nil
}

func slotIndex(cx, cz int) int {
	return world.Mod(cx, RegionSize) + world.Mod(cz, RegionSize)*RegionSize
}

// Has reports whether the slot for (cx, cz) holds a chunk.
func (r *RegionFile) Has(cx, cz int) bool {
	i := slotIndex(cx, cz)
	return r.lengths[i] != 0
}

// Read returns the stored blob for (cx, cz), or ErrNotFound.
func (r *RegionFile) Read(cx, cz int) ([]byte, error) {
	i := slotIndex(cx, cz)
	if r.lengths[i] == 0 {
		return nil, ErrNotFound
	}
	buf := make([]byte, r.lengths[i])
	if _, err := r.f.ReadAt(buf, int64(r.offsets[i])); err != nil {
		return nil, fmt.Errorf("region %s slot %d: %w", r.path, i, err)
	}
	return buf, nil
}

// Write appends data at end-of-file and repoints the slot for (cx, cz).
func (r *RegionFile) Write(cx, cz int, data []byte) error {
	end, err := r.f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if end < headerBytes {
		end = headerBytes
	}
	if _, err := r.f.WriteAt(data, end); err != nil {
		return fmt.Errorf("region %s: append: %w", r.path, err)
	}

	i := slotIndex(cx, cz)
	r.offsets[i] = uint32(end)
	r.lengths[i] = uint32(len(data))

	var slot [slotBytes]byte
	binary.BigEndian.PutUint32(slot[0:], r.offsets[i])
	binary.BigEndian.PutUint32(slot[4:], r.lengths[i])
	if _, err := r.f.WriteAt(slot[:], int64(i*slotBytes)); err != nil {
		return fmt.Errorf("region %s: header slot %d: %w", r.path, i, err)
	}
	return nil
}

// Slots returns the number of occupied slots and total payload bytes
// referenced by the header (not counting dead appended blobs).
func (r *RegionFile) Slots() (occupied int, liveBytes int64) {
	for i := 0; i < headerSlots; i++ {
		if r.lengths[i] != 0 {
			occupied++
			liveBytes += int64(r.lengths[i])
		}
	}
	return occupied, liveBytes
}

// EachSlot calls f for every occupied slot with region-local chunk
// coordinates (0..RegionSize-1) and the stored blob length.
func (r *RegionFile) EachSlot(f func(lx, lz int, length uint32)) {
	for i := 0; i < headerSlots; i++ {
		if r.lengths[i] == 0 {
			continue
		}
		f(i%RegionSize, i/RegionSize, r.lengths[i])
	}
}

func (r *RegionFile) Path() string { return r.path }

func (r *RegionFile) Close() error { return r.f.Close() }
