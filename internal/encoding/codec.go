// Package encoding serializes chunk content to the compact blob stored in
// region files: a run-length encoded block array wrapped in a zstd frame.
package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"voxelstream.dev/internal/world"
)

const codecVersion = 1

// Shared one-shot coders; both are safe for concurrent use.
var (
	zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDec, _ = zstd.NewReader(nil)
)

// EncodeChunk serializes a chunk's content. The frame is
//
//	version byte | varint cx | varint cz | (uvarint block, uvarint run)*
//
// compressed as a single zstd blob.
func EncodeChunk(c *world.Chunk) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	buf.WriteByte(codecVersion)
	n := binary.PutVarint(tmp[:], int64(c.Pos.X))
	buf.Write(tmp[:n])
	n = binary.PutVarint(tmp[:], int64(c.Pos.Z))
	buf.Write(tmp[:n])

	ids := c.Blocks
	for i := 0; i < len(ids); {
		b := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == b; j++ {
			run++
		}

		n = binary.PutUvarint(tmp[:], uint64(b))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return zstdEnc.EncodeAll(buf.Bytes(), nil)
}

// DecodeChunk reverses EncodeChunk. The result carries loaded provenance
// and clean flags.
func DecodeChunk(data []byte) (*world.Chunk, error) {
	raw, err := zstdDec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("chunk blob: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("chunk blob: empty frame")
	}
	if raw[0] != codecVersion {
		return nil, fmt.Errorf("chunk blob: unknown version %d", raw[0])
	}
	i := 1

	cx, n := binary.Varint(raw[i:])
	if n <= 0 {
		return nil, fmt.Errorf("chunk blob: bad cx varint")
	}
	i += n
	cz, n := binary.Varint(raw[i:])
	if n <= 0 {
		return nil, fmt.Errorf("chunk blob: bad cz varint")
	}
	i += n

	c := world.NewChunk(world.ChunkPos{X: int(cx), Z: int(cz)})
	out := 0
	for i < len(raw) {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("chunk blob: bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("chunk blob: bad varint at %d", i)
		}
		i += n
		if b > 0xFFFF {
			return nil, fmt.Errorf("chunk blob: block id too large: %d", b)
		}
		if out+int(run) > world.ChunkVolume {
			return nil, fmt.Errorf("chunk blob: run overflows volume at %d", out)
		}
		for k := 0; k < int(run); k++ {
			c.Blocks[out] = uint16(b)
			out++
		}
	}
	if out != world.ChunkVolume {
		return nil, fmt.Errorf("chunk blob: short content: %d of %d blocks", out, world.ChunkVolume)
	}
	return c, nil
}
