package encoding

import (
	"testing"

	"voxelstream.dev/internal/world"
)

func testChunk(pos world.ChunkPos) *world.Chunk {
	c := world.NewChunk(pos)
	// Layered terrain with a few point edits; exercises long and short runs.
	for z := 0; z < world.ChunkSize; z++ {
		for x := 0; x < world.ChunkSize; x++ {
			for y := 0; y < 60; y++ {
				c.Set(x, y, z, 1) // stone
			}
			for y := 60; y < 64; y++ {
				c.Set(x, y, z, 2) // dirt
			}
			c.Set(x, 64, z, 3) // grass
		}
	}
	c.Set(5, 65, 5, 9)
	c.Set(0, 127, 15, 4)
	return c
}

func TestChunkRoundTrip(t *testing.T) {
	in := testChunk(world.ChunkPos{X: -3, Z: 17})
	blob := EncodeChunk(in)

	out, err := DecodeChunk(blob)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if out.Pos != in.Pos {
		t.Fatalf("pos = %v, want %v", out.Pos, in.Pos)
	}
	for i := range in.Blocks {
		if out.Blocks[i] != in.Blocks[i] {
			t.Fatalf("block mismatch at %d: got %d want %d", i, out.Blocks[i], in.Blocks[i])
		}
	}
	if out.Dirty() || out.Modified() {
		t.Fatalf("decoded chunk should be clean")
	}
	if out.Generated() {
		t.Fatalf("decoded chunk should carry loaded provenance")
	}
}

func TestChunkRoundTrip_AllAir(t *testing.T) {
	in := world.NewChunk(world.ChunkPos{X: 0, Z: 0})
	blob := EncodeChunk(in)
	if len(blob) > 256 {
		t.Fatalf("all-air blob unexpectedly large: %d bytes", len(blob))
	}
	out, err := DecodeChunk(blob)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	for i := range out.Blocks {
		if out.Blocks[i] != world.Air {
			t.Fatalf("block %d = %d, want air", i, out.Blocks[i])
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeChunk([]byte("not a zstd frame")); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}

func TestDecodeRejectsShortContent(t *testing.T) {
	in := testChunk(world.ChunkPos{X: 0, Z: 0})
	blob := EncodeChunk(in)
	raw, err := zstdDec.DecodeAll(blob, nil)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	// Drop the tail of the frame: the decoder must notice the chunk is short.
	truncated := zstdEnc.EncodeAll(raw[:len(raw)/2], nil)
	if _, err := DecodeChunk(truncated); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
}
