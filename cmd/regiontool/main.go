// regiontool inspects region files offline.
//
//	regiontool list -dir <world>/region               list saved chunks
//	regiontool verify -dir <world>/region             decode every blob
//	regiontool extract -world <world> -cx N -cz N     dump one chunk summary
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"voxelstream.dev/internal/encoding"
	"voxelstream.dev/internal/save"
	"voxelstream.dev/internal/world"
)

var regionName = regexp.MustCompile(`^r\.(-?\d+)\.(-?\d+)\.dat$`)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		dir := fs.String("dir", "", "region directory")
		_ = fs.Parse(args)
		requireDir(*dir)
		eachRegion(*dir, func(rf *save.RegionFile, rx, rz int) {
			occupied, liveBytes := rf.Slots()
			fmt.Printf("%s: %d chunks, %d live bytes\n", filepath.Base(rf.Path()), occupied, liveBytes)
			rf.EachSlot(func(lx, lz int, length uint32) {
				fmt.Printf("  chunk (%d,%d) %d bytes\n", rx*save.RegionSize+lx, rz*save.RegionSize+lz, length)
			})
		})

	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		dir := fs.String("dir", "", "region directory")
		_ = fs.Parse(args)
		requireDir(*dir)
		total, bad := 0, 0
		eachRegion(*dir, func(rf *save.RegionFile, rx, rz int) {
			rf.EachSlot(func(lx, lz int, length uint32) {
				cx, cz := rx*save.RegionSize+lx, rz*save.RegionSize+lz
				total++
				blob, err := rf.Read(cx, cz)
				if err == nil {
					_, err = encoding.DecodeChunk(blob)
				}
				if err != nil {
					bad++
					fmt.Printf("CORRUPT chunk (%d,%d) in %s: %v\n", cx, cz, filepath.Base(rf.Path()), err)
				}
			})
		})
		fmt.Printf("verified %d chunks, %d corrupt\n", total, bad)
		if bad > 0 {
			os.Exit(1)
		}

	case "extract":
		fs := flag.NewFlagSet("extract", flag.ExitOnError)
		worldDir := fs.String("world", "", "world directory")
		cx := fs.Int("cx", 0, "chunk x")
		cz := fs.Int("cz", 0, "chunk z")
		_ = fs.Parse(args)
		requireDir(*worldDir)
		store, err := save.NewStore(*worldDir, zap.NewNop())
		if err != nil {
			fatal("open store: %v", err)
		}
		defer store.Close()
		c, err := store.LoadChunk(*cx, *cz)
		if err != nil {
			fatal("load chunk (%d,%d): %v", *cx, *cz, err)
		}
		printChunk(c)

	default:
		usage()
	}
}

func printChunk(c *world.Chunk) {
	nonAir := 0
	counts := map[uint16]int{}
	for _, b := range c.Blocks {
		if b != world.Air {
			nonAir++
			counts[b]++
		}
	}
	fmt.Printf("chunk (%d,%d): %d/%d non-air blocks\n", c.Pos.X, c.Pos.Z, nonAir, world.ChunkVolume)
	fmt.Printf("  height at center: %d\n", c.HeightAt(world.ChunkSize/2, world.ChunkSize/2))
	for id, n := range counts {
		fmt.Printf("  block %d: %d\n", id, n)
	}
}

// eachRegion opens every region file in dir in name order.
func eachRegion(dir string, f func(rf *save.RegionFile, rx, rz int)) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fatal("read %s: %v", dir, err)
	}
	for _, e := range entries {
		m := regionName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		rx, _ := strconv.Atoi(m[1])
		rz, _ := strconv.Atoi(m[2])
		rf, err := save.OpenRegion(dir, rx, rz)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open %s: %v\n", e.Name(), err)
			continue
		}
		f(rf, rx, rz)
		_ = rf.Close()
	}
}

func requireDir(dir string) {
	if dir == "" {
		usage()
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: regiontool {list|verify} -dir <region dir>")
	fmt.Fprintln(os.Stderr, "       regiontool extract -world <world dir> -cx N -cz N")
	os.Exit(2)
}
