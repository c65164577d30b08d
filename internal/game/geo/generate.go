package geo

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/udisondev/warband/internal/rng"
)

// GenOptions parameterizes map generation. Identical options always produce
// an identical map.
type GenOptions struct {
	Seed        uint64
	Width       int
	Height      int
	WallDensity float64 // probability an interior tile becomes wall, [0,1]
	Spawn       Position
}

// DefaultGenOptions returns generation parameters for a standard encounter
// map. Spawn defaults to the map center.
func DefaultGenOptions(seed uint64, width, height int) GenOptions {
	return GenOptions{
		Seed:        seed,
		Width:       width,
		Height:      height,
		WallDensity: 0.15,
		Spawn:       Position{X: width / 2, Y: height / 2},
	}
}

// Generate builds a map from options. Pure: the PRNG is seeded from
// opts.Seed, tiles are drawn in row-major order, and the result carries an ID
// hashed from the inputs for debugging.
//
// Connectivity between arbitrary tiles is not guaranteed; pathfinding reports
// "no path" for walled-off regions.
func Generate(opts GenOptions) *Map {
	m := &Map{
		ID:     genID(opts),
		Width:  opts.Width,
		Height: opts.Height,
		Tiles:  make([][]Tile, opts.Height),
	}

	r := rng.New(opts.Seed)

	for y := 0; y < opts.Height; y++ {
		m.Tiles[y] = make([]Tile, opts.Width)
		for x := 0; x < opts.Width; x++ {
			if x == 0 || y == 0 || x == opts.Width-1 || y == opts.Height-1 {
				m.Tiles[y][x] = NewTile(TileWall)
				continue
			}
			// One draw per interior tile, row-major, so layouts are
			// reproducible across runs.
			roll := float64(r.NextU32()) / float64(math.MaxUint32)
			if roll < opts.WallDensity {
				m.Tiles[y][x] = NewTile(TileWall)
			} else {
				m.Tiles[y][x] = NewTile(TileFloor)
			}
		}
	}

	// Keep the 3x3 start region around the spawn clear.
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			p := Position{X: opts.Spawn.X + dx, Y: opts.Spawn.Y + dy}
			if p.X > 0 && p.X < opts.Width-1 && p.Y > 0 && p.Y < opts.Height-1 {
				m.Tiles[p.Y][p.X] = NewTile(TileFloor)
			}
		}
	}

	return m
}

func genID(opts GenOptions) string {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], opts.Seed)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(opts.Width))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(opts.Height))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(opts.WallDensity))
	h.Write(buf[:])
	return fmt.Sprintf("map-%016x", h.Sum64())
}
