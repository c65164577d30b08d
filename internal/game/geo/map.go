// Package geo holds the grid map model and the spatial queries the combat
// simulation runs against it: A* pathfinding and Bresenham line-of-sight.
package geo

// Position is an integer grid coordinate. (0,0) is the top-left tile.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Adjacent reports whether b is exactly one orthogonal step from a.
func (a Position) Adjacent(b Position) bool {
	return Manhattan(a, b) == 1
}

// Manhattan returns the L1 distance between two positions.
func Manhattan(a, b Position) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// TileKind identifies the terrain of a tile.
type TileKind string

const (
	TileFloor TileKind = "floor"
	TileWall  TileKind = "wall"
	TileDoor  TileKind = "door"
	TileWater TileKind = "water"
)

// Tile is one cell of the map. Walkable and BlocksSight are stored rather
// than derived so serialized maps remain self-describing.
type Tile struct {
	Kind        TileKind `json:"kind"`
	Walkable    bool     `json:"walkable"`
	BlocksSight bool     `json:"blocksSight"`
}

// NewTile returns a tile of the given kind with its standard traversal flags.
func NewTile(kind TileKind) Tile {
	switch kind {
	case TileWall:
		return Tile{Kind: kind, Walkable: false, BlocksSight: true}
	default:
		return Tile{Kind: kind, Walkable: true, BlocksSight: false}
	}
}

// Map is an immutable tile grid. Tiles is indexed [y][x].
type Map struct {
	ID     string   `json:"id"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Tiles  [][]Tile `json:"tiles"`
}

// InBounds reports whether p lies inside the map.
func (m *Map) InBounds(p Position) bool {
	return p.X >= 0 && p.X < m.Width && p.Y >= 0 && p.Y < m.Height
}

// At returns the tile at p. Caller must ensure p is in bounds.
func (m *Map) At(p Position) Tile {
	return m.Tiles[p.Y][p.X]
}

// Walkable reports whether p is in bounds and on a walkable tile.
func (m *Map) Walkable(p Position) bool {
	return m.InBounds(p) && m.At(p).Walkable
}
