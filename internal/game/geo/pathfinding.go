package geo

import "container/heap"

// maxPathIterations bounds A* expansion to keep a single query cheap even on
// degenerate maps. A 4-connected grid query on session-sized maps stays far
// below this.
const maxPathIterations = 10000

// FindPath runs A* from start to goal over the 4-connected grid with uniform
// step cost. A tile is traversable when it is walkable and blocked(p) is
// false; blocked carries unit occupancy so the caller can exempt the moving
// unit itself. The start tile is never tested.
//
// Returns the inclusive path [start, ..., goal], or nil when unreachable.
// Expansion order is fully deterministic: ties on f prefer lower g, then
// lexicographic (x, y).
func FindPath(start, goal Position, m *Map, blocked func(Position) bool) []Position {
	if !m.InBounds(start) || !m.InBounds(goal) {
		return nil
	}
	if start == goal {
		return []Position{start}
	}
	if !m.Walkable(goal) || (blocked != nil && blocked(goal)) {
		return nil
	}

	startNode := &pathNode{pos: start, h: Manhattan(start, goal)}
	open := &nodeHeap{}
	heap.Init(open)
	heap.Push(open, startNode)

	best := map[Position]int{start: 0}
	closed := map[Position]struct{}{}

	for i := 0; i < maxPathIterations; i++ {
		if open.Len() == 0 {
			return nil
		}
		current := heap.Pop(open).(*pathNode)

		if current.pos == goal {
			return buildPath(current)
		}
		if _, done := closed[current.pos]; done {
			continue
		}
		closed[current.pos] = struct{}{}

		for _, step := range neighborSteps {
			next := Position{X: current.pos.X + step.X, Y: current.pos.Y + step.Y}
			if !m.Walkable(next) {
				continue
			}
			if blocked != nil && blocked(next) {
				continue
			}
			g := current.g + 1
			if prev, seen := best[next]; seen && prev <= g {
				continue
			}
			best[next] = g
			heap.Push(open, &pathNode{
				pos:    next,
				parent: current,
				g:      g,
				h:      Manhattan(next, goal),
			})
		}
	}
	return nil
}

// neighborSteps is ordered; combined with the heap tie-break it makes
// expansion deterministic.
var neighborSteps = []Position{
	{X: 0, Y: -1},
	{X: -1, Y: 0},
	{X: 1, Y: 0},
	{X: 0, Y: 1},
}

func buildPath(n *pathNode) []Position {
	length := 0
	for c := n; c != nil; c = c.parent {
		length++
	}
	path := make([]Position, length)
	for c := n; c != nil; c = c.parent {
		length--
		path[length] = c.pos
	}
	return path
}

type pathNode struct {
	pos    Position
	parent *pathNode
	g      int
	h      int
	index  int
}

func (n *pathNode) f() int { return n.g + n.h }

type nodeHeap []*pathNode

func (h nodeHeap) Len() int { return len(h) }

func (h nodeHeap) Less(i, j int) bool {
	if h[i].f() != h[j].f() {
		return h[i].f() < h[j].f()
	}
	if h[i].g != h[j].g {
		return h[i].g < h[j].g
	}
	if h[i].pos.X != h[j].pos.X {
		return h[i].pos.X < h[j].pos.X
	}
	return h[i].pos.Y < h[j].pos.Y
}

func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *nodeHeap) Push(x any) {
	n := x.(*pathNode)
	n.index = len(*h)
	*h = append(*h, n)
}

func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return n
}
