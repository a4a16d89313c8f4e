// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest neighbour search under cosine distance.
//
// Nodes are stored in a dense arena and addressed by their uint32 id, which
// must be assigned sequentially from zero. Links are adjacency lists of ids,
// one list per layer the node lives on. The graph performs no locking of its
// own: concurrent Search calls are safe, but Insert must be serialised against
// every other call by the owner.
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/hyperjump/apex/internal/distance"
)

type node struct {
	vector  []float32
	norm    float64
	level   int
	friends [][]uint32
}

// Result is a single search hit.
type Result struct {
	ID       uint32
	Distance float64
}

// Graph is a multi-layer proximity graph.
type Graph struct {
	dim            int
	m              int
	maxM           int
	maxM0          int
	efConstruction int
	efSearch       int
	maxLevelCap    int
	keepPruned     bool
	ml             float64
	rng            RandSource

	nodes      []*node
	entryPoint uint32
	maxLevel   int

	visitedPool sync.Pool
}

// New creates an empty graph for vectors of dimension dim.
func New(dim int, opts ...Option) (*Graph, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hnsw: dimension must be positive, got %d", dim)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.m < 2 {
		return nil, fmt.Errorf("hnsw: M must be at least 2, got %d", o.m)
	}
	if o.rng == nil {
		o.rng = newTimeSeededRand()
	}

	g := &Graph{
		dim:            dim,
		m:              o.m,
		maxM:           o.m,
		maxM0:          o.m * 2,
		efConstruction: o.efConstruction,
		efSearch:       o.efSearch,
		maxLevelCap:    o.maxLevel,
		keepPruned:     o.keepPruned,
		ml:             1 / math.Log(float64(o.m)),
		rng:            o.rng,
		maxLevel:       -1,
	}
	g.visitedPool.New = func() any { return bitset.New(1024) }
	return g, nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// Dimensions returns the vector dimension the graph was created for.
func (g *Graph) Dimensions() int { return g.dim }

// EfSearch returns the default query beam width.
func (g *Graph) EfSearch() int { return g.efSearch }

// Level returns the top layer of node id, or -1 if the id is unknown.
func (g *Graph) Level(id uint32) int {
	if int(id) >= len(g.nodes) {
		return -1
	}
	return g.nodes[id].level
}

// Neighbors returns a copy of the adjacency list of id at level. It returns nil
// when the node does not exist or does not reach that level.
func (g *Graph) Neighbors(id uint32, level int) []uint32 {
	if int(id) >= len(g.nodes) || level < 0 {
		return nil
	}
	n := g.nodes[id]
	if level > n.level {
		return nil
	}
	out := make([]uint32, len(n.friends[level]))
	copy(out, n.friends[level])
	return out
}

// Insert adds vec under id. The id must equal Len(). The vector is copied.
func (g *Graph) Insert(vec []float32, id uint32) error {
	if len(vec) != g.dim {
		return &ErrDimensionMismatch{Expected: g.dim, Actual: len(vec)}
	}
	if int(id) != len(g.nodes) {
		return fmt.Errorf("%w: got %d, want %d", ErrIDOutOfSequence, id, len(g.nodes))
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	level := g.randomLevel()
	n := &node{
		vector:  stored,
		norm:    distance.Norm(stored),
		level:   level,
		friends: make([][]uint32, level+1),
	}
	g.nodes = append(g.nodes, n)

	if g.maxLevel < 0 {
		g.entryPoint = id
		g.maxLevel = level
		return nil
	}

	ep := candidate{id: g.entryPoint, dist: g.distanceTo(stored, n.norm, g.entryPoint)}
	for l := g.maxLevel; l > level; l-- {
		ep = g.greedyClosest(stored, n.norm, ep, l)
	}

	for l := min(level, g.maxLevel); l >= 0; l-- {
		found := g.searchLayer(stored, n.norm, ep, g.efConstruction, l)
		selected := g.selectNeighbors(found, g.m)

		friends := make([]uint32, len(selected))
		for i, c := range selected {
			friends[i] = c.id
		}
		n.friends[l] = friends

		for _, c := range selected {
			g.link(c.id, id, l, c.dist)
		}
		ep = found[0]
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entryPoint = id
	}
	return nil
}

// Search returns up to topK nearest nodes to query ordered by ascending
// distance, ties broken by ascending id. ef <= 0 uses the graph default; the
// beam is never narrower than topK. An empty graph yields no results.
func (g *Graph) Search(query []float32, topK, ef int) ([]Result, error) {
	if len(query) != g.dim {
		return nil, &ErrDimensionMismatch{Expected: g.dim, Actual: len(query)}
	}
	if topK <= 0 || len(g.nodes) == 0 {
		return nil, nil
	}
	if ef <= 0 {
		ef = g.efSearch
	}
	ef = max(ef, topK)

	qNorm := distance.Norm(query)
	ep := candidate{id: g.entryPoint, dist: g.distanceTo(query, qNorm, g.entryPoint)}
	for l := g.maxLevel; l > 0; l-- {
		ep = g.greedyClosest(query, qNorm, ep, l)
	}

	found := g.searchLayer(query, qNorm, ep, ef, 0)
	if len(found) > topK {
		found = found[:topK]
	}
	results := make([]Result, len(found))
	for i, c := range found {
		results[i] = Result{ID: c.id, Distance: c.dist}
	}
	return results, nil
}

func (g *Graph) randomLevel() int {
	// Float64 is in [0,1); flip it so the logarithm never sees zero.
	u := 1 - g.rng.Float64()
	level := int(math.Floor(-math.Log(u) * g.ml))
	if level > g.maxLevelCap {
		level = g.maxLevelCap
	}
	return level
}

func (g *Graph) maxNeighbors(level int) int {
	if level == 0 {
		return g.maxM0
	}
	return g.maxM
}

func (g *Graph) distanceTo(q []float32, qNorm float64, id uint32) float64 {
	n := g.nodes[id]
	return distance.CosineDistanceNorms(q, n.vector, qNorm, n.norm)
}

func (g *Graph) distanceBetween(a, b uint32) float64 {
	na, nb := g.nodes[a], g.nodes[b]
	return distance.CosineDistanceNorms(na.vector, nb.vector, na.norm, nb.norm)
}

// greedyClosest walks level from ep, moving to any strictly closer neighbour
// until none remains.
func (g *Graph) greedyClosest(q []float32, qNorm float64, ep candidate, level int) candidate {
	cur := ep
	for changed := true; changed; {
		changed = false
		for _, nid := range g.nodes[cur.id].friends[level] {
			if d := g.distanceTo(q, qNorm, nid); d < cur.dist {
				cur = candidate{id: nid, dist: d}
				changed = true
			}
		}
	}
	return cur
}

// searchLayer runs a beam search of width ef on one layer and returns the
// candidates found, sorted by ascending distance.
func (g *Graph) searchLayer(q []float32, qNorm float64, ep candidate, ef, level int) []candidate {
	visited := g.visitedPool.Get().(*bitset.BitSet)
	visited.ClearAll()
	defer g.visitedPool.Put(visited)

	visited.Set(uint(ep.id))
	candidates := &minHeap{ep}
	results := &maxHeap{ep}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if results.Len() >= ef && c.dist > results.peek().dist {
			break
		}
		for _, nid := range g.nodes[c.id].friends[level] {
			if visited.Test(uint(nid)) {
				continue
			}
			visited.Set(uint(nid))

			d := g.distanceTo(q, qNorm, nid)
			if results.Len() < ef || d < results.peek().dist {
				next := candidate{id: nid, dist: d}
				heap.Push(candidates, next)
				heap.Push(results, next)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// link adds newID to the adjacency list of id at level, re-pruning the list
// with the diversity heuristic if it grows past the layer's capacity.
func (g *Graph) link(id, newID uint32, level int, dist float64) {
	n := g.nodes[id]
	friends := append(n.friends[level], newID)

	limit := g.maxNeighbors(level)
	if len(friends) <= limit {
		n.friends[level] = friends
		return
	}

	cands := make([]candidate, len(friends))
	for i, f := range friends {
		if f == newID {
			cands[i] = candidate{id: f, dist: dist}
			continue
		}
		cands[i] = candidate{id: f, dist: g.distanceBetween(id, f)}
	}
	sortCandidates(cands)

	kept := g.selectNeighbors(cands, limit)
	pruned := make([]uint32, len(kept))
	for i, c := range kept {
		pruned[i] = c.id
	}
	n.friends[level] = pruned
}
