package vector

import (
	"math"
	"math/rand"
	"sort"
)

// hnswNode is one inserted vector plus its per-layer neighbor lists.
type hnswNode struct {
	id        int64
	vec       []float64
	level     int
	neighbors [][]int64 // neighbors[layer] = neighbor ids at that layer
}

// hnswIndex is a multi-layer proximity graph approximating k-NN search in
// sub-linear time, per spec §4.12's HNSW algorithm: exponential-decay level
// assignment, greedy descent through upper layers to find an entry point,
// and a bounded best-first search at layer 0.
//
// Grounded on vector_search.go's distance metrics (computeDistance); the
// graph construction and search algorithm itself follows the standard
// HNSW paper's structure, which the spec names explicitly since the
// teacher repo only implements a flat scan.
type hnswIndex struct {
	cfg      Config
	nodes    map[int64]*hnswNode
	entry    int64
	hasEntry bool
	maxLevel int
	levelMul float64
	rng      *rand.Rand
}

func newHNSW(cfg Config) *hnswIndex {
	m := cfg.M
	if m < 2 {
		m = 2
	}
	return &hnswIndex{
		cfg:      cfg,
		nodes:    make(map[int64]*hnswNode),
		levelMul: 1.0 / math.Log(float64(m)),
		rng:      rand.New(rand.NewSource(1)),
	}
}

func (h *hnswIndex) Dim() int { return h.cfg.Dim }
func (h *hnswIndex) Len() int { return len(h.nodes) }

// randomLevel draws a layer assignment from an exponential decay over
// ln(1/U), U uniform on (0,1), scaled by levelMul (1/ln(M)).
func (h *hnswIndex) randomLevel() int {
	u := h.rng.Float64()
	if u <= 0 {
		u = 1e-12
	}
	level := int(math.Floor(-math.Log(u) * h.levelMul))
	if level < 0 {
		level = 0
	}
	return level
}

func (h *hnswIndex) dist(a, b []float64) float64 { return distance(a, b, h.cfg.Metric) }

// searchLayer runs a best-first search at a single layer starting from
// entryPoints, expanding up to ef candidates, and returns the closest
// `ef` nodes found, sorted by ascending distance.
func (h *hnswIndex) searchLayer(query []float64, entryPoints []int64, ef int, layer int) []Match {
	visited := make(map[int64]bool)
	var candidates []Match // min-heap-ish via sort, kept small
	var results []Match

	for _, id := range entryPoints {
		if visited[id] {
			continue
		}
		visited[id] = true
		n := h.nodes[id]
		d := h.dist(n.vec, query)
		candidates = append(candidates, Match{ID: id, Distance: d})
		results = append(results, Match{ID: id, Distance: d})
	}

	for len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })
		cur := candidates[0]
		candidates = candidates[1:]

		sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
		if len(results) >= ef && cur.Distance > results[ef-1].Distance {
			break
		}

		node := h.nodes[cur.ID]
		if layer >= len(node.neighbors) {
			continue
		}
		for _, nb := range node.neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nbNode := h.nodes[nb]
			d := h.dist(nbNode.vec, query)
			candidates = append(candidates, Match{ID: nb, Distance: d})
			results = append(results, Match{ID: nb, Distance: d})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > ef {
		results = results[:ef]
	}
	return results
}

func (h *hnswIndex) Add(id int64, vec []float64) error {
	vec = append([]float64(nil), vec...)
	level := h.randomLevel()
	node := &hnswNode{id: id, vec: vec, level: level, neighbors: make([][]int64, level+1)}

	if !h.hasEntry {
		h.nodes[id] = node
		h.entry = id
		h.hasEntry = true
		h.maxLevel = level
		return nil
	}

	entry := h.entry
	// Descend greedily from the top layer to level+1, tracking the single
	// nearest node at each layer as the entry point for the layer below.
	for layer := h.maxLevel; layer > level; layer-- {
		best := h.searchLayer(vec, []int64{entry}, 1, layer)
		if len(best) > 0 {
			entry = best[0].ID
		}
	}

	// From min(level, maxLevel) down to 0, find ef_construction candidates
	// and connect to the M closest, bidirectionally.
	// Register the node before linking it so appendPruned can look up its
	// vector when a neighbor's list overflows and is re-sorted.
	h.nodes[id] = node
	entryPoints := []int64{entry}
	for layer := min(level, h.maxLevel); layer >= 0; layer-- {
		candidates := h.searchLayer(vec, entryPoints, h.cfg.EfConstruction, layer)
		m := h.cfg.M
		if len(candidates) > m {
			candidates = candidates[:m]
		}
		neighborIDs := make([]int64, len(candidates))
		for i, c := range candidates {
			neighborIDs[i] = c.ID
		}
		node.neighbors[layer] = neighborIDs

		for _, nid := range neighborIDs {
			nb := h.nodes[nid]
			for layer >= len(nb.neighbors) {
				nb.neighbors = append(nb.neighbors, nil)
			}
			nb.neighbors[layer] = appendPruned(nb.neighbors[layer], id, h.cfg.M, nb.vec, h.nodes, h.cfg.Metric)
		}
		entryPoints = neighborIDs
		if len(entryPoints) == 0 {
			entryPoints = []int64{entry}
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = id
	}
	return nil
}

// appendPruned adds newID to a neighbor list and, if that exceeds m,
// keeps only the m nodes closest to owner's vector.
func appendPruned(list []int64, newID int64, m int, owner []float64, nodes map[int64]*hnswNode, metric Metric) []int64 {
	list = append(list, newID)
	if len(list) <= m {
		return list
	}
	sort.Slice(list, func(i, j int) bool {
		return distance(nodes[list[i]].vec, owner, metric) < distance(nodes[list[j]].vec, owner, metric)
	})
	return list[:m]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (h *hnswIndex) Remove(id int64) bool {
	node, ok := h.nodes[id]
	if !ok {
		return false
	}
	delete(h.nodes, id)
	for _, n := range h.nodes {
		for layer := range n.neighbors {
			n.neighbors[layer] = removeID(n.neighbors[layer], id)
		}
	}
	if h.entry == id {
		h.hasEntry = false
		for otherID, other := range h.nodes {
			h.entry = otherID
			h.hasEntry = true
			h.maxLevel = other.level
			break
		}
	}
	_ = node
	return true
}

func removeID(ids []int64, target int64) []int64 {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func (h *hnswIndex) Search(query []float64, k int, threshold float64, hasThreshold bool) ([]Match, error) {
	if !h.hasEntry {
		return nil, nil
	}
	entry := h.entry
	for layer := h.maxLevel; layer > 0; layer-- {
		best := h.searchLayer(query, []int64{entry}, 1, layer)
		if len(best) > 0 {
			entry = best[0].ID
		}
	}
	ef := h.cfg.EfSearch
	if ef < k {
		ef = k
	}
	candidates := h.searchLayer(query, []int64{entry}, ef, 0)

	out := make([]Match, 0, k)
	for _, c := range candidates {
		if hasThreshold && c.Distance > threshold {
			continue
		}
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	return out, nil
}
