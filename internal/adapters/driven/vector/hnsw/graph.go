package hnsw

import (
	"math"
	"sort"
)

// node is a single vector in the HNSW graph. Deleted nodes stay in the
// graph as routing points but are never returned.
type node struct {
	id      string
	vector  []float32
	tags    []string
	friends [][]int // friends[layer] = neighbour node indices
	level   int
	deleted bool
}

// candidate is a node paired with its distance to a query.
type candidate struct {
	idx  int
	dist float32
}

// insert links a new node into the graph. The caller holds the write lock.
func (x *Index) insert(n node) int {
	nodeIdx := len(x.nodes)
	n.level = x.randomLevel()
	n.friends = make([][]int, n.level+1)
	x.nodes = append(x.nodes, n)

	if x.entryPoint == -1 {
		x.entryPoint = nodeIdx
		x.maxLevel = n.level
		return nodeIdx
	}

	// Greedy descent to the node's own top layer.
	ep := x.entryPoint
	for l := x.maxLevel; l > n.level; l-- {
		ep = x.greedyClosest(n.vector, ep, l)
	}

	top := min(n.level, x.maxLevel)
	for l := top; l >= 0; l-- {
		candidates := x.searchLayer(n.vector, ep, x.efConstruction, l)

		maxConn := x.m
		if l == 0 {
			maxConn = x.mMax0
		}
		neighbours := selectNeighbours(candidates, maxConn)
		x.nodes[nodeIdx].friends[l] = neighbours

		for _, nb := range neighbours {
			x.nodes[nb].friends[l] = append(x.nodes[nb].friends[l], nodeIdx)
			if len(x.nodes[nb].friends[l]) > maxConn {
				x.nodes[nb].friends[l] = x.shrink(nb, x.nodes[nb].friends[l], maxConn)
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0].idx
		}
	}

	if n.level > x.maxLevel {
		x.entryPoint = nodeIdx
		x.maxLevel = n.level
	}
	return nodeIdx
}

// knn returns up to ef nodes closest to the query, ascending by distance.
func (x *Index) knn(query []float32, ef int) []candidate {
	if x.entryPoint == -1 {
		return nil
	}
	ep := x.entryPoint
	for l := x.maxLevel; l > 0; l-- {
		ep = x.greedyClosest(query, ep, l)
	}
	return x.searchLayer(query, ep, ef, 0)
}

// randomLevel draws a level from the geometric distribution.
func (x *Index) randomLevel() int {
	r := x.rng.Float64()
	if r == 0 {
		r = 1e-10
	}
	return int(math.Floor(-math.Log(r) * x.levelMult))
}

// greedyClosest walks a layer towards the node closest to query.
func (x *Index) greedyClosest(query []float32, ep, layer int) int {
	dist := cosineDistance(query, x.nodes[ep].vector)
	for {
		improved := false
		if layer < len(x.nodes[ep].friends) {
			for _, f := range x.nodes[ep].friends[layer] {
				if d := cosineDistance(query, x.nodes[f].vector); d < dist {
					ep, dist = f, d
					improved = true
				}
			}
		}
		if !improved {
			return ep
		}
	}
}

// searchLayer is a beam search over one layer. Returns up to ef candidates
// sorted by distance.
func (x *Index) searchLayer(query []float32, ep, ef, layer int) []candidate {
	visited := map[int]bool{ep: true}
	start := candidate{idx: ep, dist: cosineDistance(query, x.nodes[ep].vector)}
	frontier := []candidate{start}
	results := []candidate{start}

	for len(frontier) > 0 {
		closest := frontier[0]
		frontier = frontier[1:]

		if closest.dist > results[len(results)-1].dist && len(results) >= ef {
			break
		}
		if layer >= len(x.nodes[closest.idx].friends) {
			continue
		}
		for _, nb := range x.nodes[closest.idx].friends[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := cosineDistance(query, x.nodes[nb].vector)
			if len(results) < ef || d < results[len(results)-1].dist {
				c := candidate{idx: nb, dist: d}
				frontier = insertSorted(frontier, c)
				results = insertSorted(results, c)
				if len(results) > ef {
					results = results[:ef]
				}
			}
		}
	}
	return results
}

// selectNeighbours keeps the closest maxConn candidates.
func selectNeighbours(candidates []candidate, maxConn int) []int {
	n := min(len(candidates), maxConn)
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].idx
	}
	return out
}

// shrink prunes a neighbour list to the maxConn closest entries.
func (x *Index) shrink(nodeIdx int, neighbours []int, maxConn int) []int {
	vec := x.nodes[nodeIdx].vector
	scored := make([]candidate, len(neighbours))
	for i, nb := range neighbours {
		scored[i] = candidate{idx: nb, dist: cosineDistance(vec, x.nodes[nb].vector)}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].dist < scored[j].dist })
	return selectNeighbours(scored, maxConn)
}

// insertSorted inserts c keeping s ascending by distance.
func insertSorted(s []candidate, c candidate) []candidate {
	i := sort.Search(len(s), func(i int) bool { return s[i].dist >= c.dist })
	s = append(s, candidate{})
	copy(s[i+1:], s[i:])
	s[i] = c
	return s
}

// cosineDistance returns 1 - cosine similarity, in [0, 2].
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}
	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1.0 - sim
}
