package domain

// edgeRef is the (pool, output mint) pair adjacency lists store — enough
// to look the full Edge back up in Graph.edges.
type edgeRef struct {
	pool   PoolKey
	output Mint
}

// Graph indexes edges by (pool, input mint) and keeps an adjacency list
// per input mint so cycles can be enumerated by DFS.
type Graph struct {
	edges     map[PoolKey]map[Mint]*Edge // pool -> input mint -> edge
	adjacency map[Mint][]edgeRef         // input mint -> outgoing edges, insertion order
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		edges:     make(map[PoolKey]map[Mint]*Edge),
		adjacency: make(map[Mint][]edgeRef),
	}
}

// AddEdge inserts e into the graph. Adding the same (pool, input mint)
// twice is a no-op — the first registration wins.
func (g *Graph) AddEdge(e *Edge) {
	pool, input := e.UniqueID()
	byInput, ok := g.edges[pool]
	if !ok {
		byInput = make(map[Mint]*Edge)
		g.edges[pool] = byInput
	}
	if _, exists := byInput[input]; exists {
		return
	}
	byInput[input] = e
	g.adjacency[input] = append(g.adjacency[input], edgeRef{pool: pool, output: e.OutputMint})
}

// Edge looks up the edge uniquely identified by (pool, input mint).
func (g *Graph) Edge(pool PoolKey, input Mint) (*Edge, bool) {
	byInput, ok := g.edges[pool]
	if !ok {
		return nil, false
	}
	e, ok := byInput[input]
	return e, ok
}

// Cycle is one path of edges that starts and ends at the same mint.
type Cycle []*Edge

// FindCycles enumerates every simple cycle starting and ending at start,
// using at most maxHops edges and never reusing a pool within one cycle.
// It mirrors the original Rust find_cycles: depth-first, path-ordered,
// with a post-hoc filter dropping length-1 self-loop artifacts (an edge
// whose input and output mint are identical).
func (g *Graph) FindCycles(start Mint, maxHops int) []Cycle {
	var results []Cycle
	path := make([]*Edge, 0, maxHops)
	usedPools := make(map[PoolKey]bool, maxHops)

	var dfs func(current Mint)
	dfs = func(current Mint) {
		if current == start && len(path) > 0 {
			cycle := make(Cycle, len(path))
			copy(cycle, path)
			results = append(results, cycle)
		}
		if len(path) == maxHops {
			return
		}
		for _, ref := range g.adjacency[current] {
			if usedPools[ref.pool] {
				continue
			}
			edge, ok := g.Edge(ref.pool, current)
			if !ok {
				continue
			}
			usedPools[ref.pool] = true
			path = append(path, edge)

			dfs(ref.output)

			path = path[:len(path)-1]
			delete(usedPools, ref.pool)
		}
	}

	dfs(start)

	filtered := results[:0]
	for _, c := range results {
		if len(c) == 1 && c[0].InputMint == c[0].OutputMint {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}
