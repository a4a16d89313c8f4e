package hnsw

// LevelStats describes one layer of the graph.
type LevelStats struct {
	Level     int     `json:"level"`
	Nodes     int     `json:"nodes"`
	Edges     int     `json:"edges"`
	AvgDegree float64 `json:"avg_degree"`
}

// Stats is a snapshot of graph shape and parameters.
type Stats struct {
	Nodes          int          `json:"nodes"`
	Dimensions     int          `json:"dimensions"`
	MaxLevel       int          `json:"max_level"`
	EntryPoint     int64        `json:"entry_point"`
	M              int          `json:"m"`
	MaxM0          int          `json:"max_m0"`
	EfConstruction int          `json:"ef_construction"`
	EfSearch       int          `json:"ef_search"`
	Levels         []LevelStats `json:"levels"`
}

// Stats walks every node and counts nodes and directed edges per layer.
// EntryPoint is -1 for an empty graph.
func (g *Graph) Stats() Stats {
	s := Stats{
		Nodes:          len(g.nodes),
		Dimensions:     g.dim,
		MaxLevel:       g.maxLevel,
		EntryPoint:     -1,
		M:              g.m,
		MaxM0:          g.maxM0,
		EfConstruction: g.efConstruction,
		EfSearch:       g.efSearch,
	}
	if g.maxLevel < 0 {
		return s
	}
	s.EntryPoint = int64(g.entryPoint)

	s.Levels = make([]LevelStats, g.maxLevel+1)
	for l := range s.Levels {
		s.Levels[l].Level = l
	}
	for _, n := range g.nodes {
		for l := 0; l <= n.level; l++ {
			s.Levels[l].Nodes++
			s.Levels[l].Edges += len(n.friends[l])
		}
	}
	for l := range s.Levels {
		if s.Levels[l].Nodes > 0 {
			s.Levels[l].AvgDegree = float64(s.Levels[l].Edges) / float64(s.Levels[l].Nodes)
		}
	}
	return s
}
