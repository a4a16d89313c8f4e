package hnsw

// selectNeighbors picks up to limit neighbours from candidates, which must be
// sorted by ascending distance to the base node.
//
// A candidate is skipped when it is closer to an already selected neighbour
// than to the base, which keeps links spread across directions instead of
// clustering. With keepPruned the selection is then topped up from the
// skipped candidates, nearest first.
func (g *Graph) selectNeighbors(candidates []candidate, limit int) []candidate {
	if len(candidates) <= limit && g.keepPruned {
		return candidates
	}

	selected := make([]candidate, 0, limit)
	var discarded []candidate
	for _, c := range candidates {
		if len(selected) >= limit {
			break
		}
		diverse := true
		for _, s := range selected {
			if g.distanceBetween(c.id, s.id) < c.dist {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, c)
		} else {
			discarded = append(discarded, c)
		}
	}

	if g.keepPruned {
		for _, c := range discarded {
			if len(selected) >= limit {
				break
			}
			selected = append(selected, c)
		}
	}
	return selected
}
