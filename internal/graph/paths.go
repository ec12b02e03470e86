package graph

// ShortestPath returns the node ids along a shortest path from src to dst
// over active edges of the given relation types (all when empty), inclusive
// of both endpoints. Returns nil when no path exists. Transfer edges are
// traversed in their stored direction only.
func (g *Graph) ShortestPath(src, dst string, rels ...RelationType) []string {
	if src == dst {
		return []string{src}
	}
	if _, ok := g.Node(src); !ok {
		return nil
	}
	if _, ok := g.Node(dst); !ok {
		return nil
	}

	prev := map[string]string{src: src}
	queue := []string{src}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range g.Neighbors(v, rels...) {
			if _, seen := prev[w]; seen {
				continue
			}
			prev[w] = v
			if w == dst {
				return unwind(prev, src, dst)
			}
			queue = append(queue, w)
		}
	}
	return nil
}

func unwind(prev map[string]string, src, dst string) []string {
	var path []string
	for v := dst; ; v = prev[v] {
		path = append(path, v)
		if v == src {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
