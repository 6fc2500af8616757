package rollcore

// depGraph records which hooks of a host were read while computing another
// hook of the same host.
type depGraph struct {
	// downstream maps a hook to the hooks that read it
	downstream map[string][]string
	// upstream maps a hook to the hooks it read
	upstream map[string][]string
}

func newDepGraph() *depGraph {
	return &depGraph{
		downstream: make(map[string][]string),
		upstream:   make(map[string][]string),
	}
}

func (g *depGraph) add(dependent, dependency string) {
	if dependent == dependency {
		return
	}
	g.downstream[dependency] = appendUnique(g.downstream[dependency], dependent)
	g.upstream[dependent] = appendUnique(g.upstream[dependent], dependency)
}

// dependents returns everything that transitively read start, without start.
func (g *depGraph) dependents(start string) []string {
	stack := []string{start}
	visited := map[string]bool{}
	var out []string

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur != start {
			out = append(out, cur)
		}
		for _, d := range g.downstream[cur] {
			if !visited[d] {
				stack = append(stack, d)
			}
		}
	}
	return out
}

func (g *depGraph) export() map[string][]string {
	out := make(map[string][]string, len(g.upstream))
	for k, v := range g.upstream {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (g *depGraph) reset() {
	g.downstream = make(map[string][]string)
	g.upstream = make(map[string][]string)
}

func appendUnique[T comparable](slice []T, item T) []T {
	for _, existing := range slice {
		if existing == item {
			return slice
		}
	}
	return append(slice, item)
}
