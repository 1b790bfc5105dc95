package graph

import (
	"github.com/bianoble/pipetrack/internal/stage"
)

// PostorderFrom lists start and everything it depends on, producers first.
// The order only depends on graph order, so repeated calls agree.
func (g *Graph) PostorderFrom(start *stage.Stage) ([]*stage.Stage, error) {
	i, err := g.lookup(start)
	if err != nil {
		return nil, err
	}
	var order []*stage.Stage
	seen := make(map[int]bool)
	var visit func(n int)
	visit = func(n int) {
		seen[n] = true
		for _, p := range g.producers[n] {
			if !seen[p] {
				visit(p)
			}
		}
		order = append(order, g.nodes[n])
	}
	visit(i)
	return order, nil
}

// PreorderFrom lists start first, then its producers depth first.
func (g *Graph) PreorderFrom(start *stage.Stage) ([]*stage.Stage, error) {
	i, err := g.lookup(start)
	if err != nil {
		return nil, err
	}
	var order []*stage.Stage
	seen := make(map[int]bool)
	var visit func(n int)
	visit = func(n int) {
		seen[n] = true
		order = append(order, g.nodes[n])
		for _, p := range g.producers[n] {
			if !seen[p] {
				visit(p)
			}
		}
	}
	visit(i)
	return order, nil
}

// EdgeDFS walks upstream from start and yields every (consumer, producer)
// pair exactly once, in depth-first edge order.
func (g *Graph) EdgeDFS(start *stage.Stage) ([][2]*stage.Stage, error) {
	i, err := g.lookup(start)
	if err != nil {
		return nil, err
	}
	var edges [][2]*stage.Stage
	visited := make(map[int]bool)
	var visit func(n int)
	visit = func(n int) {
		visited[n] = true
		for _, p := range g.producers[n] {
			edges = append(edges, [2]*stage.Stage{g.nodes[n], g.nodes[p]})
			if !visited[p] {
				visit(p)
			}
		}
	}
	visit(i)
	return edges, nil
}

// ConnectedComponents groups the stages into pipelines. Components are
// ordered by their first stage and list their stages in graph order.
func (g *Graph) ConnectedComponents() [][]*stage.Stage {
	var comps [][]*stage.Stage
	assigned := make(map[int]bool)
	for i := range g.nodes {
		if assigned[i] {
			continue
		}
		comp := g.component(i)
		for n := range comp {
			assigned[n] = true
		}
		comps = append(comps, g.pickSet(comp))
	}
	return comps
}

// IsTree reports whether the graph is weakly connected, has exactly one
// stage without producers, and no stage has more than one producer.
func (g *Graph) IsTree() bool {
	if len(g.nodes) == 0 {
		return false
	}
	roots := 0
	for _, ps := range g.producers {
		switch len(ps) {
		case 0:
			roots++
		case 1:
		default:
			return false
		}
	}
	return roots == 1 && len(g.component(0)) == len(g.nodes)
}

// RequireTree fails with stage.ErrNotATree unless IsTree holds.
func (g *Graph) RequireTree() error {
	if g.IsTree() {
		return nil
	}
	return stage.NewError(stage.ErrNotATree, "DAG is not a tree, can not print it in tree-structure way")
}
