// Package graph builds the pipeline DAG by matching stage outputs to the
// dependencies of other stages, and answers traversal queries over it.
//
// Edges point from producer to consumer. A Graph is immutable once built and
// safe for concurrent reads.
package graph

import (
	"fmt"
	"sort"

	"github.com/bianoble/pipetrack/internal/stage"
)

// Graph is a pipeline DAG over stages, in the order they were given to Build.
type Graph struct {
	nodes []*stage.Stage
	index map[string]int

	producers [][]int // consumer -> producers, ascending
	consumers [][]int // producer -> consumers, ascending
}

// Build indexes every output path and connects each dependency to the stages
// producing it. Remote edges never take part in matching.
func Build(stages []*stage.Stage) (*Graph, error) {
	g := &Graph{
		nodes: make([]*stage.Stage, 0, len(stages)),
		index: make(map[string]int, len(stages)),
	}
	for _, s := range stages {
		addr := s.Address()
		if _, exists := g.index[addr]; exists {
			return nil, invalidf("duplicate stage %q", addr)
		}
		g.index[addr] = len(g.nodes)
		g.nodes = append(g.nodes, s)
	}

	outs := make(map[string][]int)
	for i, s := range g.nodes {
		for _, o := range s.Outs {
			if o.Kind == stage.KindRemote {
				continue
			}
			outs[o.Abs] = append(outs[o.Abs], i)
		}
	}

	g.producers = make([][]int, len(g.nodes))
	g.consumers = make([][]int, len(g.nodes))
	for c, s := range g.nodes {
		seen := make(map[int]bool)
		for _, d := range s.Deps {
			if d.Kind == stage.KindRemote {
				continue
			}
			for _, p := range outs[d.Abs] {
				if p == c {
					return nil, &stage.Error{
						Kind: stage.ErrCircularDependency,
						Path: d.String(),
						Msg:  fmt.Sprintf("stage %q depends on its own output %q", s.Address(), d.String()),
					}
				}
				if seen[p] {
					continue
				}
				seen[p] = true
				g.producers[c] = append(g.producers[c], p)
			}
		}
		sort.Ints(g.producers[c])
		for _, p := range g.producers[c] {
			g.consumers[p] = append(g.consumers[p], c)
		}
	}
	return g, nil
}

// Len is the number of stages in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns the stages in graph order.
func (g *Graph) Nodes() []*stage.Stage {
	return append([]*stage.Stage(nil), g.nodes...)
}

// Node looks a stage up by address.
func (g *Graph) Node(addr string) (*stage.Stage, bool) {
	i, ok := g.index[addr]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Edges returns every producer->consumer pair, ordered by producer and then
// by consumer.
func (g *Graph) Edges() [][2]*stage.Stage {
	var edges [][2]*stage.Stage
	for p, cs := range g.consumers {
		for _, c := range cs {
			edges = append(edges, [2]*stage.Stage{g.nodes[p], g.nodes[c]})
		}
	}
	return edges
}

// Producers returns the stages whose outputs s depends on.
func (g *Graph) Producers(s *stage.Stage) []*stage.Stage {
	i, ok := g.index[s.Address()]
	if !ok {
		return nil
	}
	return g.pick(g.producers[i])
}

// Consumers returns the stages depending on outputs of s.
func (g *Graph) Consumers(s *stage.Stage) []*stage.Stage {
	i, ok := g.index[s.Address()]
	if !ok {
		return nil
	}
	return g.pick(g.consumers[i])
}

// Ancestors returns every stage target transitively depends on, in graph
// order, excluding target itself.
func (g *Graph) Ancestors(target *stage.Stage) ([]*stage.Stage, error) {
	start, err := g.lookup(target)
	if err != nil {
		return nil, err
	}
	reach := g.reach(start, g.producers)
	delete(reach, start)
	return g.pickSet(reach), nil
}

// SubgraphFor returns the subgraph induced by target and its ancestors.
func (g *Graph) SubgraphFor(target *stage.Stage) (*Graph, error) {
	start, err := g.lookup(target)
	if err != nil {
		return nil, err
	}
	return g.induced(g.reach(start, g.producers)), nil
}

// Pipeline returns the weakly connected component holding target.
func (g *Graph) Pipeline(target *stage.Stage) (*Graph, error) {
	start, err := g.lookup(target)
	if err != nil {
		return nil, err
	}
	return g.induced(g.component(start)), nil
}

func (g *Graph) lookup(s *stage.Stage) (int, error) {
	if s == nil {
		return 0, unknown("")
	}
	i, ok := g.index[s.Address()]
	if !ok {
		return 0, unknown(s.Address())
	}
	return i, nil
}

// reach collects start and every node reachable through adj.
func (g *Graph) reach(start int, adj [][]int) map[int]bool {
	seen := map[int]bool{start: true}
	stack := []int{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, m := range adj[n] {
			if !seen[m] {
				seen[m] = true
				stack = append(stack, m)
			}
		}
	}
	return seen
}

func (g *Graph) component(start int) map[int]bool {
	seen := map[int]bool{start: true}
	queue := []int{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, adj := range [][]int{g.producers[n], g.consumers[n]} {
			for _, m := range adj {
				if !seen[m] {
					seen[m] = true
					queue = append(queue, m)
				}
			}
		}
	}
	return seen
}

// induced keeps the nodes in keep and the edges between them. Indices are
// remapped so the result keeps graph order.
func (g *Graph) induced(keep map[int]bool) *Graph {
	sub := &Graph{index: make(map[string]int, len(keep))}
	remap := make(map[int]int, len(keep))
	for i, s := range g.nodes {
		if keep[i] {
			remap[i] = len(sub.nodes)
			sub.index[s.Address()] = len(sub.nodes)
			sub.nodes = append(sub.nodes, s)
		}
	}
	sub.producers = make([][]int, len(sub.nodes))
	sub.consumers = make([][]int, len(sub.nodes))
	for i := range g.nodes {
		if !keep[i] {
			continue
		}
		for _, p := range g.producers[i] {
			if keep[p] {
				sub.producers[remap[i]] = append(sub.producers[remap[i]], remap[p])
			}
		}
		for _, c := range g.consumers[i] {
			if keep[c] {
				sub.consumers[remap[i]] = append(sub.consumers[remap[i]], remap[c])
			}
		}
	}
	return sub
}

func (g *Graph) pick(idx []int) []*stage.Stage {
	out := make([]*stage.Stage, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.nodes[i])
	}
	return out
}

func (g *Graph) pickSet(set map[int]bool) []*stage.Stage {
	out := make([]*stage.Stage, 0, len(set))
	for i, s := range g.nodes {
		if set[i] {
			out = append(out, s)
		}
	}
	return out
}
