package graph

import (
	"fmt"

	"github.com/bianoble/pipetrack/internal/stage"
)

// ViewMode selects what the nodes of a View stand for.
type ViewMode int

const (
	// ViewStages labels nodes with stage addresses.
	ViewStages ViewMode = iota
	// ViewCommands labels nodes with stage commands; data sources are left out.
	ViewCommands
	// ViewOuts labels nodes with output paths.
	ViewOuts
)

func (m ViewMode) String() string {
	switch m {
	case ViewStages:
		return "stages"
	case ViewCommands:
		return "commands"
	case ViewOuts:
		return "outs"
	default:
		return fmt.Sprintf("ViewMode(%d)", int(m))
	}
}

// View is the input a renderer needs: node labels and ordered label pairs.
// Each edge points from a consumer to what it depends on.
type View struct {
	Nodes []string
	Edges [][2]string
}

type labelSet struct {
	seen  map[string]bool
	order []string
}

func (l *labelSet) add(label string) {
	if l.seen == nil {
		l.seen = make(map[string]bool)
	}
	if !l.seen[label] {
		l.seen[label] = true
		l.order = append(l.order, label)
	}
}

// BuildView describes the part of the graph target depends on.
func (g *Graph) BuildView(target *stage.Stage, mode ViewMode) (View, error) {
	if mode == ViewOuts {
		return g.outputView(target)
	}
	nodes, err := g.PreorderFrom(target)
	if err != nil {
		return View{}, err
	}
	edges, err := g.EdgeDFS(target)
	if err != nil {
		return View{}, err
	}

	label := func(s *stage.Stage) string {
		if mode == ViewCommands {
			return s.Cmd
		}
		return s.Address()
	}
	var labels labelSet
	for _, s := range nodes {
		if l := label(s); l != "" {
			labels.add(l)
		}
	}
	v := View{Nodes: labels.order}
	for _, e := range edges {
		from, to := label(e[0]), label(e[1])
		if from == "" || to == "" {
			continue
		}
		v.Edges = append(v.Edges, [2]string{from, to})
	}
	return v, nil
}

// outputView links each output of a consumer to the producer outputs it
// actually reads. Producer outputs nobody downstream reads are left out.
func (g *Graph) outputView(target *stage.Stage) (View, error) {
	edges, err := g.EdgeDFS(target)
	if err != nil {
		return View{}, err
	}
	var labels labelSet
	for _, o := range target.Outs {
		labels.add(o.String())
	}

	var v View
	for _, e := range edges {
		consumer, producer := e[0], e[1]
		reads := make(map[string]bool, len(consumer.Deps))
		for _, d := range consumer.Deps {
			reads[d.Abs] = true
		}
		var from, to []string
		for _, o := range consumer.Outs {
			if labels.seen[o.String()] {
				from = append(from, o.String())
			}
		}
		for _, o := range producer.Outs {
			if reads[o.Abs] {
				to = append(to, o.String())
			}
		}
		for _, t := range to {
			labels.add(t)
		}
		for _, f := range from {
			for _, t := range to {
				v.Edges = append(v.Edges, [2]string{f, t})
			}
		}
	}
	v.Nodes = labels.order
	return v, nil
}
