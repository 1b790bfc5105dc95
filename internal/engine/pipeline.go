package engine

import (
	"fmt"
	"strings"

	"github.com/bianoble/pipetrack/internal/graph"
	"github.com/bianoble/pipetrack/internal/repo"
	"github.com/bianoble/pipetrack/internal/stage"
)

// PipelineEngine answers questions about the pipelines of the active view.
type PipelineEngine struct {
	Repo *repo.Repo
}

// ShowOptions configures Show.
type ShowOptions struct {
	// Commands lists stage commands instead of addresses.
	Commands bool
	// Outs lists stage outputs instead of addresses.
	Outs bool
	// Locked keeps only locked stages.
	Locked bool
}

// Mode maps the options to the graph view mode they select.
func (o ShowOptions) Mode() graph.ViewMode {
	switch {
	case o.Commands:
		return graph.ViewCommands
	case o.Outs:
		return graph.ViewOuts
	default:
		return graph.ViewStages
	}
}

func (e *PipelineEngine) resolve(target string) (*graph.Graph, *stage.Stage, error) {
	found, err := e.Repo.CollectTarget(target, false)
	if err != nil {
		return nil, nil, err
	}
	if len(found) != 1 {
		return nil, nil, fmt.Errorf("'%s' declares %d stages: name one of them as '%s:<name>'", target, len(found), target)
	}
	g, err := e.Repo.Graph()
	if err != nil {
		return nil, nil, err
	}
	node, ok := g.Node(found[0].Address())
	if !ok {
		return nil, nil, fmt.Errorf("'%s': %w", target, repo.ErrStageNotFound)
	}
	return g, node, nil
}

// Show lists target and everything it depends on, producers first.
func (e *PipelineEngine) Show(target string, opts ShowOptions) ([]string, error) {
	g, node, err := e.resolve(target)
	if err != nil {
		return nil, err
	}
	stages, err := g.PostorderFrom(node)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, s := range stages {
		if opts.Locked && !s.Locked {
			continue
		}
		switch {
		case opts.Commands:
			if s.Cmd != "" {
				lines = append(lines, s.Cmd)
			}
		case opts.Outs:
			for _, o := range s.Outs {
				lines = append(lines, o.String())
			}
		default:
			lines = append(lines, s.Address())
		}
	}
	return lines, nil
}

// View returns the renderer input for the part of the pipeline target
// depends on.
func (e *PipelineEngine) View(target string, mode graph.ViewMode) (graph.View, error) {
	g, node, err := e.resolve(target)
	if err != nil {
		return graph.View{}, err
	}
	return g.BuildView(node, mode)
}

// Tree renders target and its dependencies as an indented tree. It fails
// with stage.ErrNotATree when the pipeline holding target is not a tree.
func (e *PipelineEngine) Tree(target string, mode graph.ViewMode) (string, error) {
	g, node, err := e.resolve(target)
	if err != nil {
		return "", err
	}
	pipe, err := g.Pipeline(node)
	if err != nil {
		return "", err
	}
	if err := pipe.RequireTree(); err != nil {
		return "", err
	}
	v, err := pipe.BuildView(node, mode)
	if err != nil {
		return "", err
	}
	return renderTree(v), nil
}

// renderTree draws every label that no edge points to as a root, followed
// by its dependencies.
func renderTree(v graph.View) string {
	children := make(map[string][]string)
	pointed := make(map[string]bool)
	for _, edge := range v.Edges {
		children[edge[0]] = append(children[edge[0]], edge[1])
		pointed[edge[1]] = true
	}

	var b strings.Builder
	var walk func(label, prefix string, last, root bool)
	walk = func(label, prefix string, last, root bool) {
		next := prefix
		switch {
		case root:
			b.WriteString(label + "\n")
		case last:
			b.WriteString(prefix + "└── " + label + "\n")
			next = prefix + "    "
		default:
			b.WriteString(prefix + "├── " + label + "\n")
			next = prefix + "│   "
		}
		kids := children[label]
		for i, kid := range kids {
			walk(kid, next, i == len(kids)-1, false)
		}
	}
	for _, n := range v.Nodes {
		if !pointed[n] {
			walk(n, "", true, true)
		}
	}
	return b.String()
}

// List returns every pipeline of the active view, each as the addresses of
// its stages.
func (e *PipelineEngine) List() ([][]string, error) {
	g, err := e.Repo.Graph()
	if err != nil {
		return nil, err
	}
	var out [][]string
	for _, comp := range g.ConnectedComponents() {
		var names []string
		for _, s := range comp {
			names = append(names, s.Address())
		}
		out = append(out, names)
	}
	return out, nil
}
