package host

import (
	"context"
	"errors"
)

// BasicNode is a node carrying nothing but its type
type BasicNode struct {
	Type string `json:"type"`
}

// NodeType implements Node
func (n BasicNode) NodeType() string { return n.Type }

// StaticGraph is an in-memory graph. Nodes returns a copy, so callers cannot
// reorder or replace the graph's own entries.
type StaticGraph []Node

// Nodes implements Graph
func (g StaticGraph) Nodes(ctx context.Context) ([]Node, error) {
	nodes := make([]Node, len(g))
	copy(nodes, g)
	return nodes, nil
}

// NodesOfTypes builds a StaticGraph of BasicNodes
func NodesOfTypes(types ...string) StaticGraph {
	g := make(StaticGraph, 0, len(types))
	for _, t := range types {
		g = append(g, BasicNode{Type: t})
	}
	return g
}

// Emitters fans an event out to several emitters. Every emitter is tried;
// the returned error joins all failures.
type Emitters []Emitter

// Emit implements Emitter
func (e Emitters) Emit(ctx context.Context, evt Event) error {
	var errs []error
	for _, em := range e {
		if em == nil {
			continue
		}
		if err := em.Emit(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
