// Package comfy adapts a ComfyUI server to the host interfaces: the workflow
// file is the graph, POST /prompt is the queue and the /ws stream is the event
// source.
package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/wehubfusion/Daedalus/pkg/host"
)

// WorkflowNode is one entry of an API-format workflow
type WorkflowNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      *NodeMeta      `json:"_meta,omitempty"`
}

// NodeMeta holds display information ComfyUI attaches to exported nodes
type NodeMeta struct {
	Title string `json:"title,omitempty"`
}

// Workflow is an API-format prompt keyed by node id
type Workflow map[string]WorkflowNode

// Node is a workflow node as seen through host.Node
type Node struct {
	ID string
	WorkflowNode
}

// NodeType implements host.Node
func (n Node) NodeType() string { return n.ClassType }

// ParseWorkflow decodes an API-format workflow
func ParseWorkflow(data []byte) (Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}
	for id, n := range wf {
		if n.ClassType == "" {
			return nil, fmt.Errorf("workflow node '%s' has no class_type", id)
		}
	}
	return wf, nil
}

// LoadWorkflow reads an API-format workflow file
func LoadWorkflow(path string) (Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow '%s': %w", path, err)
	}
	return ParseWorkflow(data)
}

// IDs returns node ids in storage order: numeric ids ascending, then the rest lexically
func (w Workflow) IDs() []string {
	ids := make([]string, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
	return ids
}

// Nodes returns the workflow's nodes in storage order
func (w Workflow) Nodes() []host.Node {
	nodes := make([]host.Node, 0, len(w))
	for _, id := range w.IDs() {
		nodes = append(nodes, Node{ID: id, WorkflowNode: w[id]})
	}
	return nodes
}

// WorkflowSource supplies the workflow to queue
type WorkflowSource interface {
	Workflow(ctx context.Context) (Workflow, error)
}

// WorkflowFile is a workflow kept on disk. It is read again on every call, so
// edits to the file are picked up by the next event.
type WorkflowFile struct {
	Path string
}

// Workflow implements WorkflowSource
func (f WorkflowFile) Workflow(ctx context.Context) (Workflow, error) {
	return LoadWorkflow(f.Path)
}

// Nodes implements host.Graph
func (f WorkflowFile) Nodes(ctx context.Context) ([]host.Node, error) {
	wf, err := f.Workflow(ctx)
	if err != nil {
		return nil, err
	}
	return wf.Nodes(), nil
}
