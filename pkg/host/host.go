// Package host defines the collaborators an extension integrates with: the workflow
// graph, the event bus and the prompt queue. Implementations live in pkg/comfy,
// pkg/events, pkg/bus and pkg/runner; extensions only ever see these interfaces.
package host

import (
	"context"
	"encoding/json"
	"time"
)

// Node is a unit of the host's workflow graph. Only its type identifier is read.
type Node interface {
	NodeType() string
}

// Graph exposes the host's current workflow as a snapshot of nodes in host
// storage order. Implementations must return a slice the caller may not mutate
// back into the host.
type Graph interface {
	Nodes(ctx context.Context) ([]Node, error)
}

// Event is a named notification delivered by the host's event system.
// Detail is opaque to extensions.
type Event struct {
	Name       string
	Detail     json.RawMessage
	ReceivedAt time.Time
}

// NewEvent creates an event stamped with the current time
func NewEvent(name string, detail json.RawMessage) Event {
	return Event{
		Name:       name,
		Detail:     detail,
		ReceivedAt: time.Now(),
	}
}

// EventHandler reacts to an event. It has no error return: nothing a listener
// does is reported back to the emitter.
type EventHandler func(ctx context.Context, evt Event)

// Subscription is returned by AddEventListener
type Subscription interface {
	Unsubscribe() error
}

// EventSource is the host's event bus as seen by listeners
type EventSource interface {
	AddEventListener(name string, handler EventHandler) (Subscription, error)
}

// Emitter publishes events into a host event system
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
}

// Queue is the host operation that schedules more work. position follows the
// host convention (0 = back of the queue, -1 = front) and count is the number
// of prompts to queue. The host owns success and failure of the request.
type Queue interface {
	QueuePrompt(ctx context.Context, position, count int)
}

// Host bundles the collaborators handed to an extension's setup callback
type Host struct {
	Graph  Graph
	Events EventSource
	Queue  Queue
}
