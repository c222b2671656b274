// Package automation keeps a dataset batch running: every time the dataset
// batch node reports a processed row, the next prompt is queued as long as the
// workflow still contains that node.
package automation

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/host"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// ExtensionName is the name the automator registers under
	ExtensionName = "DatasetBatchAutomation"

	// EventName is the only event the automator subscribes to
	EventName = events.DatasetRowProcessed

	// TargetNodeType is the node type whose presence keeps the batch going
	TargetNodeType = "DatasetBatchNode"

	// queue one more prompt at the back of the queue
	queuePosition = 0
	queueCount    = 1
)

// RowProcessedAutomator reacts to dataset_row_processed events. It holds no
// state between events: the graph is read again every time.
type RowProcessedAutomator struct {
	logger *zap.Logger
	tracer trace.Tracer
}

// NewRowProcessedAutomator creates an automator logging to logger
func NewRowProcessedAutomator(logger *zap.Logger) *RowProcessedAutomator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RowProcessedAutomator{
		logger: logger.With(zap.String("extension", ExtensionName)),
		tracer: otel.Tracer("daedalus/automation"),
	}
}

// Register creates an automator and registers it with reg
func Register(reg *host.Registry, logger *zap.Logger) (*RowProcessedAutomator, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	a := NewRowProcessedAutomator(logger)
	if err := reg.Register(a.Extension()); err != nil {
		return nil, err
	}
	return a, nil
}

// Extension returns the registry entry for the automator
func (a *RowProcessedAutomator) Extension() host.Extension {
	return host.Extension{
		Name:  ExtensionName,
		Setup: a.Setup,
	}
}

// Setup subscribes to EventName on the host's event source. The host handle
// is captured by the listener; nothing is stored on the automator.
func (a *RowProcessedAutomator) Setup(ctx context.Context, h *host.Host) error {
	if h == nil || h.Events == nil || h.Graph == nil || h.Queue == nil {
		return fmt.Errorf("host must provide events, graph and queue")
	}

	a.logger.Info("Extension setup called, subscribing", zap.String("event", EventName))

	_, err := h.Events.AddEventListener(EventName, func(ctx context.Context, evt host.Event) {
		a.HandleEvent(ctx, h, evt)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", EventName, err)
	}
	return nil
}

// HandleEvent queues the next prompt when the graph holds a TargetNodeType
// node and warns otherwise. The event detail is logged and never parsed.
func (a *RowProcessedAutomator) HandleEvent(ctx context.Context, h *host.Host, evt host.Event) {
	ctx, span := a.tracer.Start(ctx, "automation.HandleEvent",
		trace.WithAttributes(
			attribute.String("event.name", evt.Name),
			attribute.String("node.type", TargetNodeType),
		))
	defer span.End()

	a.logger.Info("Event received",
		zap.String("event", evt.Name),
		zap.ByteString("detail", evt.Detail))

	nodes, err := h.Graph.Nodes(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "graph unavailable")
		a.logger.Error("Failed to read workflow graph", zap.Error(err))
		return
	}

	if _, found := FindNode(nodes, TargetNodeType); !found {
		span.SetAttributes(attribute.Bool("node.found", false))
		a.logger.Warn(fmt.Sprintf("%s not found in workflow", TargetNodeType),
			zap.String("node_type", TargetNodeType),
			zap.Int("nodes", len(nodes)))
		return
	}

	span.SetAttributes(
		attribute.Bool("node.found", true),
		attribute.Int("queue.position", queuePosition),
		attribute.Int("queue.count", queueCount),
	)
	a.logger.Info(fmt.Sprintf("%s found in workflow", TargetNodeType))

	h.Queue.QueuePrompt(ctx, queuePosition, queueCount)
	a.logger.Info("Queued next prompt",
		zap.Int("position", queuePosition),
		zap.Int("count", queueCount))
}

// FindNode returns the first node of nodeType in slice order
func FindNode(nodes []host.Node, nodeType string) (host.Node, bool) {
	for _, n := range nodes {
		if n != nil && n.NodeType() == nodeType {
			return n, true
		}
	}
	return nil, false
}
