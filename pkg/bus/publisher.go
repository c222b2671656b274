package bus

import (
	"context"
	"encoding/json"
	"fmt"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/host"
	"go.uber.org/zap"
)

// Publisher publishes host events to NATS. It implements host.Emitter.
type Publisher struct {
	conn   Conn
	prefix string
	logger *zap.Logger
}

// NewPublisher creates a publisher writing under prefix
func NewPublisher(conn Conn, prefix string, logger *zap.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, sdkerrors.ErrNotConnected
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: conn, prefix: normalizePrefix(prefix), logger: logger}, nil
}

// Emit implements host.Emitter
func (p *Publisher) Emit(ctx context.Context, evt host.Event) error {
	if evt.Name == "" {
		return fmt.Errorf("event name cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(events.EnvelopeFor(evt))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := Subject(p.prefix, evt.Name)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish event", zap.String("subject", subject), zap.Error(err))
		return sdkerrors.NewError("PUBLISH_FAILED", fmt.Sprintf("subject '%s'", subject), err)
	}

	p.logger.Debug("Published event", zap.String("subject", subject), zap.Int("bytes", len(data)))
	return nil
}
