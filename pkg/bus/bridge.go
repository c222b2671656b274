package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/host"
	"go.uber.org/zap"
)

// Dispatcher receives events decoded from NATS
type Dispatcher interface {
	Dispatch(ctx context.Context, evt host.Event)
}

// Bridge subscribes to "<prefix>.>" and dispatches every message as a host event
type Bridge struct {
	conn       Conn
	prefix     string
	dispatcher Dispatcher
	logger     *zap.Logger

	mu  sync.Mutex
	sub Subscription
	ctx context.Context
}

// NewBridge creates a bridge from conn to dispatcher
func NewBridge(conn Conn, prefix string, dispatcher Dispatcher, logger *zap.Logger) (*Bridge, error) {
	if conn == nil {
		return nil, sdkerrors.ErrNotConnected
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		conn:       conn,
		prefix:     normalizePrefix(prefix),
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Start subscribes. Messages are dispatched with ctx until Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		return nil
	}

	subject := b.prefix + ".>"
	sub, err := b.conn.Subscribe(subject, b.handle)
	if err != nil {
		return sdkerrors.NewError("SUBSCRIBE_FAILED", fmt.Sprintf("subject '%s'", subject), err)
	}
	b.sub = sub
	b.ctx = ctx

	b.logger.Info("Subscribed to NATS events", zap.String("subject", subject))
	return nil
}

// Stop unsubscribes from NATS
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	return err
}

func (b *Bridge) handle(msg *nats.Msg) {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	evt := b.decode(msg)
	b.logger.Debug("Received NATS event",
		zap.String("subject", msg.Subject),
		zap.String("event", evt.Name))
	b.dispatcher.Dispatch(ctx, evt)
}

// decode reads an envelope from msg. Bodies that are not envelopes are
// delivered as-is under the event name taken from the subject.
func (b *Bridge) decode(msg *nats.Msg) host.Event {
	if env, err := events.DecodeEnvelope(msg.Data); err == nil {
		return env.Event()
	}

	var detail json.RawMessage
	if json.Valid(msg.Data) {
		detail = append(json.RawMessage(nil), msg.Data...)
	} else if len(msg.Data) > 0 {
		quoted, _ := json.Marshal(string(msg.Data))
		detail = quoted
	}
	return host.NewEvent(eventNameFromSubject(b.prefix, msg.Subject), detail)
}
