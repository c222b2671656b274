package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/host"
	"go.uber.org/zap"
)

// Dispatcher is the in-process event bus. Transports (the ComfyUI listener,
// the NATS bridge) and local producers feed it; extensions subscribe to it.
//
// Dispatch runs listeners synchronously on the caller's goroutine in
// subscription order. Each listener runs behind a recovery boundary, so a
// failing listener neither stops the others nor reaches the emitter.
type Dispatcher struct {
	mu          sync.RWMutex
	listeners   map[string][]*listener
	nextID      uint64
	middlewares []Middleware
	hub         *sentry.Hub
	logger      *zap.Logger
}

type listener struct {
	id      uint64
	handler Handler
}

// NewDispatcher creates a dispatcher with no listeners
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		listeners: make(map[string][]*listener),
		logger:    logger,
	}
}

// Use appends middlewares applied around every listener
func (d *Dispatcher) Use(middlewares ...Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, middlewares...)
}

// SetHub sets the Sentry hub recovered panics are reported to
func (d *Dispatcher) SetHub(hub *sentry.Hub) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hub = hub
}

// AddEventListener implements host.EventSource
func (d *Dispatcher) AddEventListener(name string, handler host.EventHandler) (host.Subscription, error) {
	if name == "" {
		return nil, fmt.Errorf("event name cannot be empty")
	}
	if handler == nil {
		return nil, sdkerrors.ErrInvalidHandler
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	l := &listener{id: d.nextID, handler: fromListener(handler)}
	d.listeners[name] = append(d.listeners[name], l)

	d.logger.Debug("Added event listener", zap.String("event", name), zap.Uint64("listener_id", l.id))
	return &subscription{dispatcher: d, name: name, id: l.id}, nil
}

// Dispatch delivers evt to every listener registered for its name
func (d *Dispatcher) Dispatch(ctx context.Context, evt host.Event) {
	d.mu.RLock()
	registered := append([]*listener(nil), d.listeners[evt.Name]...)
	wrap := Chain(d.middlewares...)
	recovery := RecoveryMiddleware(d.hub)
	d.mu.RUnlock()

	if len(registered) == 0 {
		d.logger.Debug("No listeners for event", zap.String("event", evt.Name))
		return
	}

	for _, l := range registered {
		if err := recovery(wrap(l.handler))(ctx, evt); err != nil {
			d.logger.Error("Event listener failed",
				zap.String("event", evt.Name),
				zap.Uint64("listener_id", l.id),
				zap.Error(err))
		}
	}
}

// Emit implements host.Emitter by dispatching locally
func (d *Dispatcher) Emit(ctx context.Context, evt host.Event) error {
	d.Dispatch(ctx, evt)
	return nil
}

// ListenerCount returns the number of listeners registered for name
func (d *Dispatcher) ListenerCount(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[name])
}

func (d *Dispatcher) remove(name string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.listeners[name]
	for i, l := range current {
		if l.id == id {
			d.listeners[name] = append(current[:i:i], current[i+1:]...)
			break
		}
	}
	if len(d.listeners[name]) == 0 {
		delete(d.listeners, name)
	}
}

type subscription struct {
	once       sync.Once
	dispatcher *Dispatcher
	name       string
	id         uint64
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.dispatcher.remove(s.name, s.id)
	})
	return nil
}
