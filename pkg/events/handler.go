package events

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/wehubfusion/Daedalus/pkg/host"
	"go.uber.org/zap"
)

// Handler processes a dispatched event. Errors stay inside the dispatcher:
// they are logged, never returned to the emitter.
type Handler func(ctx context.Context, evt host.Event) error

// Middleware is a function that wraps a handler to add additional functionality
type Middleware func(Handler) Handler

// Chain chains multiple middlewares together. The first middleware is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// RecoveryMiddleware recovers from panics in event handlers. When hub is not
// nil the panic is also reported to Sentry.
func RecoveryMiddleware(hub *sentry.Hub) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt host.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					if hub != nil {
						hub.WithScope(func(scope *sentry.Scope) {
							scope.SetTag("event", evt.Name)
							hub.RecoverWithContext(ctx, r)
						})
					}
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, evt)
		}
	}
}

// LoggingMiddleware logs event processing using structured logging
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, evt host.Event) error {
			fields := []zap.Field{
				zap.String("event", evt.Name),
				zap.Int("detail_bytes", len(evt.Detail)),
			}

			logger.Debug("Dispatching event", fields...)
			err := next(ctx, evt)
			if err != nil {
				logger.Error("Error handling event", append(fields, zap.Error(err))...)
			}
			return err
		}
	}
}

func fromListener(h host.EventHandler) Handler {
	return func(ctx context.Context, evt host.Event) error {
		h(ctx, evt)
		return nil
	}
}
