package comfy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/host"
	"go.uber.org/zap"
)

// Dispatcher receives events read from the websocket
type Dispatcher interface {
	Dispatch(ctx context.Context, evt host.Event)
}

// Listener reads the ComfyUI /ws stream and dispatches every JSON message as
// a host event. Binary frames (previews) are skipped.
type Listener struct {
	url        string
	dialer     *websocket.Dialer
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewListener creates a listener for the websocket at wsURL
func NewListener(wsURL string, dispatcher Dispatcher, logger *zap.Logger) (*Listener, error) {
	if wsURL == "" {
		return nil, fmt.Errorf("websocket URL cannot be empty")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		url: wsURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Run connects and reads until ctx is cancelled or the connection fails.
// A cancelled context returns ctx.Err().
func (l *Listener) Run(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", l.url, err)
	}
	l.logger.Info("Connected to ComfyUI websocket", zap.String("url", l.url))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Info("ComfyUI websocket closed")
				return nil
			}
			return fmt.Errorf("websocket read failed: %w", err)
		}

		if msgType != websocket.TextMessage {
			continue
		}

		env, err := events.DecodeEnvelope(data)
		if err != nil {
			l.logger.Warn("Skipping undecodable websocket message", zap.Error(err))
			continue
		}

		l.logger.Debug("Received ComfyUI event", zap.String("event", env.Type))
		l.dispatcher.Dispatch(ctx, env.Event())
	}
}
