package main

import (
	"context"
	"net/http"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/automation"
	"github.com/wehubfusion/Daedalus/pkg/bus"
	"github.com/wehubfusion/Daedalus/pkg/comfy"
	"github.com/wehubfusion/Daedalus/pkg/host"
	"go.uber.org/zap"
)

const reconnectDelay = 5 * time.Second

// runAutomate requeues the ComfyUI workflow whenever its dataset batch node
// reports a processed row. Events arrive over the ComfyUI websocket and, when
// configured, over NATS.
func runAutomate(ctx context.Context, a *app) error {
	cfg := a.cfg.Comfy

	client, err := comfy.NewClient(cfg.URL,
		comfy.WithClientID(cfg.ClientID),
		comfy.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		comfy.WithLogger(a.logger))
	if err != nil {
		return err
	}

	source := comfy.WorkflowFile{Path: cfg.Workflow}
	queue, err := comfy.NewQueue(client, source, a.logger)
	if err != nil {
		return err
	}

	reg := host.NewRegistry(a.logger)
	if _, err := automation.Register(reg, a.logger); err != nil {
		return err
	}
	h := &host.Host{Graph: source, Events: a.dispatcher, Queue: queue}
	if err := reg.Load(ctx, h); err != nil {
		return err
	}

	if a.conn != nil {
		bridge, err := bus.NewBridge(a.conn, a.cfg.NATS.SubjectPrefix, a.dispatcher, a.logger)
		if err != nil {
			return err
		}
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := bridge.Stop(); err != nil {
				a.logger.Warn("Failed to stop NATS bridge", zap.Error(err))
			}
		}()
	}

	listener, err := comfy.NewListener(client.WebsocketURL(), a.dispatcher, a.logger)
	if err != nil {
		return err
	}

	a.logger.Info("Automation running",
		zap.String("comfy_url", cfg.URL),
		zap.String("workflow", cfg.Workflow),
		zap.Strings("extensions", reg.Names()))

	for {
		err := listener.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("ComfyUI event stream ended, reconnecting",
			zap.Duration("delay", reconnectDelay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}
