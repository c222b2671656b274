package main

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"
	internalnats "github.com/wehubfusion/Daedalus/internal/nats"
	"github.com/wehubfusion/Daedalus/internal/tracing"
	"github.com/wehubfusion/Daedalus/pkg/bus"
	"github.com/wehubfusion/Daedalus/pkg/config"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app holds what both commands share: the event dispatcher and the optional
// Sentry, tracing and NATS integrations.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	dispatcher *events.Dispatcher
	conn       bus.Conn
	cleanup    []func()
}

func newLogger(cfg config.ServiceConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", cfg.Name)), nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:        cfg,
		logger:     logger,
		dispatcher: events.NewDispatcher(logger),
	}
	a.dispatcher.Use(events.LoggingMiddleware(logger))

	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
			ServerName:  cfg.Service.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
		a.dispatcher.SetHub(sentry.CurrentHub())
		a.cleanup = append(a.cleanup, func() { sentry.Flush(2 * time.Second) })
		logger.Info("Sentry error reporting enabled", zap.String("environment", cfg.Sentry.Environment))
	}

	shutdown, err := tracing.SetupTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cleanup = append(a.cleanup, func() { _ = tracing.ShutdownTracing(shutdown, logger) })

	if cfg.NATS.Enabled() {
		nc, err := internalnats.Connect(ctx, &cfg.NATS.Connection, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("Connected to NATS",
			zap.String("url", nc.ConnectedUrl()),
			zap.String("subject_prefix", cfg.NATS.SubjectPrefix))
		a.conn = bus.WrapConn(nc)
		a.cleanup = append(a.cleanup, func() { closeNATS(nc, logger) })
	}
	return a, nil
}

func closeNATS(nc *nats.Conn, logger *zap.Logger) {
	if !internalnats.IsConnected(nc) {
		logger.Warn("NATS connection lost before shutdown, closing without drain")
		if nc != nil {
			nc.Close()
		}
		return
	}
	if err := internalnats.Close(nc); err != nil {
		logger.Warn("Failed to drain NATS connection", zap.Error(err))
	}
}

// Close releases integrations in reverse order of setup
func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
