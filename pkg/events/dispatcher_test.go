package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/host"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcherDeliversInSubscriptionOrder(t *testing.T) {
	d := NewDispatcher(nil)
	var order []string

	_, err := d.AddEventListener(DatasetRowProcessed, func(ctx context.Context, evt host.Event) {
		order = append(order, "first")
	})
	require.NoError(t, err)
	_, err = d.AddEventListener(DatasetRowProcessed, func(ctx context.Context, evt host.Event) {
		order = append(order, "second")
	})
	require.NoError(t, err)
	_, err = d.AddEventListener("status", func(ctx context.Context, evt host.Event) {
		order = append(order, "status")
	})
	require.NoError(t, err)

	d.Dispatch(context.Background(), host.NewEvent(DatasetRowProcessed, nil))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatcherRejectsInvalidListeners(t *testing.T) {
	d := NewDispatcher(nil)

	_, err := d.AddEventListener("", func(ctx context.Context, evt host.Event) {})
	assert.Error(t, err)

	_, err = d.AddEventListener(DatasetRowProcessed, nil)
	assert.ErrorIs(t, err, sdkerrors.ErrInvalidHandler)
}

func TestDispatcherRecoversPanickingListener(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	d := NewDispatcher(zap.New(core))

	var secondCalled bool
	_, err := d.AddEventListener(DatasetRowProcessed, func(ctx context.Context, evt host.Event) {
		panic("listener exploded")
	})
	require.NoError(t, err)
	_, err = d.AddEventListener(DatasetRowProcessed, func(ctx context.Context, evt host.Event) {
		secondCalled = true
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		require.NoError(t, d.Emit(context.Background(), host.NewEvent(DatasetRowProcessed, nil)))
	})
	assert.True(t, secondCalled)
	require.Equal(t, 1, logs.FilterMessage("Event listener failed").Len())
}

func TestDispatcherUnsubscribe(t *testing.T) {
	d := NewDispatcher(nil)
	calls := 0

	sub, err := d.AddEventListener(DatasetRowProcessed, func(ctx context.Context, evt host.Event) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 1, d.ListenerCount(DatasetRowProcessed))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, d.ListenerCount(DatasetRowProcessed))

	d.Dispatch(context.Background(), host.NewEvent(DatasetRowProcessed, nil))
	assert.Zero(t, calls)
}

func TestDispatcherAppliesMiddleware(t *testing.T) {
	d := NewDispatcher(nil)
	var seen []string
	d.Use(func(next Handler) Handler {
		return func(ctx context.Context, evt host.Event) error {
			seen = append(seen, "outer:"+evt.Name)
			return next(ctx, evt)
		}
	}, LoggingMiddleware(zap.NewNop()))

	_, err := d.AddEventListener("progress", func(ctx context.Context, evt host.Event) {
		seen = append(seen, "listener")
	})
	require.NoError(t, err)

	d.Dispatch(context.Background(), host.NewEvent("progress", nil))
	assert.Equal(t, []string{"outer:progress", "listener"}, seen)
}

func TestChainOrder(t *testing.T) {
	var trace []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, evt host.Event) error {
				trace = append(trace, name)
				return next(ctx, evt)
			}
		}
	}

	h := Chain(mw("a"), mw("b"))(func(ctx context.Context, evt host.Event) error {
		trace = append(trace, "handler")
		return errors.New("done")
	})

	assert.EqualError(t, h(context.Background(), host.Event{}), "done")
	assert.Equal(t, []string{"a", "b", "handler"}, trace)
}

func TestRecoveryMiddlewareConvertsPanic(t *testing.T) {
	h := RecoveryMiddleware(nil)(func(ctx context.Context, evt host.Event) error {
		panic("bad")
	})
	assert.EqualError(t, h(context.Background(), host.Event{}), "panic recovered: bad")
}

func TestEnvelopeRoundTrip(t *testing.T) {
	evt, err := NewRowProcessedEvent(RowProcessed{NodeID: "7", MagicNumber: 3, RowIndex: 2})
	require.NoError(t, err)
	assert.Equal(t, DatasetRowProcessed, evt.Name)

	raw, err := json.Marshal(EnvelopeFor(evt))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"dataset_row_processed","data":{"node_id":"7","magic_number":3,"row_index":2}}`, string(raw))

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, DatasetRowProcessed, env.Event().Name)
}

func TestDecodeEnvelopeRejectsMissingType(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"data":{}}`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}
