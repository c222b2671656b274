package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

func noopSetup(ctx context.Context, h *Host) error { return nil }

func TestRegistryRegister(t *testing.T) {
	tests := []struct {
		name    string
		ext     Extension
		wantErr error
	}{
		{name: "valid", ext: Extension{Name: "A", Setup: noopSetup}},
		{name: "empty name", ext: Extension{Setup: noopSetup}, wantErr: sdkerrors.ErrInvalidExtension},
		{name: "nil setup", ext: Extension{Name: "B"}, wantErr: sdkerrors.ErrInvalidExtension},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			err := r.Register(tt.ext)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, r.Names())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.ext.Name}, r.Names())
		})
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Extension{Name: "DatasetBatchAutomation", Setup: noopSetup}))

	err := r.Register(Extension{Name: "DatasetBatchAutomation", Setup: noopSetup})
	assert.ErrorIs(t, err, sdkerrors.ErrDuplicateExtension)
	assert.Len(t, r.Names(), 1)
}

func TestRegistryLoadRunsSetupOnceInOrder(t *testing.T) {
	r := NewRegistry(nil)
	var calls []string
	for _, name := range []string{"first", "second"} {
		name := name
		require.NoError(t, r.Register(Extension{Name: name, Setup: func(ctx context.Context, h *Host) error {
			calls = append(calls, name)
			return nil
		}}))
	}

	h := &Host{Graph: StaticGraph{}}
	require.NoError(t, r.Load(context.Background(), h))
	require.NoError(t, r.Load(context.Background(), h))

	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestRegistryLoadReportsSetupFailure(t *testing.T) {
	r := NewRegistry(nil)
	boom := errors.New("boom")
	require.NoError(t, r.Register(Extension{Name: "broken", Setup: func(ctx context.Context, h *Host) error {
		return boom
	}}))

	err := r.Load(context.Background(), &Host{})
	assert.ErrorIs(t, err, sdkerrors.ErrSetupFailed)
	assert.ErrorIs(t, err, boom)

	assert.Error(t, r.Load(context.Background(), nil))
}

func TestRegistryLoadRetriesAfterFailure(t *testing.T) {
	r := NewRegistry(nil)
	firstCalls, secondCalls := 0, 0
	require.NoError(t, r.Register(Extension{Name: "first", Setup: func(ctx context.Context, h *Host) error {
		firstCalls++
		if firstCalls == 1 {
			return errors.New("not ready")
		}
		return nil
	}}))
	require.NoError(t, r.Register(Extension{Name: "second", Setup: func(ctx context.Context, h *Host) error {
		secondCalls++
		return nil
	}}))

	h := &Host{}
	assert.ErrorIs(t, r.Load(context.Background(), h), sdkerrors.ErrSetupFailed)
	assert.Zero(t, secondCalls)

	require.NoError(t, r.Load(context.Background(), h))
	require.NoError(t, r.Load(context.Background(), h))
	assert.Equal(t, 2, firstCalls)
	assert.Equal(t, 1, secondCalls)
}

func TestRegistryConcurrentLoadRunsSetupOnce(t *testing.T) {
	r := NewRegistry(nil)
	var calls atomic.Int32
	require.NoError(t, r.Register(Extension{Name: "slow", Setup: func(ctx context.Context, h *Host) error {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return nil
	}}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Load(context.Background(), &Host{}))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestStaticGraphReturnsCopy(t *testing.T) {
	g := NodesOfTypes("Foo", "DatasetBatchNode")

	nodes, err := g.Nodes(context.Background())
	require.NoError(t, err)
	nodes[0] = BasicNode{Type: "Mutated"}

	assert.Equal(t, "Foo", g[0].NodeType())
}

type recordingEmitter struct {
	events []Event
	err    error
}

func (r *recordingEmitter) Emit(ctx context.Context, evt Event) error {
	r.events = append(r.events, evt)
	return r.err
}

func TestEmittersFanOut(t *testing.T) {
	ok := &recordingEmitter{}
	failing := &recordingEmitter{err: errors.New("offline")}

	err := Emitters{failing, nil, ok}.Emit(context.Background(), NewEvent("dataset_row_processed", nil))

	assert.ErrorContains(t, err, "offline")
	assert.Len(t, ok.events, 1)
	assert.Len(t, failing.events, 1)
}
