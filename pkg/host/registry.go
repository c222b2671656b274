package host

import (
	"context"
	"fmt"
	"sync"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"go.uber.org/zap"
)

// Extension is a named unit registered with the host. Setup runs exactly once
// when the registry is loaded.
type Extension struct {
	Name  string
	Setup func(ctx context.Context, h *Host) error
}

// Registry holds extensions in registration order. It is an explicit value
// owned by whatever bootstraps the host integration.
type Registry struct {
	loadMu     sync.Mutex
	mu         sync.Mutex
	extensions []Extension
	names      map[string]struct{}
	loaded     map[string]bool
	logger     *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		names:  make(map[string]struct{}),
		loaded: make(map[string]bool),
		logger: logger,
	}
}

// Register adds an extension. Names must be non-empty and unique.
func (r *Registry) Register(ext Extension) error {
	if ext.Name == "" {
		return fmt.Errorf("%w: name cannot be empty", sdkerrors.ErrInvalidExtension)
	}
	if ext.Setup == nil {
		return fmt.Errorf("%w: extension '%s' has no setup callback", sdkerrors.ErrInvalidExtension, ext.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[ext.Name]; exists {
		return fmt.Errorf("%w: '%s'", sdkerrors.ErrDuplicateExtension, ext.Name)
	}
	r.names[ext.Name] = struct{}{}
	r.extensions = append(r.extensions, ext)

	r.logger.Info("Registered extension", zap.String("extension", ext.Name))
	return nil
}

// Load invokes the setup callback of every extension not yet loaded, in
// registration order. It stops at the first failing setup; that extension and
// the ones after it are retried by the next Load.
func (r *Registry) Load(ctx context.Context, h *Host) error {
	if h == nil {
		return fmt.Errorf("host cannot be nil")
	}

	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	r.mu.Lock()
	pending := make([]Extension, 0, len(r.extensions))
	for _, ext := range r.extensions {
		if !r.loaded[ext.Name] {
			pending = append(pending, ext)
		}
	}
	r.mu.Unlock()

	for _, ext := range pending {
		r.logger.Info("Setting up extension", zap.String("extension", ext.Name))
		if err := ext.Setup(ctx, h); err != nil {
			r.logger.Error("Extension setup failed", zap.String("extension", ext.Name), zap.Error(err))
			return sdkerrors.NewError("SETUP_FAILED", fmt.Sprintf("extension '%s'", ext.Name),
				fmt.Errorf("%w: %w", sdkerrors.ErrSetupFailed, err))
		}

		r.mu.Lock()
		r.loaded[ext.Name] = true
		r.mu.Unlock()
	}
	return nil
}

// Names returns registered extension names in registration order
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.extensions))
	for _, ext := range r.extensions {
		names = append(names, ext.Name)
	}
	return names
}
