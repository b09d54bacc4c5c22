package platform

import (
	"context"
	"sync"

	"github.com/shohag/mediarelay/internal/delivery"
	"github.com/shohag/mediarelay/internal/models"
)

// Registry routes a request to the handler registered for its platform and
// falls back to the generic handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]delivery.Handler
	fallback delivery.Handler
}

func NewRegistry(fallback delivery.Handler) *Registry {
	return &Registry{
		handlers: make(map[string]delivery.Handler),
		fallback: fallback,
	}
}

func (r *Registry) Register(platform string, h delivery.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[platform] = h
}

func (r *Registry) For(platform string) delivery.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[platform]; ok {
		return h
	}
	return r.fallback
}

func (r *Registry) Handle(ctx context.Context, req models.MediaRequest) error {
	if req.Platform == "" {
		req.Platform = Detect(req.URL)
	}
	return r.For(req.Platform).Handle(ctx, req)
}
