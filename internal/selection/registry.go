package selection

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrHandleNotFound is returned when a display handle was never issued or
// has already been released.
var ErrHandleNotFound = errors.New("display handle not found")

// Registry issues display handles for image bytes. A handle stays valid
// until it is released.
type Registry interface {
	Issue(ctx context.Context, data []byte) (string, error)
	Release(ctx context.Context, handle string) error
	Open(ctx context.Context, handle string) ([]byte, error)
}

// MemoryRegistry keeps preview bytes in process memory.
type MemoryRegistry struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{blobs: make(map[string][]byte)}
}

func (r *MemoryRegistry) Issue(_ context.Context, data []byte) (string, error) {
	handle := uuid.NewString()
	r.mu.Lock()
	r.blobs[handle] = data
	r.mu.Unlock()
	return handle, nil
}

func (r *MemoryRegistry) Release(_ context.Context, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blobs[handle]; !ok {
		return ErrHandleNotFound
	}
	delete(r.blobs, handle)
	return nil
}

func (r *MemoryRegistry) Open(_ context.Context, handle string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.blobs[handle]
	if !ok {
		return nil, ErrHandleNotFound
	}
	return data, nil
}

// Len reports how many handles are live.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}
