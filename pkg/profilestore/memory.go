package profilestore

import (
	"context"
	"sync"
)

// MemoryBackend keeps the settings document in memory, e.g. for dry runs
type MemoryBackend struct {
	mutex    sync.Mutex
	settings *Settings
	writes   int
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend(initial *Settings) *MemoryBackend {
	return &MemoryBackend{settings: initial.Clone()}
}

func (b *MemoryBackend) Read(ctx context.Context) (*Settings, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.settings.Clone(), nil
}

func (b *MemoryBackend) Write(ctx context.Context, settings *Settings) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.settings = settings.Clone()
	b.writes++
	return nil
}

func (b *MemoryBackend) Writes() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.writes
}

func (b *MemoryBackend) Close() error {
	return nil
}
