package queue

import (
	"context"
	"sync"
)

type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string][]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{queues: make(map[string][]string)}
}

func (b *MemoryBackend) Push(ctx context.Context, key, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[key] = append(b.queues[key], jobID)
	return nil
}

func (b *MemoryBackend) PushFront(ctx context.Context, key, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[key] = append([]string{jobID}, b.queues[key]...)
	return nil
}

func (b *MemoryBackend) Pop(ctx context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[key]
	if len(q) == 0 {
		return "", false, nil
	}
	jobID := q[0]
	b.queues[key] = q[1:]
	return jobID, true, nil
}

func (b *MemoryBackend) Len(ctx context.Context, key string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[key]), nil
}

func (b *MemoryBackend) Clear(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, key)
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
