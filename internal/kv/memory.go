package kv

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// watchBuffer is how many unread changes a Memory watcher may fall behind
// before further changes are dropped and logged.
const watchBuffer = 16

// Memory is a process-local store. Several session managers sharing one
// Memory observe each other's writes through Watch.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	subs   map[chan string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		values: map[string]string{},
		subs:   map[chan string]struct{}{},
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	m.notify(key)
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.values, k)
	}
	m.mu.Unlock()
	for _, k := range keys {
		m.notify(k)
	}
	return nil
}

func (m *Memory) Watch(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, watchBuffer)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) notify(key string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch := range m.subs {
		select {
		case ch <- key:
		default:
			logrus.WithFields(logrus.Fields{"key": key, "buffer": watchBuffer}).Warn("kv watcher is behind, change dropped")
		}
	}
}
