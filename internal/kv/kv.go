// Package kv holds the string key-value stores backing client sessions.
package kv

import "context"

type Store interface {
	// Get reports ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Watcher is implemented by stores that can push change notifications. The
// returned channel carries changed keys and closes when ctx is done.
type Watcher interface {
	Watch(ctx context.Context) (<-chan string, error)
}
