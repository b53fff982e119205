package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-fittrack/internal/kv"
)

// subscribe returns the store's change feed, or nil when the store cannot
// push changes and follow has to poll.
func (m *Manager) subscribe(ctx context.Context) (<-chan string, error) {
	w, ok := m.store.(kv.Watcher)
	if !ok {
		return nil, nil
	}
	changes, err := w.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: watch: %v", ErrStorage, err)
	}
	return changes, nil
}

func (m *Manager) follow(ctx context.Context, changes <-chan string) {
	if changes == nil {
		m.poll(ctx)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-changes:
			if !ok {
				return
			}
			m.handleChange(ctx, key)
		}
	}
}

func (m *Manager) poll(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.PollExternalChange(ctx); err != nil && ctx.Err() == nil {
				m.log.WithError(err).Warn("poll stored session")
			}
		}
	}
}

func (m *Manager) handleChange(ctx context.Context, key string) {
	switch key {
	case KeyUser:
		if _, err := m.PollExternalChange(ctx); err != nil && ctx.Err() == nil {
			m.log.WithError(err).Warn("sync stored user")
		}
	case KeyToken:
		stored, _, err := m.store.Get(ctx, KeyToken)
		if err != nil {
			if ctx.Err() == nil {
				m.log.WithError(err).Warn("sync stored token")
			}
			return
		}
		current, _ := m.Token()
		if stored == current {
			return
		}
		if stored == "" {
			// The user is only kept alongside a valid token.
			if _, err := m.PollExternalChange(ctx); err != nil && ctx.Err() == nil {
				m.log.WithError(err).Warn("sync removed token")
			}
			return
		}
		err = m.RestoreSession(ctx)
		if err != nil && !errors.Is(err, ErrSessionExpired) && !errors.Is(err, ErrStaleResponse) && ctx.Err() == nil {
			m.log.WithError(err).Warn("restore after token change")
		}
	}
}
