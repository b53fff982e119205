// Package session keeps the signed-in user and bearer token of a client,
// persisted in a kv.Store so other processes sharing the store see the same
// session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"backend-fittrack/internal/apiclient"
	"backend-fittrack/internal/kv"

	"github.com/sirupsen/logrus"
)

const (
	KeyToken       = "token"
	KeyTokenExpiry = "tokenExpiry"
	KeyUser        = "user"
	KeyUserData    = "userData"
	KeyJWT         = "jwt_token"
)

const (
	MsgSessionExpired     = "Session expired. Please log in again."
	MsgSessionRejected    = "Session expired. Please login again."
	MsgProfileUnavailable = "Unable to fetch user data. Please login."
	MsgLoggedOut          = "Logged out successfully!"
)

const DefaultPollInterval = time.Second

// sessionKeys are removed together whenever a session ends.
var sessionKeys = []string{KeyUser, KeyToken, KeyTokenExpiry, KeyUserData, KeyJWT}

var (
	ErrSessionExpired = errors.New("session expired")
	ErrNoSession      = errors.New("no active session")
	ErrInvalidLogin   = errors.New("login requires a token and a positive lifetime")
	// ErrStaleResponse is returned when a profile response arrives after the
	// session was changed by a newer login, logout or restore.
	ErrStaleResponse = errors.New("stale profile response")
	ErrStorage       = errors.New("session storage")
)

type User = apiclient.User

type Session struct {
	User        *User
	Token       string
	TokenExpiry time.Time
}

func (s Session) Authenticated() bool {
	return s.User != nil
}

type ProfileFetcher interface {
	FetchUser(ctx context.Context, token string) (User, error)
}

// Notifier shows one-shot messages to the user.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// WithChangeHandler is called with the new session after every change.
func WithChangeHandler(fn func(Session)) Option {
	return func(m *Manager) { m.onChange = fn }
}

func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) { m.log = log }
}

type Manager struct {
	store    kv.Store
	profiles ProfileFetcher
	notifier Notifier

	now          func() time.Time
	pollInterval time.Duration
	onChange     func(Session)
	log          *logrus.Entry

	mu     sync.Mutex
	user   *User
	token  string
	expiry time.Time
	gen    uint64

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(store kv.Store, profiles ProfileFetcher, notifier Notifier, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		profiles:     profiles,
		notifier:     notifier,
		now:          time.Now,
		pollInterval: DefaultPollInterval,
		log:          logrus.WithField("component", "session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = NewLogNotifier(m.log)
	}
	if m.pollInterval <= 0 {
		m.pollInterval = DefaultPollInterval
	}
	return m
}

// Init restores the persisted session and starts following external changes
// until Close. Only storage failures are returned; a missing, expired or
// rejected session has already been reported through the Notifier.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.RestoreSession(ctx); err != nil {
		if errors.Is(err, ErrStorage) {
			return err
		}
		m.log.WithError(err).Debug("session not restored")
	}

	syncCtx, cancel := context.WithCancel(context.Background())
	changes, err := m.subscribe(syncCtx)
	if err != nil {
		cancel()
		return err
	}
	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.follow(syncCtx, changes)
	}()
	return nil
}

// Close stops following external changes. It does not touch stored data.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// RestoreSession installs the stored session if its token is still valid and
// the server accepts it.
func (m *Manager) RestoreSession(ctx context.Context) error {
	token, expiry, valid, err := m.readCredentials(ctx)
	if err != nil {
		return err
	}

	if !valid {
		if err := m.store.Delete(ctx, sessionKeys...); err != nil {
			return fmt.Errorf("%w: clear credentials: %v", ErrStorage, err)
		}
		m.mu.Lock()
		m.gen++
		changed := m.user != nil || m.token != ""
		m.user, m.token, m.expiry = nil, "", time.Time{}
		m.mu.Unlock()

		m.notifier.Error(MsgSessionExpired)
		if changed {
			m.changed()
		}
		return ErrSessionExpired
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	user, fetchErr := m.profiles.FetchUser(ctx, token)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.log.Debug("discarding profile response for superseded session")
		return ErrStaleResponse
	}
	if fetchErr != nil {
		m.user, m.token, m.expiry = nil, "", time.Time{}
		rejected := errors.Is(fetchErr, apiclient.ErrUnauthorized)
		// An unreachable server keeps the token for a later retry, but the
		// cached profile is no longer vouched for.
		stale := []string{KeyUser, KeyUserData}
		if rejected {
			stale = sessionKeys
		}
		clearErr := m.store.Delete(ctx, stale...)
		m.mu.Unlock()

		if clearErr != nil {
			m.log.WithError(clearErr).Warn("clear rejected session")
		}

		if rejected {
			m.notifier.Error(MsgSessionRejected)
		} else {
			m.notifier.Error(MsgProfileUnavailable)
		}
		m.log.WithError(fetchErr).Warn("profile fetch failed")
		return fmt.Errorf("restore session: %w", fetchErr)
	}

	blob, err := json.Marshal(user)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("encode user: %w", err)
	}
	if err := m.store.Set(ctx, KeyUser, string(blob)); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: write user: %v", ErrStorage, err)
	}
	m.user, m.token, m.expiry = &user, token, expiry
	m.mu.Unlock()

	m.log.WithField("user_id", user.ID).Info("session restored")
	m.changed()
	return nil
}

// CompleteLogin installs a freshly authenticated session and persists it.
func (m *Manager) CompleteLogin(ctx context.Context, user User, token string, ttl time.Duration) error {
	if token == "" || ttl <= 0 {
		return ErrInvalidLogin
	}
	blob, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	m.mu.Lock()
	m.gen++
	// Stored with millisecond precision; keep memory identical so polls agree.
	expiry := time.UnixMilli(m.now().Add(ttl).UnixMilli())
	// Expiry goes first so watchers reacting to the token see a complete pair.
	writes := [][2]string{
		{KeyTokenExpiry, strconv.FormatInt(expiry.UnixMilli(), 10)},
		{KeyToken, token},
		{KeyUser, string(blob)},
	}
	for _, w := range writes {
		if err := m.store.Set(ctx, w[0], w[1]); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("%w: write %s: %v", ErrStorage, w[0], err)
		}
	}
	m.user, m.token, m.expiry = &user, token, expiry
	m.mu.Unlock()

	m.log.WithField("user_id", user.ID).Info("logged in")
	m.changed()
	return nil
}

// Logout clears the session in memory and in storage. Profile requests still
// in flight are discarded when they complete.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	m.user, m.token, m.expiry = nil, "", time.Time{}
	err := m.store.Delete(ctx, sessionKeys...)
	m.mu.Unlock()

	m.changed()
	if err != nil {
		return fmt.Errorf("%w: clear session: %v", ErrStorage, err)
	}
	m.notifier.Info(MsgLoggedOut)
	return nil
}

// PollExternalChange adopts the stored session when it differs from the one
// in memory, including when it was removed. A stored user only counts while
// the stored token is unexpired; the token and expiry are adopted with it. It
// reports whether anything changed.
func (m *Manager) PollExternalChange(ctx context.Context) (bool, error) {
	token, expiry, valid, err := m.readCredentials(ctx)
	if err != nil {
		return false, err
	}
	raw, ok, err := m.store.Get(ctx, KeyUser)
	if err != nil {
		return false, fmt.Errorf("%w: read user: %v", ErrStorage, err)
	}

	var stored *User
	if valid && ok && raw != "" {
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			m.log.WithError(err).Warn("ignoring malformed stored user")
		} else {
			stored = &u
		}
	}
	if stored == nil {
		token, expiry = "", time.Time{}
	}

	m.mu.Lock()
	if sameUser(m.user, stored) && m.token == token && m.expiry.Equal(expiry) {
		m.mu.Unlock()
		return false, nil
	}
	m.gen++
	m.user, m.token, m.expiry = stored, token, expiry
	m.mu.Unlock()

	m.changed()
	return true, nil
}

// Sync follows external changes until ctx is done: change events when the
// store is a kv.Watcher, otherwise a poll of the stored session.
func (m *Manager) Sync(ctx context.Context) error {
	changes, err := m.subscribe(ctx)
	if err != nil {
		return err
	}
	m.follow(ctx, changes)
	return ctx.Err()
}

func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked()
}

func (m *Manager) User() (User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return User{}, false
	}
	return *m.user, true
}

func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != ""
}

// BearerToken returns the token for authorizing requests, or ErrNoSession
// when there is none or it has expired.
func (m *Manager) BearerToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" || !m.now().Before(m.expiry) {
		return "", ErrNoSession
	}
	return m.token, nil
}

func (m *Manager) currentLocked() Session {
	s := Session{Token: m.token, TokenExpiry: m.expiry}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	return s
}

func (m *Manager) changed() {
	if m.onChange == nil {
		return
	}
	m.onChange(m.Current())
}

func (m *Manager) readCredentials(ctx context.Context) (string, time.Time, bool, error) {
	token, hasToken, err := m.store.Get(ctx, KeyToken)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("%w: read token: %v", ErrStorage, err)
	}
	rawExpiry, hasExpiry, err := m.store.Get(ctx, KeyTokenExpiry)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("%w: read token expiry: %v", ErrStorage, err)
	}
	if !hasToken || token == "" || !hasExpiry {
		return "", time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(rawExpiry, 10, 64)
	if err != nil {
		m.log.WithError(err).Warn("malformed token expiry")
		return "", time.Time{}, false, nil
	}
	expiry := time.UnixMilli(ms)
	if !m.now().Before(expiry) {
		return "", expiry, false, nil
	}
	return token, expiry, true, nil
}

func sameUser(a, b *User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
