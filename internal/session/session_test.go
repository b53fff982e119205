package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"backend-fittrack/internal/apiclient"
	"backend-fittrack/internal/kv"
)

type fakeFetcher struct {
	mu    sync.Mutex
	user  User
	err   error
	calls []string
	gate  chan struct{}
}

func (f *fakeFetcher) FetchUser(ctx context.Context, token string) (User, error) {
	f.mu.Lock()
	f.calls = append(f.calls, token)
	gate := f.gate
	user, err := f.user, f.err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return user, err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingNotifier struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (n *recordingNotifier) Info(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *recordingNotifier) errorMessages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.errors...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var ada = User{ID: "u1", Name: "Ada", Email: "ada@example.com", Picture: "https://example.com/ada.png"}

func newTestManager(store kv.Store, fetcher ProfileFetcher) (*Manager, *recordingNotifier, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	m := NewManager(store, fetcher, notifier, WithClock(clock.Now), WithPollInterval(10*time.Millisecond))
	return m, notifier, clock
}

func storeUser(t *testing.T, store kv.Store, user User) {
	t.Helper()
	blob, err := json.Marshal(user)
	if err != nil {
		t.Fatalf("encode user: %v", err)
	}
	if err := store.Set(context.Background(), KeyUser, string(blob)); err != nil {
		t.Fatalf("set user: %v", err)
	}
}

func storeCredentials(t *testing.T, store kv.Store, token string, expiry time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := store.Set(ctx, KeyToken, token); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if err := store.Set(ctx, KeyTokenExpiry, strconv.FormatInt(expiry.UnixMilli(), 10)); err != nil {
		t.Fatalf("set expiry: %v", err)
	}
}

func TestRestoreValidSession(t *testing.T) {
	store := kv.NewMemory()
	fetcher := &fakeFetcher{user: ada}
	m, notifier, clock := newTestManager(store, fetcher)
	storeCredentials(t, store, "tok-1", clock.Now().Add(time.Hour))

	if err := m.RestoreSession(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	user, ok := m.User()
	if !ok || user != ada {
		t.Fatalf("expected %+v, got %+v (%v)", ada, user, ok)
	}
	if tok, _ := m.Token(); tok != "tok-1" {
		t.Fatalf("expected token tok-1, got %q", tok)
	}
	if len(fetcher.calls) != 1 || fetcher.calls[0] != "tok-1" {
		t.Fatalf("unexpected fetch calls %v", fetcher.calls)
	}
	raw, ok, _ := store.Get(context.Background(), KeyUser)
	var stored User
	if !ok || json.Unmarshal([]byte(raw), &stored) != nil || stored != ada {
		t.Fatalf("expected stored user blob, got %q", raw)
	}
	if len(notifier.errorMessages()) != 0 {
		t.Fatalf("unexpected notifications %v", notifier.errorMessages())
	}
}

func TestRestoreExpiredSessionClearsCredentials(t *testing.T) {
	store := kv.NewMemory()
	fetcher := &fakeFetcher{user: ada}
	m, notifier, clock := newTestManager(store, fetcher)
	storeCredentials(t, store, "tok-1", clock.Now().Add(-time.Second))
	storeUser(t, store, ada)

	err := m.RestoreSession(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, ok := m.User(); ok {
		t.Fatalf("expected no user")
	}
	for _, key := range []string{KeyToken, KeyTokenExpiry, KeyUser} {
		if _, ok, _ := store.Get(context.Background(), key); ok {
			t.Fatalf("expected %s to be removed", key)
		}
	}
	if fetcher.callCount() != 0 {
		t.Fatalf("expired session must not fetch the profile")
	}
	if msgs := notifier.errorMessages(); len(msgs) != 1 || msgs[0] != MsgSessionExpired {
		t.Fatalf("unexpected notifications %v", msgs)
	}
}

func TestRestoreExpiryBoundaryIsExpired(t *testing.T) {
	store := kv.NewMemory()
	m, _, clock := newTestManager(store, &fakeFetcher{user: ada})
	storeCredentials(t, store, "tok-1", clock.Now())

	if err := m.RestoreSession(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired at the boundary, got %v", err)
	}
}

func TestRestoreWithoutToken(t *testing.T) {
	m, notifier, _ := newTestManager(kv.NewMemory(), &fakeFetcher{user: ada})

	if err := m.RestoreSession(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if msgs := notifier.errorMessages(); len(msgs) != 1 || msgs[0] != MsgSessionExpired {
		t.Fatalf("unexpected notifications %v", msgs)
	}
}

func TestRestoreFetchFailures(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		msg       string
		keepToken bool
	}{
		{"rejected", &apiclient.StatusError{Status: 401}, MsgSessionRejected, false},
		{"network", apiclient.ErrNetwork, MsgProfileUnavailable, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := kv.NewMemory()
			m, notifier, clock := newTestManager(store, &fakeFetcher{err: tc.err})
			storeCredentials(t, store, "tok-1", clock.Now().Add(time.Hour))
			storeUser(t, store, ada)
			ctx := context.Background()

			if err := m.RestoreSession(ctx); !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if m.Current().Authenticated() {
				t.Fatalf("expected unauthenticated session")
			}
			if msgs := notifier.errorMessages(); len(msgs) != 1 || msgs[0] != tc.msg {
				t.Fatalf("expected %q, got %v", tc.msg, msgs)
			}
			if _, ok, _ := store.Get(ctx, KeyUser); ok {
				t.Fatalf("stored user must be removed")
			}
			if _, ok, _ := store.Get(ctx, KeyToken); ok != tc.keepToken {
				t.Fatalf("token kept = %v, want %v", ok, tc.keepToken)
			}

			// A later poll must not resurrect the failed session.
			if changed, err := m.PollExternalChange(ctx); err != nil || changed {
				t.Fatalf("expected no change, got %v %v", changed, err)
			}
			if m.Current().Authenticated() {
				t.Fatalf("poll adopted a rejected session")
			}
		})
	}
}

func TestCompleteLoginThenRestore(t *testing.T) {
	store := kv.NewMemory()
	fetcher := &fakeFetcher{user: ada}
	m, _, clock := newTestManager(store, fetcher)
	ctx := context.Background()

	if err := m.CompleteLogin(ctx, ada, "tok-2", time.Hour); err != nil {
		t.Fatalf("login: %v", err)
	}
	raw, _, _ := store.Get(ctx, KeyTokenExpiry)
	if raw != strconv.FormatInt(clock.Now().Add(time.Hour).UnixMilli(), 10) {
		t.Fatalf("unexpected expiry %q", raw)
	}
	if changed, err := m.PollExternalChange(ctx); err != nil || changed {
		t.Fatalf("own login must not look like an external change: %v %v", changed, err)
	}

	other, _, _ := newTestManager(store, fetcher)
	other.now = clock.Now
	if err := other.RestoreSession(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if user, ok := other.User(); !ok || user != ada {
		t.Fatalf("expected restored user, got %+v", user)
	}

	clock.Advance(time.Hour)
	if err := other.RestoreSession(ctx); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expiry after ttl, got %v", err)
	}
}

func TestCompleteLoginValidatesInput(t *testing.T) {
	m, _, _ := newTestManager(kv.NewMemory(), &fakeFetcher{})
	if err := m.CompleteLogin(context.Background(), ada, "", time.Hour); !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin, got %v", err)
	}
	if err := m.CompleteLogin(context.Background(), ada, "tok", 0); !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin, got %v", err)
	}
}

func TestLogoutThenRestore(t *testing.T) {
	store := kv.NewMemory()
	m, notifier, _ := newTestManager(store, &fakeFetcher{user: ada})
	ctx := context.Background()

	if err := m.CompleteLogin(ctx, ada, "tok-3", time.Hour); err != nil {
		t.Fatalf("login: %v", err)
	}
	_ = store.Set(ctx, KeyUserData, `{"age":"30"}`)
	_ = store.Set(ctx, KeyJWT, "legacy")

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	for _, key := range []string{KeyToken, KeyTokenExpiry, KeyUser, KeyUserData, KeyJWT} {
		if _, ok, _ := store.Get(ctx, key); ok {
			t.Fatalf("expected %s to be removed", key)
		}
	}
	if len(notifier.infos) != 1 || notifier.infos[0] != MsgLoggedOut {
		t.Fatalf("unexpected info notifications %v", notifier.infos)
	}

	if err := m.RestoreSession(ctx); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, ok := m.User(); ok {
		t.Fatalf("expected no user after logout")
	}
	if _, err := m.BearerToken(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestLateProfileResponseIsDiscarded(t *testing.T) {
	store := kv.NewMemory()
	fetcher := &fakeFetcher{user: ada, gate: make(chan struct{})}
	m, _, clock := newTestManager(store, fetcher)
	storeCredentials(t, store, "tok-1", clock.Now().Add(time.Hour))
	ctx := context.Background()

	result := make(chan error, 1)
	go func() { result <- m.RestoreSession(ctx) }()

	deadline := time.Now().Add(time.Second)
	for fetcher.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("profile fetch never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	close(fetcher.gate)

	if err := <-result; !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("expected ErrStaleResponse, got %v", err)
	}
	if _, ok := m.User(); ok {
		t.Fatalf("late response must not install a user")
	}
	if _, ok, _ := store.Get(ctx, KeyUser); ok {
		t.Fatalf("late response must not write the user blob")
	}
}

func TestPollExternalChange(t *testing.T) {
	store := kv.NewMemory()
	m, _, clock := newTestManager(store, &fakeFetcher{})
	ctx := context.Background()

	changed, err := m.PollExternalChange(ctx)
	if err != nil || changed {
		t.Fatalf("expected no change, got %v %v", changed, err)
	}

	expiry := clock.Now().Add(time.Hour)
	storeCredentials(t, store, "tok-1", expiry)
	storeUser(t, store, ada)
	if changed, _ := m.PollExternalChange(ctx); !changed {
		t.Fatalf("expected change after external write")
	}
	if user, ok := m.User(); !ok || user != ada {
		t.Fatalf("expected adopted user, got %+v", user)
	}
	if s := m.Current(); s.Token != "tok-1" || s.TokenExpiry.UnixMilli() != expiry.UnixMilli() {
		t.Fatalf("expected adopted credentials, got %+v", s)
	}

	// Same value with different formatting is not a change.
	_ = store.Set(ctx, KeyUser, `{"email":"ada@example.com","name":"Ada","Id":"u1","picture":"https://example.com/ada.png"}`)
	if changed, _ := m.PollExternalChange(ctx); changed {
		t.Fatalf("equal user must not count as a change")
	}

	_ = store.Delete(ctx, KeyUser)
	if changed, _ := m.PollExternalChange(ctx); !changed {
		t.Fatalf("expected change after external removal")
	}
	if s := m.Current(); s.User != nil || s.Token != "" {
		t.Fatalf("expected session cleared, got %+v", s)
	}
}

func TestPollIgnoresUserWithoutValidToken(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, store kv.Store, now time.Time)
	}{
		{"no token", func(t *testing.T, store kv.Store, now time.Time) {}},
		{"expired token", func(t *testing.T, store kv.Store, now time.Time) {
			storeCredentials(t, store, "tok-1", now.Add(-time.Minute))
		}},
		{"missing expiry", func(t *testing.T, store kv.Store, now time.Time) {
			_ = store.Set(context.Background(), KeyToken, "tok-1")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := kv.NewMemory()
			m, _, clock := newTestManager(store, &fakeFetcher{})
			tc.setup(t, store, clock.Now())
			storeUser(t, store, ada)

			changed, err := m.PollExternalChange(context.Background())
			if err != nil || changed {
				t.Fatalf("expected no change, got %v %v", changed, err)
			}
			if m.Current().Authenticated() {
				t.Fatalf("user adopted without a valid token")
			}
		})
	}
}

func TestPollDropsSessionOnceTokenExpires(t *testing.T) {
	store := kv.NewMemory()
	m, _, clock := newTestManager(store, &fakeFetcher{})
	ctx := context.Background()
	storeCredentials(t, store, "tok-1", clock.Now().Add(time.Minute))
	storeUser(t, store, ada)

	if changed, _ := m.PollExternalChange(ctx); !changed {
		t.Fatalf("expected stored session to be adopted")
	}
	clock.Advance(2 * time.Minute)
	if changed, _ := m.PollExternalChange(ctx); !changed {
		t.Fatalf("expected expiry to count as a change")
	}
	if m.Current().Authenticated() {
		t.Fatalf("expired session still authenticated")
	}
}

// pollingStore hides Memory's Watch so the manager falls back to polling.
type pollingStore struct {
	kv.Store
}

func TestSyncPollsWithoutWatcher(t *testing.T) {
	mem := kv.NewMemory()
	changes := make(chan Session, 4)
	clock := &fakeClock{now: time.Now()}
	m := NewManager(pollingStore{mem}, &fakeFetcher{}, &recordingNotifier{},
		WithClock(clock.Now),
		WithPollInterval(5*time.Millisecond),
		WithChangeHandler(func(s Session) {
			select {
			case changes <- s:
			default:
			}
		}),
	)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer m.Close()

	storeCredentials(t, mem, "tok-1", clock.Now().Add(time.Hour))
	storeUser(t, mem, ada)

	select {
	case s := <-changes:
		if s.User == nil || *s.User != ada || s.Token != "tok-1" {
			t.Fatalf("unexpected session %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("poll never picked up the stored user")
	}

	// Another process rotates the token.
	other := NewManager(pollingStore{mem}, &fakeFetcher{}, &recordingNotifier{}, WithClock(clock.Now))
	if err := other.CompleteLogin(context.Background(), ada, "tok-2", time.Hour); err != nil {
		t.Fatalf("login: %v", err)
	}
	deadline := time.After(time.Second)
	for {
		select {
		case s := <-changes:
			if s.Token == "tok-2" && s.User != nil && *s.User == ada {
				return
			}
		case <-deadline:
			t.Fatalf("poll never picked up the rotated token, current %+v", m.Current())
		}
	}
}

func TestInitWithExpiredTokenStaysSignedOutWhilePolling(t *testing.T) {
	mem := kv.NewMemory()
	m, notifier, clock := newTestManager(pollingStore{mem}, &fakeFetcher{user: ada})
	storeCredentials(t, mem, "tok-1", clock.Now().Add(-time.Hour))
	storeUser(t, mem, ada)

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer m.Close()

	// Let several poll intervals pass.
	time.Sleep(50 * time.Millisecond)

	if s := m.Current(); s.Authenticated() || s.Token != "" {
		t.Fatalf("expected signed-out session, got %+v", s)
	}
	if _, ok, _ := mem.Get(context.Background(), KeyUser); ok {
		t.Fatalf("stale user left in storage")
	}
	if msgs := notifier.errorMessages(); len(msgs) != 1 || msgs[0] != MsgSessionExpired {
		t.Fatalf("unexpected notifications %v", msgs)
	}
}

func TestWatcherSyncsLoginAcrossManagers(t *testing.T) {
	store := kv.NewMemory()
	fetcher := &fakeFetcher{user: ada}
	clock := &fakeClock{now: time.Now()}

	changes := make(chan Session, 8)
	follower := NewManager(store, fetcher, &recordingNotifier{},
		WithClock(clock.Now),
		WithChangeHandler(func(s Session) {
			select {
			case changes <- s:
			default:
			}
		}),
	)
	if err := follower.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer follower.Close()

	leader := NewManager(store, fetcher, &recordingNotifier{}, WithClock(clock.Now))
	if err := leader.CompleteLogin(context.Background(), ada, "tok-9", time.Hour); err != nil {
		t.Fatalf("login: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case s := <-changes:
			if s.Token == "tok-9" && s.User != nil && *s.User == ada {
				return
			}
		case <-deadline:
			t.Fatalf("follower never adopted the login, current %+v", follower.Current())
		}
	}
}
