package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yoockh/closingdesk/internal/events"
	"github.com/yoockh/closingdesk/internal/models"
	"github.com/yoockh/closingdesk/internal/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProfiles struct {
	mu    sync.Mutex
	rows  map[string]*models.Profile
	err   error
	calls atomic.Int32
}

func (f *fakeProfiles) Get(_ context.Context, id string) (*models.Profile, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.rows[id]
	if !ok {
		return nil, utils.E(utils.CodeNotFound, "fake.Get", "profile not found", utils.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) set(p *models.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[p.ID] = p
}

type fakeSignOut struct {
	token string
	err   error
}

func (f *fakeSignOut) SignOut(_ context.Context, token string) error {
	f.token = token
	return f.err
}

func staticSession(userID string) SessionSource {
	return SessionFunc(func(context.Context) (*models.Session, error) {
		return &models.Session{AccessToken: "at-" + userID, User: models.Identity{ID: userID, Email: userID + "@example.com"}}, nil
	})
}

// swapSource is a session source whose answer can change between calls.
type swapSource struct {
	mu  sync.Mutex
	s   *models.Session
	err error
}

func (f *swapSource) CurrentSession(context.Context) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.s == nil {
		return nil, f.err
	}
	cp := *f.s
	return &cp, f.err
}

func (f *swapSource) set(userID, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if userID == "" {
		f.s = nil
		return
	}
	f.s = &models.Session{AccessToken: token, User: models.Identity{ID: userID, Email: userID + "@example.com"}}
}

func (f *swapSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func profileOf(id string, role models.Role) *models.Profile {
	p := &models.Profile{ID: id, OnboardingCompleted: true}
	p.SetRole(role)
	return p
}

func settle(t *testing.T, r *Resolver) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := r.Settled(ctx)
	require.NoError(t, err)
	return snap
}

func TestDefaultInitTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, DefaultInitTimeout)
	r := New(Deps{Source: staticSession("u"), Profiles: &fakeProfiles{}})
	defer r.Close()
	assert.Equal(t, DefaultInitTimeout, r.deps.InitTimeout)
	assert.Equal(t, StateUninitialized, r.Snapshot().State)
}

func TestInitAnonymousWithoutSession(t *testing.T) {
	r := New(Deps{
		Source:   SessionFunc(func(context.Context) (*models.Session, error) { return nil, nil }),
		Profiles: &fakeProfiles{},
	})
	defer r.Close()

	r.Init(context.Background())
	snap := r.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.User)
}

func TestInitTimeoutGoesAnonymous(t *testing.T) {
	hang := SessionFunc(func(ctx context.Context) (*models.Session, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r := New(Deps{Source: hang, Profiles: &fakeProfiles{}, InitTimeout: 50 * time.Millisecond})
	defer r.Close()

	done := make(chan struct{})
	go func() {
		r.Init(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Init hung past its timeout")
	}
	snap := r.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.False(t, snap.Loading)
}

func TestInitSourceErrorGoesAnonymous(t *testing.T) {
	r := New(Deps{
		Source:   SessionFunc(func(context.Context) (*models.Session, error) { return nil, errors.New("provider down") }),
		Profiles: &fakeProfiles{},
	})
	defer r.Close()

	r.Init(context.Background())
	assert.Equal(t, StateAnonymous, r.Snapshot().State)
}

func TestProfileLoaded(t *testing.T) {
	profiles := &fakeProfiles{rows: map[string]*models.Profile{"u1": profileOf("u1", models.RoleAttorney)}}
	r := New(Deps{Source: staticSession("u1"), Profiles: profiles})
	defer r.Close()

	r.Init(context.Background())
	snap := settle(t, r)
	assert.Equal(t, StateProfileLoaded, snap.State)
	assert.False(t, snap.Loading)
	require.NotNil(t, snap.User)
	assert.Equal(t, "u1", snap.User.ID)
	require.NotNil(t, snap.Profile)
	assert.Equal(t, models.RoleAttorney, snap.Role)
	assert.NoError(t, snap.ProfileErr)
}

func TestProfileMissingIsNotAnError(t *testing.T) {
	r := New(Deps{Source: staticSession("u1"), Profiles: &fakeProfiles{rows: map[string]*models.Profile{}}})
	defer r.Close()

	r.Init(context.Background())
	snap := settle(t, r)
	assert.Equal(t, StateProfileMissing, snap.State)
	assert.Nil(t, snap.Profile)
	assert.NoError(t, snap.ProfileErr)
	assert.Empty(t, snap.ProfileError)
	assert.False(t, snap.Loading)
}

func TestProfileLoadErrorIsRecorded(t *testing.T) {
	profiles := &fakeProfiles{err: errors.New("connection reset")}
	r := New(Deps{Source: staticSession("u1"), Profiles: profiles})
	defer r.Close()

	r.Init(context.Background())
	snap := settle(t, r)
	assert.Equal(t, StateProfileMissing, snap.State)
	assert.Nil(t, snap.Profile)
	assert.Error(t, snap.ProfileErr)
	assert.Equal(t, "connection reset", snap.ProfileError)
}

func TestInitRunsOnce(t *testing.T) {
	var calls atomic.Int32
	src := SessionFunc(func(context.Context) (*models.Session, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})
	r := New(Deps{Source: src, Profiles: &fakeProfiles{}})
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Init(context.Background())
		}()
	}
	wg.Wait()
	r.Init(context.Background())

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, StateAnonymous, r.Snapshot().State)
}

func TestEventsClearAndReload(t *testing.T) {
	bus := events.NewMemoryBus()
	profiles := &fakeProfiles{rows: map[string]*models.Profile{"u1": profileOf("u1", models.RoleCustomer)}}
	src := &swapSource{}
	src.set("u1", "at-u1")
	r := New(Deps{Source: src, Profiles: profiles, Subscriber: bus, Publisher: bus})
	defer r.Close()

	r.Init(context.Background())
	snap := settle(t, r)
	require.Equal(t, models.RoleCustomer, snap.Role)

	profiles.set(profileOf("u1", models.RoleLawFirm))
	require.NoError(t, bus.Publish(context.Background(), models.AuthEvent{Type: models.EventProfileUpdated, UserID: "u1"}))
	assert.Eventually(t, func() bool {
		return r.Snapshot().Role == models.RoleLawFirm
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), models.AuthEvent{Type: models.EventTokenRefreshFailed, UserID: "u1"}))
	assert.Eventually(t, func() bool {
		s := r.Snapshot()
		return s.State == StateAnonymous && s.User == nil && s.Profile == nil
	}, 2*time.Second, 5*time.Millisecond)

	// The source has no session either, so a refresh event keeps the page anonymous.
	src.set("", "")
	before := profiles.calls.Load()
	require.NoError(t, bus.Publish(context.Background(), models.AuthEvent{Type: models.EventTokenRefreshed, UserID: "u1"}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, profiles.calls.Load())
	assert.Equal(t, StateAnonymous, r.Snapshot().State)
}

func TestSignedInAfterSignOutLoadsAgain(t *testing.T) {
	bus := events.NewMemoryBus()
	profiles := &fakeProfiles{rows: map[string]*models.Profile{"u1": profileOf("u1", models.RoleCustomer)}}
	r := New(Deps{Source: staticSession("u1"), Profiles: profiles, Subscriber: bus, Publisher: bus, Identity: &fakeSignOut{}})
	defer r.Close()

	r.Init(context.Background())
	settle(t, r)
	require.NoError(t, r.SignOut(context.Background()))
	require.Equal(t, StateAnonymous, r.Snapshot().State)

	require.NoError(t, bus.Publish(context.Background(), models.AuthEvent{Type: models.EventSignedIn, UserID: "u1"}))
	assert.Eventually(t, func() bool {
		s := r.Snapshot()
		return s.State == StateProfileLoaded && s.User != nil && s.User.ID == "u1" && s.Role == models.RoleCustomer
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTokenRefreshedSwapsSession(t *testing.T) {
	bus := events.NewMemoryBus()
	idp := &fakeSignOut{}
	src := &swapSource{}
	src.set("u1", "at-old")
	profiles := &fakeProfiles{rows: map[string]*models.Profile{"u1": profileOf("u1", models.RoleCustomer)}}
	r := New(Deps{Source: src, Profiles: profiles, Subscriber: bus, Publisher: bus, Identity: idp})
	defer r.Close()

	r.Init(context.Background())
	settle(t, r)
	require.Equal(t, int32(1), profiles.calls.Load())

	src.set("u1", "at-new")
	require.NoError(t, bus.Publish(context.Background(), models.AuthEvent{Type: models.EventTokenRefreshed, UserID: "u1"}))
	require.Eventually(t, func() bool { return profiles.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return r.Snapshot().State == StateProfileLoaded }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.SignOut(context.Background()))
	assert.Equal(t, "at-new", idp.token)
}

func TestReloadPicksUpSessionAfterAnonymousInit(t *testing.T) {
	bus := events.NewMemoryBus()
	src := &swapSource{}
	profiles := &fakeProfiles{rows: map[string]*models.Profile{"u2": profileOf("u2", models.RoleCustomer)}}
	r := New(Deps{Source: src, Profiles: profiles, Subscriber: bus, Publisher: bus})
	defer r.Close()

	r.Init(context.Background())
	require.Equal(t, StateAnonymous, settle(t, r).State)

	src.set("u2", "at-u2")
	require.NoError(t, r.Reload(context.Background()))
	snap := r.Snapshot()
	assert.Equal(t, StateProfileLoaded, snap.State)
	require.NotNil(t, snap.User)
	assert.Equal(t, "u2", snap.User.ID)

	// the reload subscribed to the new user's events
	profiles.set(profileOf("u2", models.RoleTitleCompany))
	require.NoError(t, bus.Publish(context.Background(), models.AuthEvent{Type: models.EventProfileUpdated, UserID: "u2"}))
	assert.Eventually(t, func() bool {
		return r.Snapshot().Role == models.RoleTitleCompany
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReloadSourceErrorKeepsState(t *testing.T) {
	src := &swapSource{}
	src.set("u1", "at-u1")
	profiles := &fakeProfiles{rows: map[string]*models.Profile{"u1": profileOf("u1", models.RoleLawFirm)}}
	r := New(Deps{Source: src, Profiles: profiles})
	defer r.Close()

	r.Init(context.Background())
	settle(t, r)

	src.fail(errors.New("provider down"))
	require.Error(t, r.Reload(context.Background()))
	snap := r.Snapshot()
	assert.Equal(t, StateProfileLoaded, snap.State)
	assert.Equal(t, models.RoleLawFirm, snap.Role)
}

func TestSignOutClearsAndPublishes(t *testing.T) {
	bus := events.NewMemoryBus()
	idp := &fakeSignOut{}
	profiles := &fakeProfiles{rows: map[string]*models.Profile{"u1": profileOf("u1", models.RoleAdmin)}}
	r := New(Deps{Source: staticSession("u1"), Profiles: profiles, Subscriber: bus, Publisher: bus, Identity: idp})
	defer r.Close()

	r.Init(context.Background())
	settle(t, r)

	require.NoError(t, r.SignOut(context.Background()))
	assert.Equal(t, "at-u1", idp.token)
	assert.Equal(t, StateAnonymous, r.Snapshot().State)

	evs := bus.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, models.EventSignedOut, evs[0].Type)

	// A second sign-out is a no-op.
	require.NoError(t, r.SignOut(context.Background()))
	assert.Len(t, bus.Events(), 1)
}

func TestSignOutProviderFailureStillClears(t *testing.T) {
	idp := &fakeSignOut{err: errors.New("boom")}
	r := New(Deps{Source: staticSession("u1"), Profiles: &fakeProfiles{rows: map[string]*models.Profile{}}, Identity: idp})
	defer r.Close()

	r.Init(context.Background())
	settle(t, r)

	err := r.SignOut(context.Background())
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
	assert.Equal(t, StateAnonymous, r.Snapshot().State)
}

func TestRefreshProfileIsSynchronous(t *testing.T) {
	profiles := &fakeProfiles{rows: map[string]*models.Profile{}}
	r := New(Deps{Source: staticSession("u1"), Profiles: profiles})
	defer r.Close()

	r.Init(context.Background())
	assert.Equal(t, StateProfileMissing, settle(t, r).State)

	profiles.set(profileOf("u1", models.RoleTitleCompany))
	require.NoError(t, r.RefreshProfile(context.Background()))
	snap := r.Snapshot()
	assert.Equal(t, StateProfileLoaded, snap.State)
	assert.Equal(t, models.RoleTitleCompany, snap.Role)
}

func TestWatchSeesTransitionsAndClosesOnClose(t *testing.T) {
	profiles := &fakeProfiles{rows: map[string]*models.Profile{"u1": profileOf("u1", models.RoleCustomer)}}
	r := New(Deps{Source: staticSession("u1"), Profiles: profiles})

	ch, stop := r.Watch()
	defer stop()
	first := <-ch
	assert.Equal(t, StateUninitialized, first.State)

	r.Init(context.Background())

	var last Snapshot
	assert.Eventually(t, func() bool {
		for {
			select {
			case s := <-ch:
				last = s
			default:
				return last.State == StateProfileLoaded
			}
		}
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Close())
	_, ok := <-ch
	assert.False(t, ok)
	require.NoError(t, r.Close())
}

func TestSnapshotIsACopy(t *testing.T) {
	profiles := &fakeProfiles{rows: map[string]*models.Profile{"u1": profileOf("u1", models.RoleCustomer)}}
	r := New(Deps{Source: staticSession("u1"), Profiles: profiles})
	defer r.Close()

	r.Init(context.Background())
	snap := settle(t, r)
	snap.Profile.FullName = "mutated"
	snap.User.Email = "mutated"

	again := r.Snapshot()
	assert.Empty(t, again.Profile.FullName)
	assert.Equal(t, "u1@example.com", again.User.Email)
}

func TestStateNames(t *testing.T) {
	b, err := StateProfilePending.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "authenticated_profile_pending", string(b))
	assert.True(t, StateProfileMissing.Authenticated())
	assert.False(t, StateLoading.Settled())
	assert.Equal(t, "state(42)", State(42).String())
}
