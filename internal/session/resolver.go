package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/closingdesk/internal/events"
	"github.com/yoockh/closingdesk/internal/logger"
	"github.com/yoockh/closingdesk/internal/models"
	"github.com/yoockh/closingdesk/internal/utils"
)

const DefaultInitTimeout = 5 * time.Second

// SessionSource yields the caller's current session. A nil session with a nil
// error means nobody is signed in.
type SessionSource interface {
	CurrentSession(ctx context.Context) (*models.Session, error)
}

type SessionFunc func(ctx context.Context) (*models.Session, error)

func (f SessionFunc) CurrentSession(ctx context.Context) (*models.Session, error) { return f(ctx) }

// ProfileLoader returns the profile for a user. utils.ErrNotFound or a
// CodeNotFound AppError means the row does not exist.
type ProfileLoader interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
}

type SignOuter interface {
	SignOut(ctx context.Context, accessToken string) error
}

type Deps struct {
	Source      SessionSource
	Profiles    ProfileLoader
	Subscriber  events.Subscriber // optional
	Publisher   events.Publisher  // optional
	Identity    SignOuter         // optional
	InitTimeout time.Duration
	Log         *logrus.Logger
}

// Resolver tracks the session and profile of one page connection.
type Resolver struct {
	deps Deps

	initOnce  sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	state      State
	loading    bool
	session    *models.Session
	profile    *models.Profile
	profileErr error
	gen        uint64
	sub        events.Subscription
	subUser    string
	watchers   map[chan Snapshot]struct{}
}

func New(deps Deps) *Resolver {
	if deps.InitTimeout <= 0 {
		deps.InitTimeout = DefaultInitTimeout
	}
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateUninitialized,
		watchers: map[chan Snapshot]struct{}{},
	}
}

// Init resolves the session once. Later calls return immediately after the
// first one finished.
func (r *Resolver) Init(ctx context.Context) {
	r.initOnce.Do(func() { r.init(ctx) })
}

func (r *Resolver) init(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.state = StateLoading
	r.loading = true
	r.publishLocked()
	r.mu.Unlock()

	s, err := r.currentSession(ctx)
	if err != nil {
		r.deps.Log.WithError(err).Warn("session init failed, continuing anonymous")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.loading = false
	if s == nil || s.User.ID == "" {
		r.state = StateAnonymous
		r.publishLocked()
		r.mu.Unlock()
		return
	}
	r.session = s
	r.state = StateProfilePending
	r.publishLocked()
	r.mu.Unlock()

	r.subscribe(s.User.ID)
	r.goLoad()
}

// currentSession races the source against the init timeout.
func (r *Resolver) currentSession(ctx context.Context) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.deps.InitTimeout)
	defer cancel()

	type result struct {
		s   *models.Session
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := r.deps.Source.CurrentSession(ctx)
		ch <- result{s, err}
	}()

	select {
	case res := <-ch:
		return res.s, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.ctx.Done():
		return nil, r.ctx.Err()
	}
}

// subscribe switches the event feed to userID. The previous feed, if any, is
// closed and its pump exits.
func (r *Resolver) subscribe(userID string) {
	if r.deps.Subscriber == nil {
		return
	}
	r.mu.Lock()
	same := r.subUser == userID
	r.mu.Unlock()
	if same {
		return
	}
	sub, err := r.deps.Subscriber.Subscribe(r.ctx, userID)
	if err != nil {
		r.deps.Log.WithError(err).WithField("user_id", userID).Warn("auth event subscription failed")
		return
	}

	r.mu.Lock()
	if r.closed || r.subUser == userID {
		r.mu.Unlock()
		_ = sub.Close()
		return
	}
	prev := r.sub
	r.sub = sub
	r.subUser = userID
	r.wg.Add(1)
	r.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case e, ok := <-sub.Events():
				if !ok {
					return
				}
				r.handle(e)
			}
		}
	}()
}

func (r *Resolver) handle(e models.AuthEvent) {
	switch e.Type {
	case models.EventSignedOut, models.EventTokenRefreshFailed:
		r.clear()
	case models.EventSignedIn, models.EventTokenRefreshed:
		r.goReload()
	case models.EventProfileUpdated:
		r.goLoad()
	}
}

func (r *Resolver) goReload() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		_ = r.Reload(r.ctx)
	}()
}

// Reload asks the source for the current session again, swaps it in and
// reloads the profile. No session clears local state. A source error leaves
// the current state untouched.
func (r *Resolver) Reload(ctx context.Context) error {
	s, err := r.currentSession(ctx)
	if err != nil {
		r.deps.Log.WithError(err).Warn("session reload failed")
		return err
	}
	if s == nil || s.User.ID == "" {
		r.clear()
		return nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	prev := r.session
	r.session = s
	if prev == nil || prev.User.ID != s.User.ID {
		r.gen++
		r.profile = nil
		r.profileErr = nil
		r.loading = false
		r.state = StateProfilePending
		r.publishLocked()
	}
	r.mu.Unlock()

	r.subscribe(s.User.ID)
	return r.loadProfile(ctx)
}

func (r *Resolver) goLoad() {
	r.mu.Lock()
	if r.closed || r.session == nil {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		_ = r.loadProfile(r.ctx)
	}()
}

// loadProfile fetches the profile and applies it unless a newer load or a
// sign-out happened meanwhile.
func (r *Resolver) loadProfile(ctx context.Context) error {
	r.mu.Lock()
	if r.session == nil {
		r.mu.Unlock()
		return nil
	}
	r.gen++
	gen := r.gen
	userID := r.session.User.ID
	r.mu.Unlock()

	p, err := r.deps.Profiles.Get(ctx, userID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.session == nil || r.closed {
		return err
	}
	switch {
	case err == nil && p != nil:
		r.state = StateProfileLoaded
		r.profile = p
		r.profileErr = nil
	case err == nil || errors.Is(err, utils.ErrNotFound) || utils.IsCode(err, utils.CodeNotFound):
		r.state = StateProfileMissing
		r.profile = nil
		r.profileErr = nil
		err = nil
	default:
		r.deps.Log.WithError(err).WithField("user_id", userID).Warn("profile load failed")
		r.state = StateProfileMissing
		r.profile = nil
		r.profileErr = err
	}
	r.loading = false
	r.publishLocked()
	return err
}

func (r *Resolver) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.gen++
	r.session = nil
	r.profile = nil
	r.profileErr = nil
	r.loading = false
	r.state = StateAnonymous
	r.publishLocked()
}

// RefreshProfile reloads the profile synchronously.
func (r *Resolver) RefreshProfile(ctx context.Context) error {
	return r.loadProfile(ctx)
}

// SignOut revokes the session with the provider and drops local state. Local
// state is cleared even when the provider call fails.
func (r *Resolver) SignOut(ctx context.Context) error {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return nil
	}

	var err error
	if r.deps.Identity != nil {
		err = r.deps.Identity.SignOut(ctx, s.AccessToken)
	}
	r.clear()
	if r.deps.Publisher != nil {
		if perr := r.deps.Publisher.Publish(ctx, models.AuthEvent{Type: models.EventSignedOut, UserID: s.User.ID}); perr != nil {
			r.deps.Log.WithError(perr).Warn("publish SIGNED_OUT failed")
		}
	}
	if err != nil {
		return utils.E(utils.CodeUnavailable, "Resolver.SignOut", "identity provider sign-out failed", err)
	}
	return nil
}

func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Resolver) snapshotLocked() Snapshot {
	snap := Snapshot{State: r.state, Loading: r.loading, ProfileErr: r.profileErr}
	if r.session != nil {
		u := r.session.User
		snap.User = &u
	}
	if r.profile != nil {
		p := *r.profile
		snap.Profile = &p
		snap.Role = p.Kind
	}
	if r.profileErr != nil {
		snap.ProfileError = r.profileErr.Error()
	}
	return snap
}

// Watch streams snapshots, starting with the current one. Slow readers only
// ever see the latest snapshot. The channel closes on stop or Close.
func (r *Resolver) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	r.watchers[ch] = struct{}{}
	ch <- r.snapshotLocked()
	r.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.watchers[ch]; ok {
				delete(r.watchers, ch)
				close(ch)
			}
		})
	}
	return ch, stop
}

// Settled blocks until the state is settled or ctx is done, and returns the
// last snapshot seen.
func (r *Resolver) Settled(ctx context.Context) (Snapshot, error) {
	ch, stop := r.Watch()
	defer stop()

	last := r.Snapshot()
	for {
		if last.State.Settled() {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return last, context.Canceled
			}
			last = snap
		}
	}
}

func (r *Resolver) publishLocked() {
	snap := r.snapshotLocked()
	for ch := range r.watchers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Close stops the subscription, waits for in-flight loads and closes every
// watcher. It is safe to call more than once.
func (r *Resolver) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()

		r.mu.Lock()
		r.closed = true
		sub := r.sub
		r.sub = nil
		r.mu.Unlock()

		if sub != nil {
			_ = sub.Close()
		}
		r.wg.Wait()

		r.mu.Lock()
		for ch := range r.watchers {
			delete(r.watchers, ch)
			close(ch)
		}
		r.mu.Unlock()
	})
	return nil
}
