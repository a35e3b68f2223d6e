package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/closingdesk/internal/events"
	"github.com/yoockh/closingdesk/internal/logger"
	"github.com/yoockh/closingdesk/internal/models"
	"github.com/yoockh/closingdesk/internal/providers/identity"
)

type guardFixture struct {
	idp        *fakeIdentity
	onboarding *fakeOnboarding
	bus        *events.MemoryBus
	router     *gin.Engine
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()
	f := &guardFixture{
		idp: &fakeIdentity{refresh: func(string) (*models.Session, error) {
			return nil, errors.New("refresh not expected")
		}},
		onboarding: &fakeOnboarding{done: map[string]bool{}},
		bus:        events.NewMemoryBus(),
	}

	r := gin.New()
	r.Use(RouteGuard(GuardDeps{
		Cookies:  testCodec(),
		Verifier: testVerifier(),
		Identity: f.idp,
		Profiles: f.onboarding,
		Events:   f.bus,
		Log:      logger.Discard(),
		Now:      func() time.Time { return testNow },
	}))
	r.GET("/*path", func(c *gin.Context) {
		c.String(http.StatusOK, "user=%s", c.GetString(CtxUserID))
	})
	f.router = r
	return f
}

func TestGuardRedirectsAnonymousFromProtectedPath(t *testing.T) {
	f := newGuardFixture(t)

	for _, p := range []string{"/dashboard", "/admin/users", "/onboarding"} {
		rec := get(f.router, p)
		assert.Equal(t, http.StatusTemporaryRedirect, rec.Code, p)
		assert.Equal(t, "/?auth=required", rec.Header().Get("Location"), p)
	}
}

func TestGuardRedirectsIncompleteOnboarding(t *testing.T) {
	f := newGuardFixture(t)
	cookies := sessionCookies(t, signedSession(t, "u1", testNow.Add(time.Hour)))

	rec := get(f.router, "/dashboard", cookies...)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/onboarding", rec.Header().Get("Location"))

	rec = get(f.router, "/onboarding/contact", cookies...)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user=u1", rec.Body.String())
}

func TestGuardMissingProfileOrCheckErrorGoesToOnboarding(t *testing.T) {
	f := newGuardFixture(t)
	f.onboarding.err = errors.New("db down")
	cookies := sessionCookies(t, signedSession(t, "u1", testNow.Add(time.Hour)))

	rec := get(f.router, "/orders", cookies...)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/onboarding", rec.Header().Get("Location"))
}

func TestGuardPassesCompletedUser(t *testing.T) {
	f := newGuardFixture(t)
	f.onboarding.done["u1"] = true
	cookies := sessionCookies(t, signedSession(t, "u1", testNow.Add(time.Hour)))

	rec := get(f.router, "/dashboard", cookies...)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user=u1", rec.Body.String())
	assert.Empty(t, f.idp.refreshed)
	assert.Empty(t, f.bus.Events())
}

func TestGuardNeverRedirectsPublicPaths(t *testing.T) {
	f := newGuardFixture(t)
	incomplete := sessionCookies(t, signedSession(t, "u1", testNow.Add(time.Hour)))

	for _, p := range []string{"/", "/search", "/search/ny", "/law-firms/42", "/robots.txt", "/auth/callback", "/api/session"} {
		rec := get(f.router, p)
		assert.Equal(t, http.StatusOK, rec.Code, "anonymous "+p)

		rec = get(f.router, p, incomplete...)
		assert.Equal(t, http.StatusOK, rec.Code, "incomplete "+p)
		assert.Equal(t, "user=u1", rec.Body.String(), p)
	}
}

func TestGuardSkipsStaticAssets(t *testing.T) {
	f := newGuardFixture(t)
	garbage := &http.Cookie{Name: "sb-proj-auth-token", Value: "base64-%%%"}

	rec := get(f.router, "/_next/static/chunk.js", garbage)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user=", rec.Body.String())
}

func TestGuardRefreshesExpiringSession(t *testing.T) {
	f := newGuardFixture(t)
	f.onboarding.done["u1"] = true
	fresh := signedSession(t, "u1", testNow.Add(time.Hour))
	fresh.RefreshToken = "rt-rotated"
	f.idp.refresh = func(string) (*models.Session, error) { return fresh, nil }

	// Inside the 10s leeway counts as expiring.
	old := signedSession(t, "u1", testNow.Add(5*time.Second))
	rec := get(f.router, "/dashboard", sessionCookies(t, old)...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"rt-u1"}, f.idp.refreshed)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			req.AddCookie(c)
		}
	}
	got, err := testCodec().Read(req)
	require.NoError(t, err)
	assert.Equal(t, "rt-rotated", got.RefreshToken)

	evs := f.bus.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, models.EventTokenRefreshed, evs[0].Type)
	assert.Equal(t, "u1", evs[0].UserID)
	assert.Equal(t, "/dashboard", evs[0].Path)
}

func TestGuardRefreshesExpiredSession(t *testing.T) {
	f := newGuardFixture(t)
	f.onboarding.done["u1"] = true
	fresh := signedSession(t, "u1", testNow.Add(time.Hour))
	fresh.User = models.Identity{}
	f.idp.refresh = func(string) (*models.Session, error) { return fresh, nil }

	rec := get(f.router, "/dashboard", sessionCookies(t, signedSession(t, "u1", testNow.Add(-time.Hour)))...)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user=u1", rec.Body.String())
}

func TestGuardRefreshRejectedClearsEveryAuthCookie(t *testing.T) {
	f := newGuardFixture(t)
	f.idp.refresh = func(string) (*models.Session, error) { return nil, identity.ErrRefreshTokenInvalid }

	cookies := sessionCookies(t, signedSession(t, "u1", testNow.Add(-time.Minute)))
	cookies = append(cookies,
		&http.Cookie{Name: "sb-proj-auth-token-code-verifier", Value: "v"},
		&http.Cookie{Name: "theme", Value: "dark"},
	)

	rec := get(f.router, "/dashboard", cookies...)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/?auth=required", rec.Header().Get("Location"))

	cleared := map[string]bool{}
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared[c.Name] = true
		}
	}
	assert.True(t, cleared["sb-proj-auth-token"])
	assert.True(t, cleared["sb-proj-auth-token-code-verifier"])
	assert.False(t, cleared["theme"])

	evs := f.bus.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, models.EventTokenRefreshFailed, evs[0].Type)
	assert.Equal(t, "u1", evs[0].UserID)
}

func TestGuardProviderOutageFailsOpenToAnonymous(t *testing.T) {
	f := newGuardFixture(t)
	f.idp.refresh = func(string) (*models.Session, error) { return nil, errors.New("dial tcp: i/o timeout") }
	cookies := sessionCookies(t, signedSession(t, "u1", testNow.Add(-time.Minute)))

	rec := get(f.router, "/search", cookies...)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user=", rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		assert.GreaterOrEqual(t, c.MaxAge, 0, "cookies must survive a transient failure")
	}
	assert.Empty(t, f.bus.Events())

	rec = get(f.router, "/dashboard", cookies...)
	assert.Equal(t, "/?auth=required", rec.Header().Get("Location"))
}

func TestGuardMalformedCookieIsAnonymous(t *testing.T) {
	f := newGuardFixture(t)
	rec := get(f.router, "/dashboard", &http.Cookie{Name: "sb-proj-auth-token", Value: "base64-!!!"})
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/?auth=required", rec.Header().Get("Location"))
}

func TestGuardTamperedTokenIsAnonymous(t *testing.T) {
	f := newGuardFixture(t)
	s := signedSession(t, "u1", testNow.Add(time.Hour))
	s.AccessToken += "x"

	rec := get(f.router, "/dashboard", sessionCookies(t, s)...)
	assert.Equal(t, "/?auth=required", rec.Header().Get("Location"))
	assert.Empty(t, f.idp.refreshed)
}

func TestGuardAcceptsBearerToken(t *testing.T) {
	f := newGuardFixture(t)
	f.onboarding.done["u2"] = true
	s := signedSession(t, "u2", testNow.Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user=u2", rec.Body.String())
}
