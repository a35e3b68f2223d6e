package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/closingdesk/internal/auth"
	"github.com/yoockh/closingdesk/internal/models"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func init() { gin.SetMode(gin.TestMode) }

type fakeIdentity struct {
	mu        sync.Mutex
	refreshed []string
	refresh   func(token string) (*models.Session, error)
}

func (f *fakeIdentity) RefreshSession(_ context.Context, token string) (*models.Session, error) {
	f.mu.Lock()
	f.refreshed = append(f.refreshed, token)
	f.mu.Unlock()
	return f.refresh(token)
}

func (f *fakeIdentity) ExchangeCode(context.Context, string, string) (*models.Session, error) {
	panic("not used")
}

func (f *fakeIdentity) GetUser(context.Context, string) (*models.Identity, error) {
	panic("not used")
}

func (f *fakeIdentity) SignOut(context.Context, string) error { return nil }

type fakeOnboarding struct {
	done map[string]bool
	err  error
}

func (f *fakeOnboarding) OnboardingCompleted(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.done[id], nil
}

func testVerifier() *auth.Verifier {
	return auth.NewVerifier(testSecret, "", "").WithClock(func() time.Time { return testNow })
}

func testCodec() auth.CookieCodec {
	return auth.CookieCodec{Name: "sb-proj-auth-token", Prefix: "sb-"}
}

func signedSession(t *testing.T, userID string, exp time.Time) *models.Session {
	t.Helper()
	tok, err := testVerifier().Sign(&auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: userID + "@example.com",
		Role:  "authenticated",
	})
	require.NoError(t, err)
	return &models.Session{
		AccessToken:  tok,
		RefreshToken: "rt-" + userID,
		ExpiresAt:    exp.Unix(),
		User:         models.Identity{ID: userID},
	}
}

// sessionCookies encodes s the way the browser would send it back.
func sessionCookies(t *testing.T, s *models.Session) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, testCodec().Write(rec, httptest.NewRequest(http.MethodGet, "/", nil), s))
	return rec.Result().Cookies()
}

func get(r http.Handler, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}
