package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupabase(t *testing.T, h http.HandlerFunc) *Supabase {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewSupabase(srv.URL, "anon-key", srv.Client())
}

func TestRefreshSession(t *testing.T) {
	sb := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "old-refresh", body["refresh_token"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"token_type":    "bearer",
			"expires_in":    3600,
			"user": map[string]any{
				"id":           "user-1",
				"email":        "a@b.c",
				"role":         "authenticated",
				"app_metadata": map[string]any{"role": "admin"},
			},
		})
	})
	now := time.Unix(1_700_000_000, 0)
	sb.now = func() time.Time { return now }

	s, err := sb.RefreshSession(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", s.AccessToken)
	assert.Equal(t, "new-refresh", s.RefreshToken)
	assert.Equal(t, now.Unix()+3600, s.ExpiresAt)
	assert.Equal(t, "user-1", s.User.ID)
	assert.Equal(t, "admin", s.User.AppRole)
}

func TestRefreshSessionRejected(t *testing.T) {
	cases := map[string]string{
		"legacy": `{"error":"invalid_grant","error_description":"Invalid Refresh Token: Already Used"}`,
		"coded":  `{"code":400,"error_code":"refresh_token_not_found","msg":"Invalid Refresh Token"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			sb := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(body))
			})
			_, err := sb.RefreshSession(context.Background(), "dead")
			assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
		})
	}

	sb := newTestSupabase(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected for an empty token")
	})
	_, err := sb.RefreshSession(context.Background(), "")
	assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
}

func TestRefreshSessionOutageIsNotRejection(t *testing.T) {
	sb := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	_, err := sb.RefreshSession(context.Background(), "tok")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRefreshTokenInvalid))
}

func TestExchangeCode(t *testing.T) {
	sb := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pkce", r.URL.Query().Get("grant_type"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["code_verifier"] != "verifier" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error_code":"bad_code_verifier","msg":"code challenge does not match"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "a", "refresh_token": "r", "expires_at": 42,
			"user": map[string]any{"id": "user-2"},
		})
	})

	s, err := sb.ExchangeCode(context.Background(), "code", "verifier")
	require.NoError(t, err)
	assert.EqualValues(t, 42, s.ExpiresAt)
	assert.Equal(t, "user-2", s.User.ID)

	_, err = sb.ExchangeCode(context.Background(), "code", "wrong")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestGetUserAndSignOut(t *testing.T) {
	sb := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
			return
		}
		switch r.URL.Path {
		case "/auth/v1/user":
			_, _ = w.Write([]byte(`{"id":"user-3","email":"x@y.z","role":"authenticated"}`))
		case "/auth/v1/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	id, err := sb.GetUser(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "user-3", id.ID)

	_, err = sb.GetUser(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrAccessDenied)

	assert.NoError(t, sb.SignOut(context.Background(), "good"))
	assert.NoError(t, sb.SignOut(context.Background(), "bad"), "an expired token is already signed out")
}
