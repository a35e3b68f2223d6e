package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldGuard(t *testing.T) {
	skipped := []string{
		"/_next/static/chunks/main.js",
		"/_next/image",
		"/assets/logo.svg",
		"/favicon.ico",
		"/hero.PNG",
		"/fonts/inter.woff2",
	}
	for _, p := range skipped {
		assert.False(t, ShouldGuard(p), p)
	}

	guarded := []string{"/", "/dashboard", "/api/session", "/onboarding", "/law-firms/abc", "/robots.txt"}
	for _, p := range guarded {
		assert.True(t, ShouldGuard(p), p)
	}
}

func TestRoutePolicy(t *testing.T) {
	rp := DefaultRoutePolicy()

	public := []string{"/", "/search", "/search?q=ny", "/search/results", "/auth/callback", "/api/me/role", "/_next/data/x", "/law-firms/123", "/robots.txt", "/sitemap.xml"}
	for _, p := range public {
		assert.True(t, rp.IsPublic(p), p)
	}

	private := []string{"/dashboard", "/orders/1", "/law-firms", "/admin", "/onboarding", "/settings"}
	for _, p := range private {
		assert.False(t, rp.IsPublic(p), p)
	}

	assert.True(t, rp.IsOnboarding("/onboarding"))
	assert.True(t, rp.IsOnboarding("/onboarding/contact"))
	assert.False(t, rp.IsOnboarding("/dashboard"))
	assert.False(t, RoutePolicy{}.IsOnboarding("/onboarding"))
}
