package middleware

import (
	"path"
	"strings"
)

const (
	RedirectAuthRequired = "/?auth=required"
	RedirectOnboarding   = "/onboarding"
)

var staticExtensions = map[string]struct{}{
	".svg": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".ico": {},
	".css": {}, ".js": {}, ".map": {}, ".woff": {}, ".woff2": {},
}

var staticPrefixes = []string{"/_next/static/", "/_next/image", "/assets/"}

// ShouldGuard reports whether the guard runs for p at all. Static assets skip it.
func ShouldGuard(p string) bool {
	if p == "/favicon.ico" {
		return false
	}
	for _, pre := range staticPrefixes {
		if strings.HasPrefix(p, pre) {
			return false
		}
	}
	_, static := staticExtensions[strings.ToLower(path.Ext(p))]
	return !static
}

// RoutePolicy classifies request paths for the guard.
type RoutePolicy struct {
	PublicExact      []string
	PublicPrefixes   []string
	OnboardingPrefix string
}

func DefaultRoutePolicy() RoutePolicy {
	return RoutePolicy{
		PublicExact:      []string{"/"},
		PublicPrefixes:   []string{"/search", "/auth", "/_next", "/api", "/law-firms/"},
		OnboardingPrefix: "/onboarding",
	}
}

// IsPublic reports whether p is reachable without a session. Any path with a
// dot is treated as a file and is public.
func (rp RoutePolicy) IsPublic(p string) bool {
	for _, e := range rp.PublicExact {
		if p == e {
			return true
		}
	}
	for _, pre := range rp.PublicPrefixes {
		if strings.HasPrefix(p, pre) {
			return true
		}
	}
	return strings.Contains(p, ".")
}

func (rp RoutePolicy) IsOnboarding(p string) bool {
	return rp.OnboardingPrefix != "" && strings.HasPrefix(p, rp.OnboardingPrefix)
}
