package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is everything the server reads from the environment at boot.
type AppConfig struct {
	Port     string
	LogLevel string

	SupabaseURL         string
	SupabaseAnonKey     string
	SupabaseJWTSecret   string
	SupabaseJWTIssuer   string
	SupabaseJWTAudience string

	// CookiePrefix is shared by every provider cookie ("sb-").
	CookiePrefix string
	// SessionCookie is the base name of the session cookie, "sb-<project-ref>-auth-token".
	SessionCookie string
	CookieSecure  bool

	SessionInitTimeout time.Duration
	StaticDir          string
	CORSOrigins        []string
	AuditWorkers       int
	AutoMigrate        bool
}

// LoadApp reads AppConfig from the environment. Call godotenv.Load first if a .env is used.
func LoadApp() (AppConfig, error) {
	cfg := AppConfig{
		Port:                getEnv("PORT", "8080"),
		LogLevel:            os.Getenv("LOG_LEVEL"),
		SupabaseURL:         strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseAnonKey:     os.Getenv("SUPABASE_ANON_KEY"),
		SupabaseJWTSecret:   os.Getenv("SUPABASE_JWT_SECRET"),
		SupabaseJWTIssuer:   os.Getenv("SUPABASE_JWT_ISSUER"),
		SupabaseJWTAudience: os.Getenv("SUPABASE_JWT_AUDIENCE"),
		CookiePrefix:        getEnv("AUTH_COOKIE_PREFIX", "sb-"),
		StaticDir:           getEnv("STATIC_DIR", "./web/dist"),
	}

	if cfg.SupabaseURL == "" {
		return cfg, errors.New("SUPABASE_URL environment variable is not set")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, errors.New("SUPABASE_ANON_KEY environment variable is not set")
	}
	if cfg.SupabaseJWTSecret == "" {
		return cfg, errors.New("SUPABASE_JWT_SECRET environment variable is not set")
	}

	ref, err := ProjectRef(cfg.SupabaseURL)
	if err != nil {
		return cfg, err
	}
	cfg.SessionCookie = getEnv("AUTH_COOKIE_NAME", cfg.CookiePrefix+ref+"-auth-token")

	if cfg.CookieSecure, err = parseBool("COOKIE_SECURE", true); err != nil {
		return cfg, err
	}
	if cfg.AutoMigrate, err = parseBool("POSTGRES_AUTOMIGRATE", false); err != nil {
		return cfg, err
	}

	cfg.SessionInitTimeout = 5 * time.Second
	if v := os.Getenv("SESSION_INIT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid SESSION_INIT_TIMEOUT %q", v)
		}
		cfg.SessionInitTimeout = d
	}

	cfg.AuditWorkers = 2
	if v := os.Getenv("AUDIT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid AUDIT_WORKERS %q", v)
		}
		cfg.AuditWorkers = n
	}

	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}
	return cfg, nil
}

// ProjectRef extracts the project ref (first host label) from a Supabase URL.
func ProjectRef(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("invalid SUPABASE_URL %q", rawURL)
	}
	host := u.Hostname()
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i], nil
	}
	return host, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid boolean for %s: %q", key, v)
	}
	return b, nil
}
