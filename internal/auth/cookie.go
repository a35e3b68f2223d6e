package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/yoockh/closingdesk/internal/models"
)

const (
	base64Prefix     = "base64-"
	defaultChunkSize = 3180
	defaultMaxAge    = 400 * 24 * 60 * 60
)

var (
	ErrNoSessionCookie  = errors.New("no session cookie")
	ErrMalformedSession = errors.New("malformed session cookie")
)

// CookieCodec reads and writes the provider's session cookie. Large sessions are
// split across "<name>.0", "<name>.1", ... chunks.
type CookieCodec struct {
	Name   string // "sb-<ref>-auth-token"
	Prefix string // "sb-"
	Secure bool

	ChunkSize int
	MaxAge    int
}

func (c CookieCodec) chunkSize() int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	return defaultChunkSize
}

func (c CookieCodec) maxAge() int {
	if c.MaxAge > 0 {
		return c.MaxAge
	}
	return defaultMaxAge
}

// Read joins the session cookie (or its chunks) and decodes it.
func (c CookieCodec) Read(r *http.Request) (*models.Session, error) {
	raw, ok := c.joined(r)
	if !ok {
		return nil, ErrNoSessionCookie
	}
	return decodeSession(raw)
}

func (c CookieCodec) joined(r *http.Request) (string, bool) {
	if ck, err := r.Cookie(c.Name); err == nil && ck.Value != "" {
		return ck.Value, true
	}
	var b strings.Builder
	for i := 0; ; i++ {
		ck, err := r.Cookie(c.Name + "." + strconv.Itoa(i))
		if err != nil {
			break
		}
		b.WriteString(ck.Value)
	}
	return b.String(), b.Len() > 0
}

func decodeSession(raw string) (*models.Session, error) {
	var payload []byte
	if strings.HasPrefix(raw, base64Prefix) {
		enc := strings.TrimPrefix(raw, base64Prefix)
		b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(enc, "="))
		if err != nil {
			return nil, ErrMalformedSession
		}
		payload = b
	} else {
		s, err := url.QueryUnescape(raw)
		if err != nil {
			return nil, ErrMalformedSession
		}
		payload = []byte(s)
	}

	var s models.Session
	if err := json.Unmarshal(payload, &s); err != nil || s.AccessToken == "" {
		return nil, ErrMalformedSession
	}
	return &s, nil
}

func encodeSession(s *models.Session) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64Prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Write stores s on w, chunking when needed and expiring any chunk the request
// carried that the new value no longer uses.
func (c CookieCodec) Write(w http.ResponseWriter, r *http.Request, s *models.Session) error {
	value, err := encodeSession(s)
	if err != nil {
		return err
	}

	size := c.chunkSize()
	written := map[string]struct{}{}
	if len(value) <= size {
		c.set(w, c.Name, value)
		written[c.Name] = struct{}{}
	} else {
		for i := 0; i*size < len(value); i++ {
			end := min((i+1)*size, len(value))
			name := c.Name + "." + strconv.Itoa(i)
			c.set(w, name, value[i*size:end])
			written[name] = struct{}{}
		}
	}

	for _, name := range c.sessionCookieNames(r) {
		if _, ok := written[name]; !ok {
			c.expire(w, name)
		}
	}
	return nil
}

// Clear expires every request cookie carrying the provider prefix. It returns the
// names it removed.
func (c CookieCodec) Clear(w http.ResponseWriter, r *http.Request) []string {
	var removed []string
	for _, ck := range r.Cookies() {
		if c.Prefix != "" && strings.HasPrefix(ck.Name, c.Prefix) {
			c.expire(w, ck.Name)
			removed = append(removed, ck.Name)
		}
	}
	sort.Strings(removed)
	return removed
}

// CodeVerifier returns the PKCE verifier stored by the frontend before the redirect.
func (c CookieCodec) CodeVerifier(r *http.Request) (string, bool) {
	ck, err := r.Cookie(c.Name + "-code-verifier")
	if err != nil || ck.Value == "" {
		return "", false
	}
	raw := ck.Value
	if strings.HasPrefix(raw, base64Prefix) {
		b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimPrefix(raw, base64Prefix), "="))
		if err != nil {
			return "", false
		}
		raw = string(b)
	} else if s, err := url.QueryUnescape(raw); err == nil {
		raw = s
	}
	var v string
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	return v, v != ""
}

// ExpireCodeVerifier drops the PKCE verifier once the code was exchanged.
func (c CookieCodec) ExpireCodeVerifier(w http.ResponseWriter) {
	c.expire(w, c.Name+"-code-verifier")
}

func (c CookieCodec) sessionCookieNames(r *http.Request) []string {
	var out []string
	for _, ck := range r.Cookies() {
		if ck.Name == c.Name || strings.HasPrefix(ck.Name, c.Name+".") {
			out = append(out, ck.Name)
		}
	}
	return out
}

func (c CookieCodec) set(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   c.maxAge(),
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c CookieCodec) expire(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
