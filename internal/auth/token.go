package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yoockh/closingdesk/internal/models"
)

var (
	ErrTokenExpired = errors.New("access token expired")
	ErrTokenInvalid = errors.New("access token invalid")
)

// Claims mirrors the Supabase access token payload.
type Claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email"`
	Role         string         `json:"role"`         // "authenticated" / "anon"
	AppMetadata  map[string]any `json:"app_metadata"` // {"role":"admin"} lives here
	UserMetadata map[string]any `json:"user_metadata"`
}

func (c *Claims) Identity() models.Identity {
	id := models.Identity{ID: c.Subject, Email: c.Email, Role: c.Role}
	if c.AppMetadata != nil {
		if s, ok := c.AppMetadata["role"].(string); ok {
			id.AppRole = s
		}
	}
	return id
}

// Verifier checks HS256 access tokens signed with the project JWT secret.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

func NewVerifier(secret, issuer, audience string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, audience: audience, now: time.Now}
}

// WithClock replaces the verifier's time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	cp := *v
	cp.now = now
	return &cp
}

// Verify parses raw. An expired but otherwise valid token returns its claims
// together with ErrTokenExpired so callers can still attribute the refresh.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	if raw == "" || len(v.secret) == 0 {
		return nil, ErrTokenInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		if claims.Subject == "" {
			return nil, ErrTokenInvalid
		}
		return claims, ErrTokenExpired
	case err != nil || tok == nil || !tok.Valid:
		return nil, ErrTokenInvalid
	case claims.Subject == "":
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Sign issues a token with the verifier's secret. Used by tests and local tooling.
func (v *Verifier) Sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
