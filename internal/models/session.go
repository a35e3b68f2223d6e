package models

import "time"

// Session is the credential pair issued by the identity provider.
type Session struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type,omitempty"`
	ExpiresIn    int64    `json:"expires_in,omitempty"`
	ExpiresAt    int64    `json:"expires_at"` // unix seconds
	User         Identity `json:"user"`
}

// ExpiresWithin reports whether the access token is expired or will be within d.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s == nil || s.ExpiresAt == 0 {
		return true
	}
	return !now.Add(d).Before(time.Unix(s.ExpiresAt, 0))
}
