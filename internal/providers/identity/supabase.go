package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yoockh/closingdesk/internal/models"
)

// Supabase talks to the GoTrue REST API under <url>/auth/v1.
type Supabase struct {
	baseURL string
	anonKey string
	http    *http.Client
	now     func() time.Time
}

func NewSupabase(projectURL, anonKey string, client *http.Client) *Supabase {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Supabase{
		baseURL: strings.TrimRight(projectURL, "/") + "/auth/v1",
		anonKey: anonKey,
		http:    client,
		now:     time.Now,
	}
}

type gotrueUser struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	Role        string         `json:"role"`
	AppMetadata map[string]any `json:"app_metadata"`
}

func (u gotrueUser) identity() models.Identity {
	id := models.Identity{ID: u.ID, Email: u.Email, Role: u.Role}
	if s, ok := u.AppMetadata["role"].(string); ok {
		id.AppRole = s
	}
	return id
}

type tokenResponse struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	RefreshToken string     `json:"refresh_token"`
	User         gotrueUser `json:"user"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
}

// GoTrue codes meaning "this credential is dead", as opposed to an outage.
var rejectionCodes = map[string]struct{}{
	"invalid_grant":              {},
	"bad_code_verifier":          {},
	"flow_state_not_found":       {},
	"flow_state_expired":         {},
	"refresh_token_not_found":    {},
	"refresh_token_already_used": {},
	"session_not_found":          {},
	"session_expired":            {},
}

func (s *Supabase) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	if refreshToken == "" {
		return nil, ErrRefreshTokenInvalid
	}
	return s.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken}, ErrRefreshTokenInvalid)
}

func (s *Supabase) ExchangeCode(ctx context.Context, authCode, codeVerifier string) (*models.Session, error) {
	return s.token(ctx, "pkce", map[string]string{
		"auth_code":     authCode,
		"code_verifier": codeVerifier,
	}, ErrAccessDenied)
}

func (s *Supabase) token(ctx context.Context, grant string, body map[string]string, rejected error) (*models.Session, error) {
	var out tokenResponse
	status, errBody, err := s.do(ctx, http.MethodPost, "/token?grant_type="+grant, "", body, &out)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		if status < 500 && isRejection(errBody) {
			return nil, fmt.Errorf("%w: %s", rejected, describe(errBody))
		}
		return nil, fmt.Errorf("gotrue %s grant: status %d: %s", grant, status, describe(errBody))
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("gotrue %s grant: empty access token", grant)
	}

	expiresAt := out.ExpiresAt
	if expiresAt == 0 && out.ExpiresIn > 0 {
		expiresAt = s.now().Add(time.Duration(out.ExpiresIn) * time.Second).Unix()
	}
	return &models.Session{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		TokenType:    out.TokenType,
		ExpiresIn:    out.ExpiresIn,
		ExpiresAt:    expiresAt,
		User:         out.User.identity(),
	}, nil
}

func (s *Supabase) GetUser(ctx context.Context, accessToken string) (*models.Identity, error) {
	var u gotrueUser
	status, errBody, err := s.do(ctx, http.MethodGet, "/user", accessToken, nil, &u)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrAccessDenied, describe(errBody))
	case status >= 400:
		return nil, fmt.Errorf("gotrue user: status %d: %s", status, describe(errBody))
	case u.ID == "":
		return nil, fmt.Errorf("gotrue user: empty id")
	}
	id := u.identity()
	return &id, nil
}

func (s *Supabase) SignOut(ctx context.Context, accessToken string) error {
	status, errBody, err := s.do(ctx, http.MethodPost, "/logout?scope=local", accessToken, nil, nil)
	if err != nil {
		return err
	}
	// an already-dead session is as signed out as it gets
	if status >= 400 && status != http.StatusUnauthorized && status != http.StatusNotFound {
		return fmt.Errorf("gotrue logout: status %d: %s", status, describe(errBody))
	}
	return nil
}

func (s *Supabase) do(ctx context.Context, method, path, bearer string, in, out any) (int, *errorResponse, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("apikey", s.anonKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}

	if resp.StatusCode >= 400 {
		var er errorResponse
		_ = json.Unmarshal(raw, &er)
		return resp.StatusCode, &er, nil
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("decode gotrue response: %w", err)
		}
	}
	return resp.StatusCode, nil, nil
}

func isRejection(er *errorResponse) bool {
	if er == nil {
		return false
	}
	if _, ok := rejectionCodes[er.ErrorCode]; ok {
		return true
	}
	_, ok := rejectionCodes[er.Error]
	return ok
}

func describe(er *errorResponse) string {
	if er == nil {
		return "unknown error"
	}
	for _, s := range []string{er.ErrorDescription, er.Msg, er.ErrorCode, er.Error} {
		if s != "" {
			return s
		}
	}
	return "unknown error"
}
