package identity

import (
	"context"
	"errors"

	"github.com/yoockh/closingdesk/internal/models"
)

var (
	// ErrRefreshTokenInvalid means the refresh token was revoked, reused or unknown.
	// The caller must drop its session cookies.
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")
	// ErrAccessDenied means the provider rejected the access token or auth code.
	ErrAccessDenied = errors.New("identity provider denied the credential")
)

type Provider interface {
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)
	ExchangeCode(ctx context.Context, authCode, codeVerifier string) (*models.Session, error)
	GetUser(ctx context.Context, accessToken string) (*models.Identity, error)
	SignOut(ctx context.Context, accessToken string) error
}
