// Package adminauth signs in the operator account configured through
// PAWFINDS_ADMIN_EMAIL and PAWFINDS_ADMIN_PASSWORD_HASH.
package adminauth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	pkgAuth "github.com/pawfinds/pawfinds-backend/pkg/auth"
	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
	pkgerrors "github.com/pawfinds/pawfinds-backend/pkg/errors"
	"github.com/pawfinds/pawfinds-backend/pkg/security"
)

const invalidCredentialsMessage = "invalid credentials"

// LoginRequest captures the credentials sent to the admin login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the bearer token for the admin routes.
type LoginResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Email       string          `json:"email"`
	Role        enums.ActorRole `json:"role"`
}

type Service interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
}

type service struct {
	admin config.AdminConfig
	jwt   config.JWTConfig
	now   func() time.Time
}

func NewService(admin config.AdminConfig, jwtCfg config.JWTConfig) (Service, error) {
	if strings.TrimSpace(jwtCfg.Secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &service{
		admin: admin,
		jwt:   jwtCfg,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Login(_ context.Context, req LoginRequest) (*LoginResponse, error) {
	if !s.admin.Enabled() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	expected := strings.ToLower(strings.TrimSpace(s.admin.Email))
	emailMatches := subtle.ConstantTimeCompare([]byte(email), []byte(expected)) == 1

	// verify even on an e-mail mismatch so timing does not reveal the account
	valid, err := security.VerifyPassword(req.Password, s.admin.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid || !emailMatches {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}

	now := s.now()
	token, err := pkgAuth.MintAccessToken(s.jwt, now, pkgAuth.AccessTokenPayload{
		Subject: expected,
		Role:    enums.ActorRoleAdmin,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	return &LoginResponse{
		AccessToken: token,
		ExpiresAt:   now.Add(s.jwt.TTL()),
		Email:       expected,
		Role:        enums.ActorRoleAdmin,
	}, nil
}
