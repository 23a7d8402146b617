package auth

import (
	"fmt"

	"github.com/amoylab/coordinator/internal/auth/jwt"
	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/amoylab/coordinator/internal/registry"
)

// Identity kinds issued by the login routes
const (
	KindAnonymous = "anonymous"
	KindNickname  = "nickname"
)

// Identity is the claim set carried by a credential
type Identity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Authenticator verifies bearer credentials and issues new ones
type Authenticator interface {
	// Verify extracts the user id from a credential. Failures wrap cnst.ErrAuth.
	Verify(token string) (registry.UserID, error)
	// Issue encodes a credential that Verify accepts
	Issue(id Identity) (string, error)
}

// NewAuthenticator creates an authenticator based on the configured mode
func NewAuthenticator(cfg config.AuthConfig) (Authenticator, error) {
	switch cfg.Mode {
	case cnst.AuthModeUnsigned, "":
		return NewUnsigned(cfg.Delimiter), nil
	case cnst.AuthModeJWT:
		svc, err := jwt.NewService(jwt.Config{SecretKey: cfg.JWT.SecretKey, Duration: cfg.JWT.Duration})
		if err != nil {
			return nil, fmt.Errorf("jwt auth: %w", err)
		}
		return &Signed{svc: svc}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Signed verifies HS256 credentials. Enabling it changes what clients must present.
type Signed struct {
	svc *jwt.Service
}

func (s *Signed) Verify(token string) (registry.UserID, error) {
	claims, err := s.svc.ValidateToken(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", cnst.ErrAuth, err)
	}
	return registry.UserID(claims.UserID), nil
}

func (s *Signed) Issue(id Identity) (string, error) {
	return s.svc.GenerateToken(id.ID, id.Name, id.Type)
}
