// README: Token verification contract shared by the JWT and Firebase verifiers.
package infra

import (
	"context"
	"errors"
)

const (
	RoleDriver   = "driver"
	RoleMechanic = "mechanic"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified caller produced by a TokenVerifier.
type Identity struct {
	UID  string
	Role string
}

// TokenVerifier verifies a raw bearer token and returns the caller identity.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Identity, error)
}
