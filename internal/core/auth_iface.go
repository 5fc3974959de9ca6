package core

import "github.com/dkeye/vidtalk/internal/domain"

//go:generate mockgen -destination=mocks/verifier.go -package=mocks github.com/dkeye/vidtalk/internal/core Verifier

// Verifier resolves a bearer token to a user. Errors wrap domain.ErrAuth.
type Verifier interface {
	Verify(token string) (domain.User, error)
}
