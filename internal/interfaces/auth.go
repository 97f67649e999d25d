package interfaces

import "context"

// Identity is the resolved caller identity returned by a token verifier.
type Identity struct {
	UserID string
	Email  string
}

// TokenVerifier resolves a bearer credential to a user identity. Verification
// against a real identity provider is an external collaborator; the core only
// depends on this contract. A nil identity with nil error is never returned:
// unverifiable tokens produce an error.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}
