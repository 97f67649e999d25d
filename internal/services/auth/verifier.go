// Package auth provides bearer token verification. Verification against a
// real identity provider is an external collaborator; the static verifier
// here covers self-hosted deployments with pre-shared tokens.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/erdilatifi/chunkd/internal/interfaces"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// StaticVerifier resolves tokens from a fixed table.
type StaticVerifier struct {
	tokens map[string]interfaces.Identity
}

// NewStaticVerifier builds a verifier from "token=user[:email]" entries.
// Malformed entries are skipped.
func NewStaticVerifier(entries []string) *StaticVerifier {
	tokens := make(map[string]interfaces.Identity)
	for _, entry := range entries {
		token, spec, ok := strings.Cut(entry, "=")
		if !ok || token == "" || spec == "" {
			continue
		}
		userID, email, _ := strings.Cut(spec, ":")
		tokens[token] = interfaces.Identity{UserID: userID, Email: email}
	}
	return &StaticVerifier{tokens: tokens}
}

// Verify resolves the token to its identity.
func (v *StaticVerifier) Verify(ctx context.Context, token string) (*interfaces.Identity, error) {
	identity, ok := v.tokens[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return &identity, nil
}

// ParseBearer extracts the credential from an Authorization header value.
func ParseBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
