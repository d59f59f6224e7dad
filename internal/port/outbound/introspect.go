package outbound

import (
	"context"

	"github.com/superfetch/superfetch/internal/domain/auth"
)

// TokenIntrospector is the outbound port for OAuth token introspection.
type TokenIntrospector interface {
	// Introspect verifies token with the authorization server and
	// returns the credential info when the token is active. Inactive
	// or malformed tokens return auth.ErrInvalidToken. The call honors
	// ctx, which carries the inbound request's cancellation.
	Introspect(ctx context.Context, token string) (*auth.Info, error)
}
