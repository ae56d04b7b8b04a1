package apikeys

import (
	"context"

	"github.com/Itqan-community/cms-backend-sub002/pkg/contextkeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
)

// AuthContext holds the authenticated caller for the duration of a request.
// Credential is nil when the principal authenticated through a session
// rather than an API key.
type AuthContext struct {
	Principal  *identity.Principal
	Credential *Credential
}

// FromContext extracts the auth context set by the authentication
// middleware, nil when the request is anonymous.
func FromContext(ctx context.Context) *AuthContext {
	v := ctx.Value(contextkeys.AuthKey)
	if v == nil {
		return nil
	}
	authCtx, ok := v.(*AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}
