package ports

import "context"

// Social federation providers.
const (
	ProviderApple  = "apple"
	ProviderGoogle = "google"
)

// ProviderIdentity is the bearer token and best-effort profile obtained
// from a third-party sign-in SDK. The token is treated as opaque.
type ProviderIdentity struct {
	Provider   string
	Token      string
	Email      string
	GivenName  string
	FamilyName string
	Locale     string
}

// IdentityProvider wraps a platform sign-in SDK (Apple, Google). A user
// cancelling the sign-in dialog yields (nil, nil), not an error.
type IdentityProvider interface {
	SignIn(ctx context.Context) (*ProviderIdentity, error)
}
