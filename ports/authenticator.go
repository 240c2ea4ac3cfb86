package ports

import (
	"context"
	"encoding/json"

	"github.com/cosync/appkey-go/core"
)

// Authenticator is the platform authenticator capability the coordinator
// depends on. Implementations wrap a device's passkey facility; a software
// implementation backed by a virtual authenticator exists for headless use.
//
// Options are the server-issued ceremony parameters after the challenge has
// been re-encoded to the platform's base64 variant; they are otherwise
// opaque to the coordinator. Both operations may block indefinitely for
// user interaction and may fail with a user-facing fault (unsupported
// device, invalid biometric data, cancellation).
type Authenticator interface {
	// CreateCredential performs a registration ceremony for a new credential.
	CreateCredential(ctx context.Context, options json.RawMessage) (*core.RegistrationResult, error)

	// GetAssertion performs an assertion ceremony with an existing credential.
	GetAssertion(ctx context.Context, options json.RawMessage) (*core.AssertionResult, error)
}
