package appkey

import "github.com/cosync/appkey-go/core"

// Sentinel errors surfaced by client operations.
var (
	ErrInvalidHandle       = core.ErrInvalidHandle
	ErrMissingCredentialID = core.ErrMissingCredentialID
	ErrNoProfileName       = core.ErrNoProfileName
	ErrNotAuthenticated    = core.ErrNotAuthenticated
)

// APIError is a structured error reported by the identity API, or a
// transport fault with Code 0. Inspect with errors.As.
type APIError = core.APIError

// CodeAccountNotFound signals a social login against an unknown account.
const CodeAccountNotFound = core.CodeAccountNotFound
