package ports

import (
	"context"
	"encoding/json"
)

// API issues authenticated requests to the identity API. Implementations
// attach exactly one credential header per request, selected by precedence:
// access token, then signup token, then the static app token.
type API interface {
	// Do performs a request. A structured server error or a transport fault
	// is returned as a *core.APIError and recorded in the last-error slot.
	Do(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error)

	// DoQuiet is Do without recording errors in the last-error slot.
	DoQuiet(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error)

	// LastError returns the most recent recorded error, if any.
	LastError() error

	// ClearLastError empties the last-error slot.
	ClearLastError()
}
