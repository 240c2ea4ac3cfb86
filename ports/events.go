package ports

import (
	"context"
	"time"
)

// Auth lifecycle event types.
const (
	EventLogin          = "auth.login"
	EventSignup         = "auth.signup"
	EventAnonymousLogin = "auth.anonymous"
	EventSocialLogin    = "auth.social.login"
	EventSocialSignup   = "auth.social.signup"
	EventPasskeyAdded   = "auth.passkey.added"
	EventLogout         = "auth.logout"
)

// Event describes a completed auth flow.
type Event struct {
	Type     string    `json:"type"`
	Handle   string    `json:"handle,omitempty"`
	Provider string    `json:"provider,omitempty"`
	At       time.Time `json:"at"`
}

// EventPublisher notifies interested parties about auth lifecycle events.
// Publishing is best-effort: the coordinator never fails a flow because an
// event could not be delivered.
type EventPublisher interface {
	PublishAuthEvent(ctx context.Context, event Event) error
}
