// Package appkey is a client for passkey-based identity APIs. It drives
// the login, signup, anonymous login, passkey reset, and social federation
// flows against a server, delegating the WebAuthn ceremonies to an
// injected platform authenticator.
package appkey

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cosync/appkey-go/adapters/transport"
	"github.com/cosync/appkey-go/core"
	"github.com/cosync/appkey-go/ports"
	"github.com/cosync/appkey-go/service"
)

// Re-exported domain types, so most callers only import this package.
type (
	App          = core.App
	Profile      = core.Profile
	Session      = core.Session
	LoginResult  = service.LoginResult
	SignupResult = service.SignupResult
)

// Client is the full authentication surface of the library.
type Client interface {
	GetApp(ctx context.Context) (*App, error)
	ValidateHandle(value string, login bool) bool

	Login(ctx context.Context, handle string) (*LoginResult, error)
	Signup(ctx context.Context, handle, displayName, locale string) (*SignupResult, error)
	SignupComplete(ctx context.Context, code string) (*Profile, error)
	LoginAnonymous(ctx context.Context) (*Profile, error)
	AddPasskey(ctx context.Context, resetToken, handle string) error

	SocialLogin(ctx context.Context, provider, token string) (*Profile, error)
	SocialSignup(ctx context.Context, id ports.ProviderIdentity) (*Profile, error)
	SignInWith(ctx context.Context, id ports.ProviderIdentity) (*Profile, error)
	SignInWithProvider(ctx context.Context, provider ports.IdentityProvider) (*Profile, error)

	UpdateProfile(ctx context.Context, profile Profile) (*Profile, error)
	SetUserName(ctx context.Context, userName string) (*Profile, error)
	Logout(ctx context.Context) error
	RestoreSession(ctx context.Context) error

	Session() *Session
	LastError() error
	ClearLastError()
}

var _ Client = (*service.Coordinator)(nil)

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	store      ports.Store
	storeKey   string
	events     ports.EventPublisher
}

// Option customizes the assembled client.
type Option func(*options)

// WithLogger sets the logger for the transport and the coordinator.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithHTTPClient overrides the HTTP client used by the transport.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithStore enables session persistence under the given key.
func WithStore(store ports.Store, key string) Option {
	return func(o *options) {
		o.store = store
		o.storeKey = key
	}
}

// WithEventPublisher enables best-effort auth lifecycle events.
func WithEventPublisher(pub ports.EventPublisher) Option {
	return func(o *options) { o.events = pub }
}

// New assembles a client from a configuration and a platform
// authenticator capability.
func New(cfg *Config, authn ports.Authenticator, opts ...Option) Client {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	session := core.NewSession()

	var transportOpts []transport.Option
	if o.httpClient != nil {
		transportOpts = append(transportOpts, transport.WithHTTPClient(o.httpClient))
	} else if cfg.HTTPTimeout > 0 {
		transportOpts = append(transportOpts, transport.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
	}
	if o.logger != nil {
		transportOpts = append(transportOpts, transport.WithLogger(o.logger))
	}
	api := transport.New(cfg.APIURL, cfg.AppToken, session, transportOpts...)

	var serviceOpts []service.Option
	if o.logger != nil {
		serviceOpts = append(serviceOpts, service.WithLogger(o.logger))
	}
	if o.store != nil {
		key := o.storeKey
		if key == "" {
			key = cfg.SessionKey
		}
		serviceOpts = append(serviceOpts, service.WithStore(o.store, key))
	}
	if o.events != nil {
		serviceOpts = append(serviceOpts, service.WithEventPublisher(o.events))
	}
	return service.NewCoordinator(api, authn, session, serviceOpts...)
}
