// Package service implements the authentication flow coordinator.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cosync/appkey-go/core"
	"github.com/cosync/appkey-go/ports"
)

// Coordinator drives the client half of the passkey authentication flows:
// login, signup, anonymous login, passkey reset, and social federation.
// Every flow is the same two-phase exchange: a start request yields a
// one-time challenge, the platform authenticator consumes it, and a finish
// request submits the authenticator's response. Flows differ only in their
// endpoints and in how the result is applied to the session.
type Coordinator struct {
	session  *core.Session
	api      ports.API
	authn    ports.Authenticator
	events   ports.EventPublisher
	store    ports.Store
	storeKey string
	log      *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithEventPublisher enables best-effort auth lifecycle events.
func WithEventPublisher(pub ports.EventPublisher) Option {
	return func(c *Coordinator) { c.events = pub }
}

// WithStore persists session snapshots under the given key.
func WithStore(store ports.Store, key string) Option {
	return func(c *Coordinator) {
		c.store = store
		c.storeKey = key
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// NewCoordinator creates a flow coordinator over an API client and a
// platform authenticator capability.
func NewCoordinator(api ports.API, authn ports.Authenticator, session *core.Session, opts ...Option) *Coordinator {
	c := &Coordinator{
		session: session,
		api:     api,
		authn:   authn,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session this coordinator mutates.
func (c *Coordinator) Session() *core.Session {
	return c.session
}

// LastError returns the transport's last recorded request error.
func (c *Coordinator) LastError() error {
	return c.api.LastError()
}

// ClearLastError empties the transport's last-error slot.
func (c *Coordinator) ClearLastError() {
	c.api.ClearLastError()
}

// GetApp fetches the tenant configuration and caches it on the session.
func (c *Coordinator) GetApp(ctx context.Context) (*core.App, error) {
	raw, err := c.api.Do(ctx, http.MethodGet, "appuser/app", nil)
	if err != nil {
		return nil, err
	}
	app := &core.App{}
	if err := json.Unmarshal(raw, app); err != nil {
		return nil, core.NewTransportError(fmt.Errorf("decode app config: %w", err))
	}
	c.session.SetApp(app)
	return app, nil
}

// LoginResult is the outcome of a login flow. When RequireAddPasskey is
// set the account has no usable credential: the caller must obtain a reset
// token and run AddPasskey, then log in again. The session is untouched in
// that case.
type LoginResult struct {
	RequireAddPasskey bool
	Profile           *core.Profile
}

// Login runs the passkey assertion flow for an existing account. On
// success the session holds the new access token and profile.
func (c *Coordinator) Login(ctx context.Context, handle string) (*LoginResult, error) {
	if !c.ValidateHandle(handle, true) {
		return nil, core.ErrInvalidHandle
	}

	raw, err := c.api.Do(ctx, http.MethodPost, "appuser/login", map[string]string{"handle": handle})
	if err != nil {
		return nil, err
	}

	var branch struct {
		RequireAddPasskey bool `json:"requireAddPasskey"`
	}
	if err := json.Unmarshal(raw, &branch); err == nil && branch.RequireAddPasskey {
		return &LoginResult{RequireAddPasskey: true}, nil
	}

	finish, err := c.completeAssertion(ctx, raw, handle, "appuser/loginComplete")
	if err != nil {
		return nil, err
	}
	if _, err := c.applyAccessToken(ctx, finish); err != nil {
		return nil, err
	}
	c.publish(ctx, ports.Event{Type: ports.EventLogin, Handle: handle})
	return &LoginResult{Profile: c.session.Profile()}, nil
}

// SignupResult is the outcome of the registration half of a signup. The
// message is the server's human-facing instruction to verify an
// out-of-band code; the flow finishes with SignupComplete.
type SignupResult struct {
	Message string
}

// Signup registers a new passkey for a new account. Starting a signup
// clears any credential the session still holds. On success the session
// holds a signup token and the caller must confirm the out-of-band
// verification code via SignupComplete. On failure the flow restarts at
// Signup; the consumed challenge cannot be reused.
func (c *Coordinator) Signup(ctx context.Context, handle, displayName, locale string) (*SignupResult, error) {
	if !c.ValidateHandle(handle, false) {
		return nil, core.ErrInvalidHandle
	}
	c.session.Reset()

	raw, err := c.api.Do(ctx, http.MethodPost, "appuser/signup", map[string]string{
		"handle":      handle,
		"displayName": displayName,
		"locale":      locale,
	})
	if err != nil {
		return nil, err
	}

	confirm, err := c.completeRegistration(ctx, raw, handle, "appuser/signupConfirm", nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		SignupToken string `json:"signup-token"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(confirm, &out); err != nil {
		return nil, core.NewTransportError(fmt.Errorf("decode signup confirmation: %w", err))
	}
	if out.SignupToken != "" {
		c.session.SetSignupToken(out.SignupToken)
	}
	return &SignupResult{Message: out.Message}, nil
}

// SignupComplete submits the out-of-band verification code. On success the
// signup token is exchanged for an access token and profile.
func (c *Coordinator) SignupComplete(ctx context.Context, code string) (*core.Profile, error) {
	raw, err := c.api.Do(ctx, http.MethodPost, "appuser/signupComplete", map[string]string{"code": code})
	if err != nil {
		return nil, err
	}
	if _, err := c.applyAccessToken(ctx, raw); err != nil {
		return nil, err
	}
	profile := c.session.Profile()
	if profile != nil {
		c.publish(ctx, ports.Event{Type: ports.EventSignup, Handle: profile.Handle})
	}
	return profile, nil
}

// LoginAnonymous registers a fresh credential under a locally generated
// opaque handle and grants an access token immediately, with no
// verification step.
func (c *Coordinator) LoginAnonymous(ctx context.Context) (*core.Profile, error) {
	handle := "ANON_" + uuid.New().String()

	raw, err := c.api.Do(ctx, http.MethodPost, "appuser/loginAnonymous", map[string]string{"handle": handle})
	if err != nil {
		return nil, err
	}

	// The server's creation options carry the definitive handle.
	var opts struct {
		User struct {
			Handle string `json:"handle"`
		} `json:"user"`
	}
	if err := json.Unmarshal(raw, &opts); err == nil && opts.User.Handle != "" {
		handle = opts.User.Handle
	}

	finish, err := c.completeRegistration(ctx, raw, handle, "appuser/loginAnonymousComplete", nil)
	if err != nil {
		return nil, err
	}
	if _, err := c.applyAccessToken(ctx, finish); err != nil {
		return nil, err
	}
	c.publish(ctx, ports.Event{Type: ports.EventAnonymousLogin, Handle: handle})
	return c.session.Profile(), nil
}

// AddPasskey registers a new credential for an account that lost its
// passkey, authenticated by a manually entered reset token instead of the
// session credential. It grants no session: the caller proceeds to Login
// after success.
func (c *Coordinator) AddPasskey(ctx context.Context, resetToken, handle string) error {
	if strings.TrimSpace(resetToken) == "" {
		return &core.APIError{Code: http.StatusBadRequest, Message: "reset token is required"}
	}

	raw, err := c.api.Do(ctx, http.MethodPost, "appuser/addPasskey", map[string]string{"access-token": resetToken})
	if err != nil {
		return err
	}

	_, err = c.completeRegistration(ctx, raw, handle, "appuser/addPasskeyComplete", map[string]any{"access-token": resetToken})
	if err != nil {
		return err
	}
	c.publish(ctx, ports.Event{Type: ports.EventPasskeyAdded, Handle: handle})
	return nil
}

// SocialLogin exchanges a provider-issued identity token for a session.
// Errors are not recorded in the last-error slot because an unknown
// account is an expected branch handled by SignInWith.
func (c *Coordinator) SocialLogin(ctx context.Context, provider, token string) (*core.Profile, error) {
	raw, err := c.api.DoQuiet(ctx, http.MethodPost, "appuser/socialLogin", map[string]string{
		"token":    token,
		"provider": provider,
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.applyAccessToken(ctx, raw); err != nil {
		return nil, err
	}
	c.publish(ctx, ports.Event{Type: ports.EventSocialLogin, Provider: provider})
	return c.session.Profile(), nil
}

// SocialSignup creates an account from a provider identity and grants an
// access token directly.
func (c *Coordinator) SocialSignup(ctx context.Context, id ports.ProviderIdentity) (*core.Profile, error) {
	displayName := strings.TrimSpace(id.GivenName + " " + id.FamilyName)
	raw, err := c.api.Do(ctx, http.MethodPost, "appuser/socialSignup", map[string]string{
		"token":       id.Token,
		"provider":    id.Provider,
		"handle":      id.Email,
		"displayName": displayName,
		"locale":      id.Locale,
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.applyAccessToken(ctx, raw); err != nil {
		return nil, err
	}
	c.publish(ctx, ports.Event{Type: ports.EventSocialSignup, Provider: id.Provider})
	return c.session.Profile(), nil
}

// SignInWith logs in with a provider identity, falling back to social
// signup when the server reports that no account exists for the token.
// The fallback requires a usable given name from the provider profile;
// without one the flow fails rather than creating an account with missing
// data.
func (c *Coordinator) SignInWith(ctx context.Context, id ports.ProviderIdentity) (*core.Profile, error) {
	profile, err := c.SocialLogin(ctx, id.Provider, id.Token)
	if err == nil {
		return profile, nil
	}

	var apiErr *core.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != core.CodeAccountNotFound {
		return nil, err
	}
	if strings.TrimSpace(id.GivenName) == "" {
		return nil, core.ErrNoProfileName
	}
	c.log.InfoContext(ctx, "social account not found, creating", "provider", id.Provider)
	return c.SocialSignup(ctx, id)
}

// SignInWithProvider runs the provider's sign-in interaction and feeds the
// resulting identity through SignInWith. A cancelled interaction yields
// (nil, nil) and leaves the session untouched.
func (c *Coordinator) SignInWithProvider(ctx context.Context, provider ports.IdentityProvider) (*core.Profile, error) {
	id, err := provider.SignIn(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider sign-in: %w", err)
	}
	if id == nil {
		return nil, nil
	}
	return c.SignInWith(ctx, *id)
}

// UpdateProfile submits profile changes. The server returns the refreshed
// record together with a fresh access token, which are applied as a unit.
func (c *Coordinator) UpdateProfile(ctx context.Context, profile core.Profile) (*core.Profile, error) {
	if c.session.Credential().Kind() != core.CredentialAccess {
		return nil, core.ErrNotAuthenticated
	}
	raw, err := c.api.Do(ctx, http.MethodPost, "appuser/updateProfile", profile)
	if err != nil {
		return nil, err
	}
	applied, err := c.applyAccessToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	if applied {
		return c.session.Profile(), nil
	}
	out := &core.Profile{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, core.NewTransportError(fmt.Errorf("decode profile: %w", err))
	}
	return out, nil
}

// SetUserName assigns a username to the authenticated account.
func (c *Coordinator) SetUserName(ctx context.Context, userName string) (*core.Profile, error) {
	if c.session.Credential().Kind() != core.CredentialAccess {
		return nil, core.ErrNotAuthenticated
	}
	raw, err := c.api.Do(ctx, http.MethodPost, "appuser/setUsername", map[string]string{"userName": userName})
	if err != nil {
		return nil, err
	}
	if _, err := c.applyAccessToken(ctx, raw); err != nil {
		return nil, err
	}
	return c.session.Profile(), nil
}

// Logout clears the session and deletes any persisted snapshot.
func (c *Coordinator) Logout(ctx context.Context) error {
	var handle string
	if p := c.session.Profile(); p != nil {
		handle = p.Handle
	}
	c.session.Reset()
	if c.store != nil {
		if err := c.store.Delete(ctx, c.storeKey); err != nil {
			c.log.WarnContext(ctx, "delete persisted session", "error", err)
		}
	}
	c.publish(ctx, ports.Event{Type: ports.EventLogout, Handle: handle})
	return nil
}

// RestoreSession loads a persisted session snapshot, if one exists.
func (c *Coordinator) RestoreSession(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	data, err := c.store.Get(ctx, c.storeKey)
	if err != nil {
		if err == core.ErrNotFound {
			return nil
		}
		return fmt.Errorf("load persisted session: %w", err)
	}
	return c.session.Restore([]byte(data))
}

// completeRegistration runs the authenticator half of a registration flow:
// re-encode the challenge, create a credential, re-encode the result, and
// submit it to the finish endpoint. extra fields are merged into the
// finish payload.
func (c *Coordinator) completeRegistration(ctx context.Context, startRaw json.RawMessage, handle, endpoint string, extra map[string]any) (json.RawMessage, error) {
	options, err := core.ChallengeToAuthenticator(startRaw)
	if err != nil {
		return nil, core.NewTransportError(err)
	}

	result, err := c.authn.CreateCredential(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}
	if result == nil || result.ID == "" {
		return nil, core.ErrMissingCredentialID
	}

	wire, err := core.EncodeRegistration(result, handle)
	if err != nil {
		return nil, err
	}

	var body any = wire
	if len(extra) > 0 {
		merged, err := mergeFields(wire, extra)
		if err != nil {
			return nil, err
		}
		body = merged
	}
	return c.api.Do(ctx, http.MethodPost, endpoint, body)
}

// completeAssertion is the assertion counterpart of completeRegistration.
func (c *Coordinator) completeAssertion(ctx context.Context, startRaw json.RawMessage, handle, endpoint string) (json.RawMessage, error) {
	options, err := core.ChallengeToAuthenticator(startRaw)
	if err != nil {
		return nil, core.NewTransportError(err)
	}

	result, err := c.authn.GetAssertion(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("get assertion: %w", err)
	}
	if result == nil || result.ID == "" {
		return nil, core.ErrMissingCredentialID
	}

	wire, err := core.EncodeAssertion(result, handle)
	if err != nil {
		return nil, err
	}
	return c.api.Do(ctx, http.MethodPost, endpoint, wire)
}

// applyAccessToken applies a finish response carrying an access token and
// profile to the session as a single step. It reports whether a token was
// present; a response without one leaves the session untouched.
func (c *Coordinator) applyAccessToken(ctx context.Context, raw json.RawMessage) (bool, error) {
	var grant struct {
		AccessToken string `json:"access-token"`
	}
	if err := json.Unmarshal(raw, &grant); err != nil {
		return false, core.NewTransportError(fmt.Errorf("decode flow result: %w", err))
	}
	if grant.AccessToken == "" {
		return false, nil
	}

	profile := &core.Profile{}
	if err := json.Unmarshal(raw, profile); err != nil {
		return false, core.NewTransportError(fmt.Errorf("decode profile: %w", err))
	}

	c.session.SetAuthenticated(grant.AccessToken, profile)
	c.persist(ctx, grant.AccessToken)
	return true, nil
}

// persist saves a session snapshot with a TTL matching the token expiry.
// Persistence failures are logged, never fatal.
func (c *Coordinator) persist(ctx context.Context, token string) {
	if c.store == nil {
		return
	}
	var ttl time.Duration
	if claims, err := core.DecodeAccessToken(token); err == nil {
		ttl = claims.ExpiresIn(time.Now())
	}
	snapshot, err := c.session.Snapshot()
	if err != nil {
		c.log.WarnContext(ctx, "snapshot session", "error", err)
		return
	}
	if err := c.store.Set(ctx, c.storeKey, string(snapshot), ttl); err != nil {
		c.log.WarnContext(ctx, "persist session", "error", err)
	}
}

// publish sends a lifecycle event, best effort.
func (c *Coordinator) publish(ctx context.Context, event ports.Event) {
	if c.events == nil {
		return
	}
	event.At = time.Now().UTC()
	if err := c.events.PublishAuthEvent(ctx, event); err != nil {
		c.log.WarnContext(ctx, "publish auth event", "type", event.Type, "error", err)
	}
}

func mergeFields(v any, extra map[string]any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("merge payload: %w", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("merge payload: %w", err)
	}
	for k, val := range extra {
		m[k] = val
	}
	return m, nil
}
