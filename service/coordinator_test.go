package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosync/appkey-go/adapters/authenticator"
	"github.com/cosync/appkey-go/adapters/events"
	"github.com/cosync/appkey-go/adapters/store"
	"github.com/cosync/appkey-go/adapters/transport"
	"github.com/cosync/appkey-go/core"
	"github.com/cosync/appkey-go/internal/stubserver"
	"github.com/cosync/appkey-go/ports"
	"github.com/cosync/appkey-go/service"
)

type env struct {
	stub    *stubserver.Server
	session *core.Session
	api     *transport.Client
	authn   *authenticator.Virtual
	store   *store.MemoryStore
	coord   *service.Coordinator
}

func newTestEnv(t *testing.T, opts ...service.Option) *env {
	t.Helper()
	cfg := stubserver.DefaultConfig()
	stub, err := stubserver.New(cfg)
	require.NoError(t, err)

	server := httptest.NewServer(stub.Handler())
	t.Cleanup(server.Close)

	session := core.NewSession()
	api := transport.New(server.URL, cfg.AppToken, session)
	authn := authenticator.NewVirtual(cfg.RPID, cfg.App.DisplayAppName, cfg.RPOrigin)
	mem := store.NewMemoryStore()

	opts = append([]service.Option{service.WithStore(mem, "session")}, opts...)
	coord := service.NewCoordinator(api, authn, session, opts...)

	return &env{stub: stub, session: session, api: api, authn: authn, store: mem, coord: coord}
}

// signUp drives a full signup so later tests start from an authenticated
// account with a registered passkey.
func (e *env) signUp(t *testing.T, handle string) *core.Profile {
	t.Helper()
	ctx := context.Background()

	result, err := e.coord.Signup(ctx, handle, "Test User", "EN")
	require.NoError(t, err)
	require.NotEmpty(t, result.Message)

	profile, err := e.coord.SignupComplete(ctx, "1234")
	require.NoError(t, err)
	require.NotNil(t, profile)
	return profile
}

func TestGetApp(t *testing.T) {
	e := newTestEnv(t)

	app, err := e.coord.GetApp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stub-app", app.AppID)
	assert.Equal(t, core.HandleTypeEmail, app.HandleType)

	// The config is cached on the session for later validation.
	require.NotNil(t, e.session.App())
}

func TestSignupFlow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	result, err := e.coord.Signup(ctx, "ada@example.com", "Ada Lovelace", "EN")
	require.NoError(t, err)
	assert.Contains(t, result.Message, "ada@example.com")

	// After the passkey is registered the session holds a signup token,
	// pending out-of-band verification.
	assert.Equal(t, core.CredentialSignup, e.session.Credential().Kind())
	assert.NotEmpty(t, e.session.Credential().Token())
	assert.Nil(t, e.session.Profile())

	profile, err := e.coord.SignupComplete(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", profile.Handle)
	assert.Equal(t, "Ada Lovelace", profile.DisplayName)

	assert.Equal(t, core.CredentialAccess, e.session.Credential().Kind())

	// A snapshot was persisted.
	_, err = e.store.Get(ctx, "session")
	assert.NoError(t, err)
}

func TestSignupComplete_WrongCode(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.coord.Signup(ctx, "ada@example.com", "Ada", "EN")
	require.NoError(t, err)

	_, err = e.coord.SignupComplete(ctx, "0000")
	require.Error(t, err)

	var apiErr *core.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Code)

	// The signup token survives, so the code can be retried.
	assert.Equal(t, core.CredentialSignup, e.session.Credential().Kind())
}

func TestSignup_InvalidHandle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.coord.GetApp(ctx)
	require.NoError(t, err)

	_, err = e.coord.Signup(ctx, "not-an-email", "Ada", "EN")
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
	assert.Zero(t, e.stub.CallCount("/api/appuser/signup"))
}

func TestLoginFlow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.signUp(t, "ada@example.com")
	require.NoError(t, e.coord.Logout(ctx))
	assert.Equal(t, core.CredentialNone, e.session.Credential().Kind())

	result, err := e.coord.Login(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, result.RequireAddPasskey)
	require.NotNil(t, result.Profile)
	assert.Equal(t, "ada@example.com", result.Profile.Handle)

	assert.Equal(t, core.CredentialAccess, e.session.Credential().Kind())
}

func TestLogin_UnknownHandle(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.coord.Login(context.Background(), "ghost@example.com")
	require.Error(t, err)

	var apiErr *core.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Code)
	assert.Equal(t, "invalid handle", apiErr.Message)

	// A failed login leaves the session untouched.
	assert.Equal(t, core.CredentialNone, e.session.Credential().Kind())
}

func TestLogin_RequireAddPasskey(t *testing.T) {
	e := newTestEnv(t)
	e.stub.SeedResetUser("lost@example.com", "Lost User")

	result, err := e.coord.Login(context.Background(), "lost@example.com")
	require.NoError(t, err)
	assert.True(t, result.RequireAddPasskey)
	assert.Nil(t, result.Profile)

	// No assertion ceremony ran and the session was not mutated.
	assert.Zero(t, e.stub.CallCount("/api/appuser/loginComplete"))
	assert.Equal(t, core.CredentialNone, e.session.Credential().Kind())
}

func TestAddPasskeyThenLogin(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	resetToken := e.stub.SeedResetUser("lost@example.com", "Lost User")

	require.NoError(t, e.coord.AddPasskey(ctx, resetToken, "lost@example.com"))

	// Registering a replacement passkey grants no session by itself.
	assert.Equal(t, core.CredentialNone, e.session.Credential().Kind())

	result, err := e.coord.Login(ctx, "lost@example.com")
	require.NoError(t, err)
	assert.False(t, result.RequireAddPasskey)
	assert.Equal(t, "lost@example.com", result.Profile.Handle)
}

func TestAddPasskey_EmptyResetToken(t *testing.T) {
	e := newTestEnv(t)

	err := e.coord.AddPasskey(context.Background(), "  ", "lost@example.com")
	require.Error(t, err)
	assert.Zero(t, e.stub.CallCount("/api/appuser/addPasskey"))
}

func TestAddPasskey_InvalidResetToken(t *testing.T) {
	e := newTestEnv(t)

	err := e.coord.AddPasskey(context.Background(), "bogus", "lost@example.com")
	require.Error(t, err)

	var apiErr *core.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Code)
}

func TestLoginAnonymous(t *testing.T) {
	e := newTestEnv(t)

	profile, err := e.coord.LoginAnonymous(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(profile.Handle, "ANON_"))
	assert.Equal(t, core.CredentialAccess, e.session.Credential().Kind())
}

func TestSignInWith_ExistingAccount(t *testing.T) {
	e := newTestEnv(t)
	e.stub.SeedSocialUser("apple", "apple-token-1", "social@example.com", "Social User")

	profile, err := e.coord.SignInWith(context.Background(), ports.ProviderIdentity{
		Provider: ports.ProviderApple,
		Token:    "apple-token-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "social@example.com", profile.Handle)
	assert.True(t, profile.AppleLinked)

	assert.Zero(t, e.stub.CallCount("/api/appuser/socialSignup"))
}

func TestSignInWith_FallbackSignup(t *testing.T) {
	e := newTestEnv(t)

	profile, err := e.coord.SignInWith(context.Background(), ports.ProviderIdentity{
		Provider:   ports.ProviderGoogle,
		Token:      "google-token-1",
		Email:      "ada@example.com",
		GivenName:  "Ada",
		FamilyName: "Lovelace",
		Locale:     "EN",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", profile.Handle)
	assert.Equal(t, "Ada Lovelace", profile.DisplayName)
	assert.True(t, profile.GoogleLinked)

	assert.Equal(t, 1, e.stub.CallCount("/api/appuser/socialSignup"))

	// The expected account-not-found probe never lands in the error slot.
	assert.Nil(t, e.coord.LastError())
}

func TestSignInWith_NoProfileName(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.coord.SignInWith(context.Background(), ports.ProviderIdentity{
		Provider: ports.ProviderGoogle,
		Token:    "google-token-2",
		Email:    "anon@example.com",
	})
	assert.ErrorIs(t, err, core.ErrNoProfileName)

	assert.Zero(t, e.stub.CallCount("/api/appuser/socialSignup"))
	assert.Equal(t, core.CredentialNone, e.session.Credential().Kind())
}

func TestSignInWith_OtherErrorPassesThrough(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// Break the app token so the probe fails with 401, not 603.
	badAPI := transport.New(e.api.BaseURL(), "wrong-token", e.session)
	coord := service.NewCoordinator(badAPI, e.authn, e.session)

	_, err := coord.SignInWith(ctx, ports.ProviderIdentity{
		Provider:  ports.ProviderGoogle,
		Token:     "google-token-3",
		GivenName: "Ada",
	})
	require.Error(t, err)

	var apiErr *core.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Code)
	assert.Zero(t, e.stub.CallCount("/api/appuser/socialSignup"))
}

func TestUpdateProfile(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.signUp(t, "ada@example.com")

	before := e.session.Credential().Token()

	profile, err := e.coord.UpdateProfile(ctx, core.Profile{DisplayName: "Countess of Lovelace"})
	require.NoError(t, err)
	assert.Equal(t, "Countess of Lovelace", profile.DisplayName)

	// The refreshed access token replaces the old one.
	assert.Equal(t, core.CredentialAccess, e.session.Credential().Kind())
	assert.NotEqual(t, before, e.session.Credential().Token())
}

func TestUpdateProfile_RequiresAuth(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.coord.UpdateProfile(context.Background(), core.Profile{DisplayName: "X"})
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
	assert.Zero(t, e.stub.CallCount("/api/appuser/updateProfile"))
}

func TestSetUserName(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.signUp(t, "ada@example.com")

	profile, err := e.coord.SetUserName(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "ada", profile.UserName)
}

func TestSetUserName_RequiresAuth(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.coord.SetUserName(context.Background(), "ada")
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.signUp(t, "ada@example.com")

	require.NoError(t, e.coord.Logout(ctx))

	assert.Equal(t, core.CredentialNone, e.session.Credential().Kind())
	assert.Nil(t, e.session.Profile())

	_, err := e.store.Get(ctx, "session")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRestoreSession(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.signUp(t, "ada@example.com")

	// A fresh coordinator sharing the store picks the session back up.
	session := core.NewSession()
	coord := service.NewCoordinator(e.api, e.authn, session, service.WithStore(e.store, "session"))

	require.NoError(t, coord.RestoreSession(ctx))
	assert.Equal(t, core.CredentialAccess, session.Credential().Kind())
	require.NotNil(t, session.Profile())
	assert.Equal(t, "ada@example.com", session.Profile().Handle)
}

func TestRestoreSession_NothingPersisted(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.coord.RestoreSession(context.Background()))
	assert.Equal(t, core.CredentialNone, e.session.Credential().Kind())
}

type fakeProvider struct {
	identity *ports.ProviderIdentity
	err      error
}

func (p *fakeProvider) SignIn(ctx context.Context) (*ports.ProviderIdentity, error) {
	return p.identity, p.err
}

func TestSignInWithProvider(t *testing.T) {
	e := newTestEnv(t)
	e.stub.SeedSocialUser("google", "google-token-9", "grace@example.com", "Grace Hopper")

	profile, err := e.coord.SignInWithProvider(context.Background(), &fakeProvider{
		identity: &ports.ProviderIdentity{Provider: ports.ProviderGoogle, Token: "google-token-9"},
	})
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", profile.Handle)
}

func TestSignInWithProvider_Cancelled(t *testing.T) {
	e := newTestEnv(t)

	profile, err := e.coord.SignInWithProvider(context.Background(), &fakeProvider{})
	require.NoError(t, err)
	assert.Nil(t, profile)
	assert.Equal(t, core.CredentialNone, e.session.Credential().Kind())
	assert.Zero(t, e.stub.CallCount("/api/appuser/socialLogin"))
}

func TestLifecycleEvents(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	t.Cleanup(func() { _ = pubsub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	messages, err := pubsub.Subscribe(ctx, events.DefaultTopic)
	require.NoError(t, err)

	e := newTestEnv(t, service.WithEventPublisher(events.NewWatermillPublisher(pubsub, "")))

	_, err = e.coord.LoginAnonymous(ctx)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		msg.Ack()
		var got ports.Event
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, ports.EventAnonymousLogin, got.Type)
		assert.True(t, strings.HasPrefix(got.Handle, "ANON_"))
	case <-time.After(time.Second):
		t.Fatal("no auth event received")
	}
}
