// Package stubserver is an in-process identity server stub. It implements
// the appuser endpoints with real WebAuthn ceremonies so the client can be
// exercised end to end without a deployed backend, both in tests and in
// the development CLI.
package stubserver

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cosync/appkey-go/core"
)

// Config controls the stub's tenant configuration and token handling.
type Config struct {
	AppToken   string
	JWTSecret  string
	SignupCode string
	RPID       string
	RPOrigin   string
	App        core.App
}

// DefaultConfig returns a ready-to-use email-handle tenant.
func DefaultConfig() Config {
	return Config{
		AppToken:   "app-token-stub",
		JWTSecret:  "stub-jwt-secret",
		SignupCode: "1234",
		RPID:       "localhost",
		RPOrigin:   "http://localhost",
		App: core.App{
			AppID:                 "stub-app",
			DisplayAppName:        "Stub App",
			HandleType:            core.HandleTypeEmail,
			AnonymousLoginEnabled: true,
			AppleLoginEnabled:     true,
			GoogleLoginEnabled:    true,
			Locales:               []string{"EN"},
		},
	}
}

// Call records one request received by the stub.
type Call struct {
	Method string
	Path   string
}

type user struct {
	handle            string
	userName          string
	displayName       string
	locale            string
	appleLinked       bool
	googleLinked      bool
	requireAddPasskey bool
	pending           bool

	id          []byte
	credentials []webauthn.Credential
}

func (u *user) WebAuthnID() []byte                         { return u.id }
func (u *user) WebAuthnName() string                       { return u.handle }
func (u *user) WebAuthnDisplayName() string                { return u.displayName }
func (u *user) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// Server holds the stub's in-memory state behind a gin router.
type Server struct {
	cfg    Config
	wa     *webauthn.WebAuthn
	router *gin.Engine

	mu            sync.Mutex
	users         map[string]*user
	regSessions   map[string]*webauthn.SessionData
	loginSessions map[string]*webauthn.SessionData
	signupTokens  map[string]string
	accessTokens  map[string]string
	resetTokens   map[string]string
	socialTokens  map[string]string
	calls         []Call
}

// New creates a stub server for the given configuration.
func New(cfg Config) (*Server, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.App.DisplayAppName,
		RPID:          cfg.RPID,
		RPOrigins:     []string{cfg.RPOrigin},
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}

	s := &Server{
		cfg:           cfg,
		wa:            wa,
		users:         make(map[string]*user),
		regSessions:   make(map[string]*webauthn.SessionData),
		loginSessions: make(map[string]*webauthn.SessionData),
		signupTokens:  make(map[string]string),
		accessTokens:  make(map[string]string),
		resetTokens:   make(map[string]string),
		socialTokens:  make(map[string]string),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.record())

	api := router.Group("/api/appuser")
	{
		api.GET("/app", s.getApp)
		api.POST("/login", s.login)
		api.POST("/loginComplete", s.loginComplete)
		api.POST("/loginAnonymous", s.loginAnonymous)
		api.POST("/loginAnonymousComplete", s.loginAnonymousComplete)
		api.POST("/signup", s.signup)
		api.POST("/signupConfirm", s.signupConfirm)
		api.POST("/signupComplete", s.signupComplete)
		api.POST("/addPasskey", s.addPasskey)
		api.POST("/addPasskeyComplete", s.addPasskeyComplete)
		api.POST("/socialLogin", s.socialLogin)
		api.POST("/socialSignup", s.socialSignup)
		api.POST("/updateProfile", s.updateProfile)
		api.POST("/setUsername", s.setUsername)
	}

	s.router = router
	return s, nil
}

// Handler exposes the stub as an http.Handler, for httptest or ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the stub on addr.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) record() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: c.Request.Method, Path: c.Request.URL.Path})
		s.mu.Unlock()
		c.Next()
	}
}

// Calls returns a copy of all recorded requests.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many requests hit the given path.
func (s *Server) CallCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, call := range s.calls {
		if call.Path == path {
			n++
		}
	}
	return n
}

// SeedResetUser creates an account that lost its passkey and returns the
// reset token the account holder would receive out of band.
func (s *Server) SeedResetUser(handle, displayName string) string {
	token := uuid.New().String()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[handle] = &user{
		handle:            handle,
		displayName:       displayName,
		requireAddPasskey: true,
		id:                []byte(uuid.New().String()),
	}
	s.resetTokens[token] = handle
	return token
}

// SeedSocialUser creates an account already linked to a provider identity
// token, so a social login with that token succeeds.
func (s *Server) SeedSocialUser(provider, token, handle, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &user{
		handle:      handle,
		displayName: displayName,
		id:          []byte(uuid.New().String()),
	}
	linkProvider(u, provider)
	s.users[handle] = u
	s.socialTokens[provider+":"+token] = handle
}

func linkProvider(u *user, provider string) {
	switch provider {
	case "apple":
		u.appleLinked = true
	case "google":
		u.googleLinked = true
	}
}

func (s *Server) issueAccessToken(handle string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   handle,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	s.accessTokens[token] = handle
	return token, nil
}
