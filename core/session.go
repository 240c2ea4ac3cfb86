package core

import (
	"encoding/json"
	"fmt"
	"sync"
)

// CredentialKind identifies which credential variant a session holds.
type CredentialKind int

const (
	// CredentialNone means the session holds no credential.
	CredentialNone CredentialKind = iota

	// CredentialSignup means a signup is in progress and awaiting
	// out-of-band verification.
	CredentialSignup

	// CredentialAccess means the session is fully authenticated.
	CredentialAccess
)

// Credential is a tagged value holding at most one of a signup token or an
// access token. The zero value holds neither.
type Credential struct {
	kind  CredentialKind
	token string
}

// SignupCredential returns a Credential carrying a signup token.
func SignupCredential(token string) Credential {
	return Credential{kind: CredentialSignup, token: token}
}

// AccessCredential returns a Credential carrying an access token.
func AccessCredential(token string) Credential {
	return Credential{kind: CredentialAccess, token: token}
}

// Kind returns which variant the credential holds.
func (c Credential) Kind() CredentialKind {
	return c.kind
}

// Token returns the bearer token for signup and access credentials, and the
// empty string for CredentialNone.
func (c Credential) Token() string {
	return c.token
}

// Profile is the server-returned user record associated with an access
// token. It is replaced wholesale on every successful flow completion.
type Profile struct {
	Handle       string `json:"handle"`
	UserName     string `json:"userName,omitempty"`
	DisplayName  string `json:"displayName"`
	Locale       string `json:"locale,omitempty"`
	AppleLinked  bool   `json:"appleLinked,omitempty"`
	GoogleLinked bool   `json:"googleLinked,omitempty"`
}

// Session holds the client's credential, profile, and cached application
// config. It is constructed with no credential, mutated only by flow
// completion steps, and reset on logout. The access token and profile are
// always updated together.
//
// Flows are expected to run one at a time per user action, but the holder is
// safe for concurrent readers.
type Session struct {
	mu      sync.RWMutex
	cred    Credential
	profile *Profile
	app     *App
}

// NewSession returns a session with no credential.
func NewSession() *Session {
	return &Session{}
}

// Credential returns the current credential variant.
func (s *Session) Credential() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// Profile returns a copy of the current profile, or nil when no flow has
// completed.
func (s *Session) Profile() *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	p := *s.profile
	return &p
}

// App returns the cached application config, or nil before GetApp.
func (s *Session) App() *App {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app
}

// SetApp caches the application config.
func (s *Session) SetApp(app *App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.app = app
}

// SetSignupToken replaces the credential with a signup token. Any previous
// access token and profile are dropped.
func (s *Session) SetSignupToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = SignupCredential(token)
	s.profile = nil
}

// SetAuthenticated replaces the credential with an access token and the
// profile in a single step.
func (s *Session) SetAuthenticated(token string, profile *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = AccessCredential(token)
	s.profile = profile
}

// Reset clears the credential and profile. The cached app config survives.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{}
	s.profile = nil
}

type sessionSnapshot struct {
	Kind    CredentialKind `json:"kind"`
	Token   string         `json:"token,omitempty"`
	Profile *Profile       `json:"profile,omitempty"`
}

// Snapshot serializes the credential and profile for persistence.
func (s *Session) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := json.Marshal(sessionSnapshot{
		Kind:    s.cred.kind,
		Token:   s.cred.token,
		Profile: s.profile,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal session snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the credential and profile from a snapshot.
func (s *Session) Restore(data []byte) error {
	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal session snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{kind: snap.Kind, token: snap.Token}
	s.profile = snap.Profile
	return nil
}
