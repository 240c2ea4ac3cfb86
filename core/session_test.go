package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_StartsEmpty(t *testing.T) {
	s := NewSession()
	assert.Equal(t, CredentialNone, s.Credential().Kind())
	assert.Empty(t, s.Credential().Token())
	assert.Nil(t, s.Profile())
	assert.Nil(t, s.App())
}

func TestSession_CredentialExclusive(t *testing.T) {
	s := NewSession()

	s.SetAuthenticated("access-1", &Profile{Handle: "user@example.com"})
	assert.Equal(t, CredentialAccess, s.Credential().Kind())
	assert.Equal(t, "access-1", s.Credential().Token())
	require.NotNil(t, s.Profile())

	// Starting a new signup drops the access token and profile.
	s.SetSignupToken("signup-1")
	assert.Equal(t, CredentialSignup, s.Credential().Kind())
	assert.Equal(t, "signup-1", s.Credential().Token())
	assert.Nil(t, s.Profile())

	// Completing a signup replaces the signup token with an access token.
	s.SetAuthenticated("access-2", &Profile{Handle: "user@example.com"})
	assert.Equal(t, CredentialAccess, s.Credential().Kind())
	assert.Equal(t, "access-2", s.Credential().Token())
}

func TestSession_ProfileIsCopy(t *testing.T) {
	s := NewSession()
	s.SetAuthenticated("tok", &Profile{Handle: "user@example.com", DisplayName: "Ada"})

	p := s.Profile()
	p.DisplayName = "mutated"
	assert.Equal(t, "Ada", s.Profile().DisplayName)
}

func TestSession_ResetKeepsApp(t *testing.T) {
	s := NewSession()
	s.SetApp(&App{AppID: "app-1"})
	s.SetAuthenticated("tok", &Profile{Handle: "user@example.com"})

	s.Reset()

	assert.Equal(t, CredentialNone, s.Credential().Kind())
	assert.Nil(t, s.Profile())
	require.NotNil(t, s.App())
	assert.Equal(t, "app-1", s.App().AppID)
}

func TestSession_SnapshotRestore(t *testing.T) {
	s := NewSession()
	s.SetAuthenticated("tok", &Profile{Handle: "user@example.com", DisplayName: "Ada"})

	data, err := s.Snapshot()
	require.NoError(t, err)

	restored := NewSession()
	require.NoError(t, restored.Restore(data))

	assert.Equal(t, CredentialAccess, restored.Credential().Kind())
	assert.Equal(t, "tok", restored.Credential().Token())
	require.NotNil(t, restored.Profile())
	assert.Equal(t, "Ada", restored.Profile().DisplayName)
}

func TestSession_RestoreRejectsGarbage(t *testing.T) {
	s := NewSession()
	assert.Error(t, s.Restore([]byte("not json")))
}
