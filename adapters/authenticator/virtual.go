// Package authenticator provides a software implementation of the platform
// authenticator capability, backed by a virtual WebAuthn authenticator.
// It stands in for a device passkey facility in headless environments and
// in tests.
package authenticator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/descope/virtualwebauthn"

	"github.com/cosync/appkey-go/core"
	"github.com/cosync/appkey-go/ports"
)

// Virtual holds an in-memory authenticator and the credentials it has
// created. Like a real platform authenticator it accepts ceremony options
// with standard-base64 challenges and returns standard-base64 binary fields.
type Virtual struct {
	rp   virtualwebauthn.RelyingParty
	auth virtualwebauthn.Authenticator

	mu    sync.Mutex
	creds []virtualwebauthn.Credential
}

// NewVirtual creates a software authenticator for the given relying party.
func NewVirtual(rpID, rpName, origin string) *Virtual {
	return &Virtual{
		rp:   virtualwebauthn.RelyingParty{ID: rpID, Name: rpName, Origin: origin},
		auth: virtualwebauthn.NewAuthenticator(),
	}
}

var _ ports.Authenticator = (*Virtual)(nil)

// CreateCredential mints a new EC2 credential and produces an attestation
// for the server's challenge.
func (v *Virtual) CreateCredential(ctx context.Context, options json.RawMessage) (*core.RegistrationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The virtual authenticator speaks the WebAuthn JSON wire form, so the
	// platform-form challenge goes back to url-safe base64 first.
	wire, err := core.ChallengeToWire(options)
	if err != nil {
		return nil, err
	}

	parsed, err := virtualwebauthn.ParseAttestationOptions(string(wire))
	if err != nil {
		return nil, fmt.Errorf("parse attestation options: %w", err)
	}

	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	attestation := virtualwebauthn.CreateAttestationResponse(v.rp, v.auth, cred, *parsed)

	v.mu.Lock()
	v.auth.AddCredential(cred)
	v.creds = append(v.creds, cred)
	v.mu.Unlock()

	var resp struct {
		ID       string `json:"id"`
		RawID    string `json:"rawId"`
		Response struct {
			AttestationObject string `json:"attestationObject"`
			ClientDataJSON    string `json:"clientDataJSON"`
		} `json:"response"`
	}
	if err := json.Unmarshal([]byte(attestation), &resp); err != nil {
		return nil, fmt.Errorf("decode attestation response: %w", err)
	}

	result := &core.RegistrationResult{}
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&result.ID, resp.ID},
		{&result.RawID, resp.RawID},
		{&result.AttestationObject, resp.Response.AttestationObject},
		{&result.ClientDataJSON, resp.Response.ClientDataJSON},
	} {
		std, err := core.ToStandard(f.src)
		if err != nil {
			return nil, fmt.Errorf("re-encode attestation field: %w", err)
		}
		*f.dst = std
	}
	return result, nil
}

// GetAssertion signs the server's challenge with the most recently created
// credential, mimicking a device holding a single passkey.
func (v *Virtual) GetAssertion(ctx context.Context, options json.RawMessage) (*core.AssertionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wire, err := core.ChallengeToWire(options)
	if err != nil {
		return nil, err
	}

	parsed, err := virtualwebauthn.ParseAssertionOptions(string(wire))
	if err != nil {
		return nil, fmt.Errorf("parse assertion options: %w", err)
	}

	v.mu.Lock()
	if len(v.creds) == 0 {
		v.mu.Unlock()
		return nil, fmt.Errorf("no passkey available on this authenticator")
	}
	cred := v.creds[len(v.creds)-1]
	v.mu.Unlock()

	assertion := virtualwebauthn.CreateAssertionResponse(v.rp, v.auth, cred, *parsed)

	var resp struct {
		ID       string `json:"id"`
		RawID    string `json:"rawId"`
		Response struct {
			ClientDataJSON    string `json:"clientDataJSON"`
			AuthenticatorData string `json:"authenticatorData"`
			Signature         string `json:"signature"`
		} `json:"response"`
	}
	if err := json.Unmarshal([]byte(assertion), &resp); err != nil {
		return nil, fmt.Errorf("decode assertion response: %w", err)
	}

	result := &core.AssertionResult{}
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&result.ID, resp.ID},
		{&result.RawID, resp.RawID},
		{&result.ClientDataJSON, resp.Response.ClientDataJSON},
		{&result.AuthenticatorData, resp.Response.AuthenticatorData},
		{&result.Signature, resp.Response.Signature},
	} {
		std, err := core.ToStandard(f.src)
		if err != nil {
			return nil, fmt.Errorf("re-encode assertion field: %w", err)
		}
		*f.dst = std
	}
	return result, nil
}
