package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// The identity API speaks unpadded URL-safe base64 for all ceremony binary
// fields; the platform authenticator expects padded standard base64. The
// translation is applied to a fixed set of named fields and nothing else:
// the challenge on the way in, and the credential id, raw id, attestation
// object, client data, authenticator data, and signature on the way out.

// ToStandard re-encodes a URL-safe base64 string to standard base64.
func ToStandard(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return "", fmt.Errorf("decode url-safe base64: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// ToURLSafe re-encodes a standard base64 string to unpadded URL-safe base64.
func ToURLSafe(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("decode standard base64: %w", err)
		}
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ChallengeToAuthenticator rewrites the challenge field of server-issued
// ceremony options from the wire encoding to the platform encoding. All
// other fields pass through untouched.
func ChallengeToAuthenticator(options json.RawMessage) (json.RawMessage, error) {
	return rewriteChallenge(options, ToStandard)
}

// ChallengeToWire is the inverse of ChallengeToAuthenticator.
func ChallengeToWire(options json.RawMessage) (json.RawMessage, error) {
	return rewriteChallenge(options, ToURLSafe)
}

func rewriteChallenge(options json.RawMessage, conv func(string) (string, error)) (json.RawMessage, error) {
	var m map[string]any
	if err := json.Unmarshal(options, &m); err != nil {
		return nil, fmt.Errorf("decode ceremony options: %w", err)
	}
	challenge, ok := m["challenge"].(string)
	if !ok || challenge == "" {
		return nil, fmt.Errorf("ceremony options carry no challenge")
	}
	converted, err := conv(challenge)
	if err != nil {
		return nil, fmt.Errorf("re-encode challenge: %w", err)
	}
	m["challenge"] = converted
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode ceremony options: %w", err)
	}
	return out, nil
}

// RegistrationResult is the platform authenticator's response to a
// credential creation request. Binary fields are standard base64.
type RegistrationResult struct {
	ID                string
	RawID             string
	AttestationObject string
	ClientDataJSON    string
}

// AssertionResult is the platform authenticator's response to an assertion
// request. Binary fields are standard base64.
type AssertionResult struct {
	ID                string
	RawID             string
	ClientDataJSON    string
	AuthenticatorData string
	Signature         string
}

// RegistrationResponse is the wire form of a registration result, submitted
// to the finish endpoint of registration flows.
type RegistrationResponse struct {
	ID       string             `json:"id"`
	RawID    string             `json:"rawId"`
	Type     string             `json:"type"`
	Handle   string             `json:"handle,omitempty"`
	Response AttestationPayload `json:"response"`
}

// AttestationPayload carries the url-safe re-encoded attestation fields.
type AttestationPayload struct {
	AttestationObject      string         `json:"attestationObject"`
	ClientDataJSON         string         `json:"clientDataJSON"`
	ClientExtensionResults map[string]any `json:"clientExtensionResults"`
	Email                  string         `json:"email,omitempty"`
}

// AssertionResponse is the wire form of an assertion result, submitted to
// the finish endpoint of the login flow.
type AssertionResponse struct {
	ID                     string           `json:"id"`
	RawID                  string           `json:"rawId"`
	Type                   string           `json:"type"`
	Handle                 string           `json:"handle,omitempty"`
	ClientExtensionResults map[string]any   `json:"clientExtensionResults"`
	Response               AssertionPayload `json:"response"`
}

// AssertionPayload carries the url-safe re-encoded assertion fields.
type AssertionPayload struct {
	ClientDataJSON    string `json:"clientDataJSON"`
	AuthenticatorData string `json:"authenticatorData"`
	Signature         string `json:"signature"`
}

// EncodeRegistration converts a registration result to its wire form.
func EncodeRegistration(r *RegistrationResult, handle string) (*RegistrationResponse, error) {
	fields := [4]string{r.ID, r.RawID, r.AttestationObject, r.ClientDataJSON}
	for i, f := range fields {
		converted, err := ToURLSafe(f)
		if err != nil {
			return nil, fmt.Errorf("encode registration result: %w", err)
		}
		fields[i] = converted
	}
	return &RegistrationResponse{
		ID:     fields[0],
		RawID:  fields[1],
		Type:   "public-key",
		Handle: handle,
		Response: AttestationPayload{
			AttestationObject:      fields[2],
			ClientDataJSON:         fields[3],
			ClientExtensionResults: map[string]any{},
			Email:                  handle,
		},
	}, nil
}

// EncodeAssertion converts an assertion result to its wire form.
func EncodeAssertion(a *AssertionResult, handle string) (*AssertionResponse, error) {
	fields := [5]string{a.ID, a.RawID, a.ClientDataJSON, a.AuthenticatorData, a.Signature}
	for i, f := range fields {
		converted, err := ToURLSafe(f)
		if err != nil {
			return nil, fmt.Errorf("encode assertion result: %w", err)
		}
		fields[i] = converted
	}
	return &AssertionResponse{
		ID:                     fields[0],
		RawID:                  fields[1],
		Type:                   "public-key",
		Handle:                 handle,
		ClientExtensionResults: map[string]any{},
		Response: AssertionPayload{
			ClientDataJSON:    fields[2],
			AuthenticatorData: fields[3],
			Signature:         fields[4],
		},
	}, nil
}
