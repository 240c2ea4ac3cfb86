package core

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToStandard(t *testing.T) {
	// 0xfb 0xff forces the url-safe alphabet characters - and _.
	raw := []byte{0xfb, 0xef, 0xff, 0x01}
	urlSafe := base64.RawURLEncoding.EncodeToString(raw)

	std, err := ToStandard(urlSafe)
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(std)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestToStandard_AcceptsPadded(t *testing.T) {
	raw := []byte("ab")
	padded := base64.URLEncoding.EncodeToString(raw)

	std, err := ToStandard(padded)
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(std)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestToURLSafe(t *testing.T) {
	raw := []byte{0xfb, 0xef, 0xff, 0x01}
	std := base64.StdEncoding.EncodeToString(raw)

	urlSafe, err := ToURLSafe(std)
	require.NoError(t, err)
	assert.NotContains(t, urlSafe, "=")

	decoded, err := base64.RawURLEncoding.DecodeString(urlSafe)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestRoundTrip(t *testing.T) {
	for _, raw := range [][]byte{
		{0x00},
		{0xff, 0xfe},
		[]byte("arbitrary binary challenge material"),
	} {
		urlSafe := base64.RawURLEncoding.EncodeToString(raw)
		std, err := ToStandard(urlSafe)
		require.NoError(t, err)
		back, err := ToURLSafe(std)
		require.NoError(t, err)
		assert.Equal(t, urlSafe, back)
	}
}

func TestChallengeToAuthenticator(t *testing.T) {
	raw := []byte{0xfb, 0xef, 0x01, 0x02}
	options := map[string]any{
		"challenge": base64.RawURLEncoding.EncodeToString(raw),
		"timeout":   60000,
		"rpId":      "example.com",
	}
	data, err := json.Marshal(options)
	require.NoError(t, err)

	out, err := ChallengeToAuthenticator(data)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))

	// Only the challenge is rewritten; everything else passes through.
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), decoded["challenge"])
	assert.Equal(t, float64(60000), decoded["timeout"])
	assert.Equal(t, "example.com", decoded["rpId"])
}

func TestChallengeToAuthenticator_MissingChallenge(t *testing.T) {
	_, err := ChallengeToAuthenticator(json.RawMessage(`{"timeout":60000}`))
	assert.Error(t, err)
}

func TestEncodeRegistration(t *testing.T) {
	raw := []byte{0xfb, 0xef, 0xff}
	std := base64.StdEncoding.EncodeToString(raw)
	urlSafe := base64.RawURLEncoding.EncodeToString(raw)

	wire, err := EncodeRegistration(&RegistrationResult{
		ID:                std,
		RawID:             std,
		AttestationObject: std,
		ClientDataJSON:    std,
	}, "user@example.com")
	require.NoError(t, err)

	assert.Equal(t, urlSafe, wire.ID)
	assert.Equal(t, urlSafe, wire.RawID)
	assert.Equal(t, "public-key", wire.Type)
	assert.Equal(t, "user@example.com", wire.Handle)
	assert.Equal(t, urlSafe, wire.Response.AttestationObject)
	assert.Equal(t, urlSafe, wire.Response.ClientDataJSON)
	assert.Equal(t, "user@example.com", wire.Response.Email)
	assert.NotNil(t, wire.Response.ClientExtensionResults)

	// clientExtensionResults must serialize as an empty object, not null.
	data, err := json.Marshal(wire)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"clientExtensionResults":{}`)
}

func TestEncodeAssertion(t *testing.T) {
	raw := []byte{0xfb, 0xef, 0xff}
	std := base64.StdEncoding.EncodeToString(raw)
	urlSafe := base64.RawURLEncoding.EncodeToString(raw)

	wire, err := EncodeAssertion(&AssertionResult{
		ID:                std,
		RawID:             std,
		ClientDataJSON:    std,
		AuthenticatorData: std,
		Signature:         std,
	}, "user@example.com")
	require.NoError(t, err)

	assert.Equal(t, urlSafe, wire.ID)
	assert.Equal(t, urlSafe, wire.RawID)
	assert.Equal(t, "public-key", wire.Type)
	assert.Equal(t, "user@example.com", wire.Handle)
	assert.Equal(t, urlSafe, wire.Response.ClientDataJSON)
	assert.Equal(t, urlSafe, wire.Response.AuthenticatorData)
	assert.Equal(t, urlSafe, wire.Response.Signature)
}

func TestEncodeRegistration_InvalidBase64(t *testing.T) {
	_, err := EncodeRegistration(&RegistrationResult{ID: "***"}, "h")
	assert.Error(t, err)
}
