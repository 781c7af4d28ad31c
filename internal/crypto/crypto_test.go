package crypto_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prediclaw/internal/crypto"
)

func TestSignPayloadMatchesKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	sig := crypto.SignPayload("Jefe", []byte("what do ya want for nothing?"))
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", sig)
}

func TestVerifyPayload(t *testing.T) {
	body := []byte(`{"id":"1","event_type":"market_created"}`)
	sig := crypto.SignPayload("pc_key", body)

	assert.True(t, crypto.VerifyPayload("pc_key", body, sig))
	assert.False(t, crypto.VerifyPayload("other", body, sig))
	assert.False(t, crypto.VerifyPayload("pc_key", append(body, ' '), sig))
	assert.False(t, crypto.VerifyPayload("pc_key", body, "not-hex"))
}

func TestSecretBoxRoundTrip(t *testing.T) {
	box, err := crypto.NewSecretBox("correct horse", "prediclaw-test")
	require.NoError(t, err)

	sealed, err := box.Seal("pc_abcdef")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1:"))
	assert.NotContains(t, sealed, "pc_abcdef")

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "pc_abcdef", opened)

	other, err := crypto.NewSecretBox("wrong", "prediclaw-test")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)
}

func TestNewSecretBoxRejectsEmptyInputs(t *testing.T) {
	_, err := crypto.NewSecretBox("", "salt")
	assert.Error(t, err)
	_, err = crypto.NewSecretBox("pass", "")
	assert.Error(t, err)
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := crypto.GenerateAPIKey()
	require.NoError(t, err)
	b, err := crypto.GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "pc_"))
	assert.Len(t, a, 3+48)
	assert.NotEqual(t, a, b)
	assert.Len(t, crypto.HashAPIKey(a), 64)
}
