package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionPayloadRoundTrip(t *testing.T) {
	codec := NewCodec("rollcall-test", "key-one")

	payload, err := codec.SessionPayload("sess-1", "Math")
	require.NoError(t, err)

	tok, err := codec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, KindSession, tok.Kind)
	assert.Equal(t, "sess-1", tok.SessionID)
	assert.Equal(t, "Math", tok.Subject)
	assert.Empty(t, tok.IdentityID)
}

func TestSessionPayloadCarriesNoExpiry(t *testing.T) {
	// The payload for an expired session must still decode; expiry is the
	// state machine's outcome, not a malformed token, so session payloads
	// are signed without an exp claim.
	codec := NewCodec("rollcall-test", "key-one")
	payload, err := codec.SessionPayload("sess-1", "Math")
	require.NoError(t, err)

	tok, err := codec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", tok.SessionID)

	parsed, err := jwt.ParseWithClaims(payload, &scanClaims{}, func(*jwt.Token) (interface{}, error) {
		return []byte("key-one"), nil
	})
	require.NoError(t, err)
	assert.Nil(t, parsed.Claims.(*scanClaims).ExpiresAt)
}

func TestIdentityPayloadRoundTrip(t *testing.T) {
	codec := NewCodec("rollcall-test", "key-one")

	payload, err := codec.IdentityPayload("student-7", time.Hour)
	require.NoError(t, err)

	tok, err := codec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, KindIdentity, tok.Kind)
	assert.Equal(t, "student-7", tok.IdentityID)
	assert.Empty(t, tok.SessionID)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	codec := NewCodec("rollcall-test", "key-one")
	_, err := codec.Decode("{\"sessionId\":\"raw-json-is-not-signed\"}")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodeRejectsForeignSignature(t *testing.T) {
	issuer := NewCodec("rollcall-test", "key-one")
	verifier := NewCodec("rollcall-test", "key-two")

	payload, err := issuer.IdentityPayload("student-7", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Decode(payload)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodeRejectsWrongIssuer(t *testing.T) {
	issuer := NewCodec("someone-else", "key-one")
	verifier := NewCodec("rollcall-test", "key-one")

	payload, err := issuer.IdentityPayload("student-7", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Decode(payload)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodeRejectsExpiredIdentityPayload(t *testing.T) {
	codec := NewCodec("rollcall-test", "key-one")
	payload, err := codec.IdentityPayload("student-7", -time.Minute)
	require.NoError(t, err)

	_, err = codec.Decode(payload)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
