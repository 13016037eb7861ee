package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmichat/voicemesh/internal/domain"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope(Frame(`{"type":"offer","target":"bob","offer":{"type":"offer","sdp":"v=0"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindOffer, env.Kind)
	assert.Equal(t, domain.UserID("bob"), env.To)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(env.Payload()))
}

func TestDecodeEnvelopeRejectsUnknownKind(t *testing.T) {
	_, err := DecodeEnvelope(Frame(`{"type":"teleport","target":"bob"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeEnvelopeRejectsMissingTarget(t *testing.T) {
	_, err := DecodeEnvelope(Frame(`{"type":"offer","offer":{}}`))
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestDecodeEnvelopeRejectsBadJSON(t *testing.T) {
	_, err := DecodeEnvelope(Frame(`{"type":`))
	assert.Error(t, err)
}

func TestPayloadMatchesKind(t *testing.T) {
	env := &Envelope{
		Kind:      KindCandidate,
		To:        "bob",
		Offer:     []byte(`{"o":1}`),
		Candidate: []byte(`{"c":1}`),
	}
	assert.JSONEq(t, `{"c":1}`, string(env.Payload()))
}

func TestEncodeOmitsEmptySender(t *testing.T) {
	env := &Envelope{Kind: KindAnswer, To: "bob", Answer: []byte(`{}`)}
	b, err := env.Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"from"`)

	env.From = "alice"
	b, err = env.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"from":"alice"`)
}
