package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cosmichat/voicemesh/internal/domain"
)

type EnvelopeKind string

const (
	KindOffer     EnvelopeKind = "offer"
	KindAnswer    EnvelopeKind = "answer"
	KindCandidate EnvelopeKind = "ice-candidate"
)

var (
	ErrUnknownKind = errors.New("unknown envelope kind")
	ErrNoTarget    = errors.New("envelope has no target")
)

// Envelope is one addressed signaling message. The relay never looks at the
// payload fields; it only rewrites From and routes on To.
type Envelope struct {
	Kind      EnvelopeKind    `json:"type"`
	From      domain.UserID   `json:"from,omitempty"`
	To        domain.UserID   `json:"target"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func (e *Envelope) Validate() error {
	switch e.Kind {
	case KindOffer, KindAnswer, KindCandidate:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.To == "" {
		return ErrNoTarget
	}
	return nil
}

// Payload returns whichever body matches the envelope kind.
func (e *Envelope) Payload() json.RawMessage {
	switch e.Kind {
	case KindOffer:
		return e.Offer
	case KindAnswer:
		return e.Answer
	case KindCandidate:
		return e.Candidate
	}
	return nil
}

func DecodeEnvelope(data Frame) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) Encode() (Frame, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}
