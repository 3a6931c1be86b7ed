// Package token issues and decodes the opaque payloads carried by QR codes.
// The core never sees raw pixels; an external scanner hands it the decoded
// payload string, which this package verifies and turns into a typed Token.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind discriminates the two payload types of the two-phase scan protocol.
type Kind string

const (
	// KindSession identifies an attendance session; scanning it opens
	// phase one.
	KindSession Kind = "attendance_session"
	// KindIdentity is a person's personal payload, presented in phase two.
	KindIdentity Kind = "identity"
)

// ErrInvalidPayload covers malformed, forged, and mistyped payloads.
var ErrInvalidPayload = errors.New("invalid scan payload")

// Token is a verified, decoded scan payload.
type Token struct {
	Kind       Kind
	SessionID  string
	IdentityID string
	Subject    string
}

// Decoder is the capability the verification core depends on; Codec is the
// production implementation.
type Decoder interface {
	Decode(payload string) (Token, error)
}

type scanClaims struct {
	Kind    Kind   `json:"kind"`
	Subject string `json:"subj,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies scan payloads with HS256.
type Codec struct {
	issuer string
	key    []byte
}

// NewCodec creates a codec bound to an issuer and signing key.
func NewCodec(issuer, key string) *Codec {
	return &Codec{issuer: issuer, key: []byte(key)}
}

// SessionPayload signs a session token. Session payloads carry no exp claim:
// the session state machine is the sole authority on liveness, so a scan of
// an expired session must surface as a session-expired outcome rather than a
// malformed payload, no matter how long after expiry the scan happens.
func (c *Codec) SessionPayload(sessionID, subject string) (string, error) {
	return c.sign(scanClaims{
		Kind:    KindSession,
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   c.issuer,
			Subject:  sessionID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	})
}

// IdentityPayload signs a person's long-lived personal token.
func (c *Codec) IdentityPayload(identityID string, ttl time.Duration) (string, error) {
	return c.sign(scanClaims{
		Kind: KindIdentity,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   identityID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
}

func (c *Codec) sign(claims scanClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return signed, nil
}

// Decode verifies a payload and returns the typed token. Any parse,
// signature, expiry, or issuer failure maps to ErrInvalidPayload; callers do
// not need to distinguish why a payload is bad.
func (c *Codec) Decode(payload string) (Token, error) {
	parsed, err := jwt.ParseWithClaims(payload, &scanClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return c.key, nil
	})
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	claims, ok := parsed.Claims.(*scanClaims)
	if !ok || !parsed.Valid {
		return Token{}, ErrInvalidPayload
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return Token{}, fmt.Errorf("%w: issuer mismatch", ErrInvalidPayload)
	}

	tok := Token{Kind: claims.Kind, Subject: claims.Subject}
	switch claims.Kind {
	case KindSession:
		tok.SessionID = claims.RegisteredClaims.Subject
	case KindIdentity:
		tok.IdentityID = claims.RegisteredClaims.Subject
	default:
		return Token{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, claims.Kind)
	}
	return tok, nil
}
