// Package token signs and verifies the two token kinds the pairing flow
// uses: the pairing token embedded in a QR image and the session token
// handed to a device after redemption. The kinds share one signing key but
// carry a kind claim so one can never stand in for the other.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/pairdesk/qr-auth-server/internal/errors"
)

type Kind string

const (
	KindPairing Kind = "pairing"
	KindSession Kind = "session"
)

const issuer = "qr-auth-server"

type claims struct {
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// Codec issues and verifies HMAC-SHA256 signed tokens. Signature comparison
// is constant-time inside the jwt library.
type Codec struct {
	secret     []byte
	pairingTTL time.Duration
	sessionTTL time.Duration
}

func NewCodec(secret string, pairingTTL, sessionTTL time.Duration) (*Codec, error) {
	if len(secret) < 16 {
		return nil, errors.New("token: secret must be at least 16 characters")
	}
	return &Codec{
		secret:     []byte(secret),
		pairingTTL: pairingTTL,
		sessionTTL: sessionTTL,
	}, nil
}

// IssuePairing signs a pairing token bound to one pairing-code record. The
// code ID travels in the jti claim so redemption resolves the exact record
// the token was minted for, not whatever code the user holds now.
func (c *Codec) IssuePairing(userID, codeID string) (string, error) {
	return c.issue(userID, codeID, KindPairing, c.pairingTTL)
}

func (c *Codec) IssueSession(userID string) (string, error) {
	return c.issue(userID, "", KindSession, c.sessionTTL)
}

// VerifyPairing returns the user ID and pairing-code ID carried by a valid
// pairing token.
func (c *Codec) VerifyPairing(tokenStr string) (string, string, error) {
	cl, err := c.verify(tokenStr, KindPairing)
	if err != nil {
		return "", "", err
	}
	if cl.ID == "" {
		return "", "", apperrors.TokenMalformed()
	}
	return cl.Subject, cl.ID, nil
}

// VerifySession returns the user ID carried by a valid session token.
func (c *Codec) VerifySession(tokenStr string) (string, error) {
	cl, err := c.verify(tokenStr, KindSession)
	if err != nil {
		return "", err
	}
	return cl.Subject, nil
}

func (c *Codec) issue(userID, codeID string, kind Kind, ttl time.Duration) (string, error) {
	now := time.Now()

	cl := claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			ID:        codeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (c *Codec) verify(tokenStr string, kind Kind) (*claims, error) {
	parsed, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classify(err)
	}

	cl, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, apperrors.TokenMalformed()
	}
	if cl.Kind != kind {
		return nil, apperrors.TokenWrongKind(string(kind))
	}
	if cl.Subject == "" {
		return nil, apperrors.TokenMalformed()
	}

	return cl, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.TokenExpired().WithCause(err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.TokenSignature().WithCause(err)
	default:
		return apperrors.TokenMalformed().WithCause(err)
	}
}
