// Package credential verifies the PASETO bearer tokens producers present
// when ingesting events. Claims are scoped to an application rather than
// a user; issuing tokens is the control plane's job.
package credential

import (
	"crypto/ed25519"
	"errors"

	"github.com/google/uuid"
	"github.com/relayforge/relayforge/crypto"
)

// ErrInvalidToken is returned for any token that fails verification or
// whose claims cannot be parsed into IngestClaims.
var ErrInvalidToken = errors.New("invalid ingestion token")

// IngestClaims identifies the application and the specific token used for
// one ingestion request, for the Event's ingesting_token_id field.
type IngestClaims struct {
	ApplicationID uuid.UUID
	TokenID       uuid.UUID
}

// Verifier checks ingestion bearer tokens against a PASETO public key.
type Verifier struct {
	publicKey ed25519.PublicKey
}

// NewVerifier returns a Verifier bound to publicKey.
func NewVerifier(publicKey ed25519.PublicKey) *Verifier {
	return &Verifier{publicKey: publicKey}
}

// Verify parses and validates token, returning the application and token
// identifiers it asserts.
func (v *Verifier) Verify(token string) (IngestClaims, error) {
	claims, err := crypto.VerifyToken(token, v.publicKey)
	if err != nil {
		return IngestClaims{}, ErrInvalidToken
	}

	appID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return IngestClaims{}, ErrInvalidToken
	}
	tokenID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return IngestClaims{}, ErrInvalidToken
	}

	return IngestClaims{ApplicationID: appID, TokenID: tokenID}, nil
}
