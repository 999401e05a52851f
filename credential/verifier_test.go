package credential

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/relayforge/relayforge/crypto"
)

func TestVerifierVerify(t *testing.T) {
	publicKey, privateKey, _ := ed25519.GenerateKey(nil)
	_, wrongKey, _ := ed25519.GenerateKey(nil)

	appID := uuid.New()
	tokenID := uuid.New()

	validToken, err := crypto.GenerateToken(crypto.TokenClaims{
		Subject:   appID.String(),
		SessionID: tokenID.String(),
		Audience:  "relayforge-ingest",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}, privateKey)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	nonUUIDSubjectToken, err := crypto.GenerateToken(crypto.TokenClaims{
		Subject:   "not-a-uuid",
		SessionID: tokenID.String(),
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}, privateKey)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	wrongKeyToken, err := crypto.GenerateToken(crypto.TokenClaims{
		Subject:   appID.String(),
		SessionID: tokenID.String(),
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}, wrongKey)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "valid token", token: validToken, wantErr: false},
		{name: "subject not a uuid", token: nonUUIDSubjectToken, wantErr: true},
		{name: "signed with wrong key", token: wrongKeyToken, wantErr: true},
		{name: "garbage token", token: "not-even-paseto", wantErr: true},
		{name: "empty token", token: "", wantErr: true},
	}

	verifier := NewVerifier(publicKey)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := verifier.Verify(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if err != ErrInvalidToken {
					t.Errorf("error = %v, want ErrInvalidToken", err)
				}
				return
			}
			if claims.ApplicationID != appID {
				t.Errorf("ApplicationID = %v, want %v", claims.ApplicationID, appID)
			}
			if claims.TokenID != tokenID {
				t.Errorf("TokenID = %v, want %v", claims.TokenID, tokenID)
			}
		})
	}
}
