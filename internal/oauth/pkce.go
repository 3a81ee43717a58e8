package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/oauth2"
)

const (
	verifierLength  = 128
	verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

	stateBytes = 16
)

// NewVerifier returns a PKCE code verifier of 128 characters drawn uniformly
// from the unreserved URI characters.
func NewVerifier() (string, error) {
	limit := big.NewInt(int64(len(verifierCharset)))

	verifier := make([]byte, verifierLength)
	for i := range verifier {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generating code verifier: %w", err)
		}
		verifier[i] = verifierCharset[n.Int64()]
	}

	return string(verifier), nil
}

// Challenge derives the S256 code challenge of a verifier.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// NewState returns 32 random hex characters.
func NewState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
