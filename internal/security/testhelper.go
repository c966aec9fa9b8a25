package security

import (
	"crypto"
	"sync"
	"time"
)

var (
	testKeyOnce   sync.Once
	testSigner    crypto.Signer
	testPublicKey crypto.PublicKey
	testKeyErr    error
)

// NewTestTokenProvider returns a TokenProvider over a P-256 key generated once per test binary.
// For unit tests only.
func NewTestTokenProvider() (*TokenProvider, error) {
	testKeyOnce.Do(func() {
		testSigner, testPublicKey, testKeyErr = GenerateEphemeralKey()
	})
	if testKeyErr != nil {
		return nil, testKeyErr
	}
	return NewTokenProvider(testSigner, testPublicKey, "test-issuer", "test-audience", 15*time.Minute), nil
}
