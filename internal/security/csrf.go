package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// CSRFTokenLength is the hex length of tokens from GenerateSecureToken(32) and CSRFBinder.Issue.
const CSRFTokenLength = 64

// GenerateSecureToken returns n random bytes from crypto/rand, hex-encoded (2n characters).
func GenerateSecureToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("security: token length must be positive")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ValidateCSRFToken accepts any 64-character token while a session token is present.
// It is not bound to the session; use CSRFBinder where that matters.
func ValidateCSRFToken(token, sessionToken string) bool {
	return len(token) == CSRFTokenLength && sessionToken != ""
}

// CSRFBinder issues session-bound CSRF tokens as HMAC-SHA256(secret, sessionID).
type CSRFBinder struct {
	secret []byte
}

// NewCSRFBinder returns a binder keyed with secret, which must not be empty.
func NewCSRFBinder(secret string) (*CSRFBinder, error) {
	if secret == "" {
		return nil, errors.New("security: csrf secret is required")
	}
	return &CSRFBinder{secret: []byte(secret)}, nil
}

// Issue returns the hex token bound to sessionID.
func (b *CSRFBinder) Issue(sessionID string) string {
	return hex.EncodeToString(b.mac(sessionID))
}

// Verify reports whether token was issued for sessionID. It compares in constant time.
func (b *CSRFBinder) Verify(token, sessionID string) bool {
	if sessionID == "" || len(token) != CSRFTokenLength {
		return false
	}
	got, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, b.mac(sessionID)) == 1
}

func (b *CSRFBinder) mac(sessionID string) []byte {
	m := hmac.New(sha256.New, b.secret)
	m.Write([]byte(sessionID))
	return m.Sum(nil)
}
