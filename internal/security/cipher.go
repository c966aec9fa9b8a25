package security

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCiphertext is returned when a sealed value is truncated or fails authentication.
var ErrCiphertext = errors.New("security: invalid ciphertext")

// FieldCipher seals individual column values with XChaCha20-Poly1305.
// Output layout is nonce || ciphertext.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher returns a cipher for a 32-byte key.
func NewFieldCipher(key []byte) (*FieldCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &FieldCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *FieldCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *FieldCipher) Decrypt(sealed []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns+c.aead.Overhead() {
		return nil, ErrCiphertext
	}
	out, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, ErrCiphertext
	}
	return out, nil
}
