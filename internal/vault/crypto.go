// File: internal/vault/crypto.go
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const derivedKeyLen = 32 // AES-256

// hkdfInfo binds derived keys to this store so the same agent key used
// elsewhere never yields the same AES key.
var hkdfInfo = []byte("agentpass/vault/v1")

var (
	// ErrDecryptFailed is returned when a stored blob fails authentication,
	// which is what a key mismatch or tampered row looks like. Decryption
	// fails closed: no partial plaintext is ever returned.
	ErrDecryptFailed = errors.New("vault: decryption failed")
	// ErrEmptyKeyMaterial is returned when the constructor receives no key.
	ErrEmptyKeyMaterial = errors.New("vault: key material must not be empty")
)

// cipherBox performs the authenticated encryption for vault rows. A fresh
// random nonce is generated per write and prepended to the sealed blob; the
// whole thing is stored as one URL-safe base64 string.
type cipherBox struct {
	aead cipher.AEAD
}

// newCipherBox derives a 256-bit AES key from the agent's private key
// material via HKDF-SHA256 and builds the GCM instance used for all rows.
func newCipherBox(keyMaterial []byte) (*cipherBox, error) {
	if len(keyMaterial) == 0 {
		return nil, ErrEmptyKeyMaterial
	}

	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, keyMaterial, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("vault: key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher init failed: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: aead init failed: %w", err)
	}
	return &cipherBox{aead: aead}, nil
}

// seal encrypts plaintext and returns base64url(nonce || ciphertext || tag).
func (c *cipherBox) seal(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce generation failed: %w", err)
	}
	blob := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// open decodes and decrypts a sealed blob, verifying its authentication tag.
func (c *cipherBox) open(encoded string) ([]byte, error) {
	blob, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed encoding", ErrDecryptFailed)
	}
	if len(blob) < c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: blob too short", ErrDecryptFailed)
	}
	nonce, ciphertext := blob[:c.aead.NonceSize()], blob[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
