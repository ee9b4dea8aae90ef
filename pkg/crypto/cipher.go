// Package crypto encrypts venue credential secrets at rest with
// AES-256-GCM. Ciphertexts carry a key-version prefix so keys can be
// rotated without re-encrypting everything at once.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the required AES-256 key size.
	KeySize = 32
	// nonceSize is the GCM nonce size.
	nonceSize = 12
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Cipher seals and opens secrets with one key version.
type Cipher struct {
	key     []byte
	version int
}

// NewCipher creates a Cipher; key must be 32 bytes.
func NewCipher(key []byte, version int) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Cipher{key: key, version: version}, nil
}

// Seal encrypts plaintext, producing "sec[vN]:base64(nonce+ciphertext)".
func (c *Cipher) Seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("sec[v%d]:%s", c.version, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open decrypts a ciphertext produced by Seal.
func (c *Cipher) Open(ciphertext string) (string, error) {
	idx := strings.Index(ciphertext, "]:")
	if !strings.HasPrefix(ciphertext, "sec[v") || idx == -1 {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext[idx+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// ParseVersion extracts the key version from a ciphertext, 0 when invalid.
func ParseVersion(ciphertext string) int {
	if !strings.HasPrefix(ciphertext, "sec[v") {
		return 0
	}
	var version int
	if _, err := fmt.Sscanf(ciphertext, "sec[v%d]:", &version); err != nil {
		return 0
	}
	return version
}
