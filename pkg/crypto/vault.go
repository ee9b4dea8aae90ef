package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	ErrKeyNotFound  = errors.New("encryption key not found")
	ErrKeyNotLoaded = errors.New("vault not initialized")
)

// envKeyName is the environment variable holding the base64 master key;
// rotated versions append _V2, _V3, ...
const envKeyName = "CREDENTIAL_MASTER_KEY"

// Vault decrypts credential secrets across key versions. New secrets are
// always sealed with the latest loaded version.
type Vault struct {
	mu         sync.RWMutex
	currentVer int
	ciphers    map[int]*Cipher
}

// NewVault loads key versions from the environment. Version 1 is required.
func NewVault() (*Vault, error) {
	v := &Vault{ciphers: make(map[int]*Cipher)}

	if err := v.loadKey(1, envKeyName); err != nil {
		return nil, fmt.Errorf("load primary key: %w", err)
	}
	v.currentVer = 1

	for ver := 2; ver <= 10; ver++ {
		if err := v.loadKey(ver, fmt.Sprintf("%s_V%d", envKeyName, ver)); err == nil {
			v.currentVer = ver
		}
	}
	return v, nil
}

func (v *Vault) loadKey(version int, envName string) error {
	encoded := os.Getenv(envName)
	if encoded == "" {
		return ErrKeyNotFound
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode key %s: %w", envName, err)
	}
	c, err := NewCipher(key, version)
	if err != nil {
		return fmt.Errorf("cipher v%d: %w", version, err)
	}
	v.ciphers[version] = c
	return nil
}

// Seal encrypts with the latest key version.
func (v *Vault) Seal(plaintext string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.ciphers[v.currentVer]
	if !ok {
		return "", ErrKeyNotLoaded
	}
	return c.Seal(plaintext)
}

// Open decrypts, picking the key version from the ciphertext prefix.
func (v *Vault) Open(ciphertext string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	version := ParseVersion(ciphertext)
	if version == 0 {
		return "", ErrInvalidCiphertext
	}
	c, ok := v.ciphers[version]
	if !ok {
		return "", fmt.Errorf("key version %d not available", version)
	}
	return c.Open(ciphertext)
}

// GenerateKey returns a fresh random base64 AES-256 key for operator setup.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
