// Package encrypt provides the authenticated encryption used for every
// block stored in the untrusted bucket array. Uses AES-128-GCM; the key
// lives in the trusted region and is never exported.
package encrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the size of AES-128 keys in bytes.
	KeySize = 16

	// NonceSize is the size of GCM IVs in bytes.
	NonceSize = 12

	// TagSize is the size of the GCM authentication tag in bytes.
	TagSize = 16

	// SaltSize is the size of salts for key derivation.
	SaltSize = 16

	// Argon2Time is the time parameter for Argon2id.
	Argon2Time = 1

	// Argon2Memory is the memory parameter for Argon2id (64 MB).
	Argon2Memory = 64 * 1024

	// Argon2Threads is the parallelism parameter for Argon2id.
	Argon2Threads = 4
)

var (
	// ErrInvalidKey is returned when the encryption key is invalid.
	ErrInvalidKey = errors.New("invalid encryption key: must be 16 bytes")

	// ErrInvalidCiphertext is returned when ciphertext is too short to
	// carry an IV and tag.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short")

	// ErrDecryptionFailed is returned when the GCM tag does not verify
	// (wrong key or tampered data).
	ErrDecryptionFailed = errors.New("decryption failed: authentication error")
)

// AESGCM encrypts and decrypts byte strings with AES-128-GCM.
// Ciphertext layout: IV (12 bytes) || ciphertext || tag (16 bytes).
type AESGCM struct {
	key    []byte
	cipher cipher.AEAD
}

// NewAESGCM creates an encryptor with the given 16-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	// Copy key to prevent external modification
	keyCopy := make([]byte, KeySize)
	copy(keyCopy, key)

	return &AESGCM{
		key:    keyCopy,
		cipher: gcm,
	}, nil
}

// Encrypt encrypts plaintext with a fresh random IV.
// Returns: IV (12 bytes) || ciphertext || tag (16 bytes).
func (e *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	// Seal appends ciphertext+tag to the nonce
	return e.cipher.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext produced by Encrypt, verifying the tag.
func (e *AESGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+e.cipher.Overhead() {
		return nil, ErrInvalidCiphertext
	}

	nonce := ciphertext[:NonceSize]
	encrypted := ciphertext[NonceSize:]

	plaintext, err := e.cipher.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// KeyFingerprint returns a SHA-256 fingerprint of the key (first 8
// bytes, hex encoded). Useful for verifying key matches without
// exposing the key.
func (e *AESGCM) KeyFingerprint() string {
	hash := sha256.Sum256(e.key)
	return fmt.Sprintf("%x", hash[:8])
}

// GenerateKey generates a cryptographically secure random 128-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a 128-bit key from a password and salt using
// Argon2id. Suitable for user-provided passwords.
func DeriveKey(password string, salt []byte) []byte {
	return argon2.IDKey(
		[]byte(password),
		salt,
		Argon2Time,
		Argon2Memory,
		Argon2Threads,
		KeySize,
	)
}

// DeriveKeyWithSalt derives a key and returns both the key and a new
// random salt. Use this when creating a new key from a password.
func DeriveKeyWithSalt(password string) (key []byte, salt []byte, err error) {
	salt = make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	return DeriveKey(password, salt), salt, nil
}
