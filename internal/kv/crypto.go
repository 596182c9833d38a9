package kv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// secretSize is the length of the install secret held in the keystore.
	secretSize = 32

	// hkdfInfo separates the store key from any other key derived from
	// the same install secret.
	hkdfInfo = "fieldsync secure store v1"
)

// newSecret returns a fresh random install secret.
func newSecret() ([]byte, error) {
	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}

	return secret, nil
}

// sealer encrypts store values with AES-256-GCM. Every value is stored as
// [12-byte nonce][ciphertext+tag], and the record key is bound as
// additional data so a value cannot be replayed under another key.
type sealer struct {
	gcm cipher.AEAD
}

// newSealer derives the AES key from the install secret with HKDF-SHA256.
func newSealer(secret []byte) (*sealer, error) {
	if len(secret) < secretSize {
		return nil, fmt.Errorf("secret too short: %d bytes", len(secret))
	}

	key := make([]byte, secretSize)
	defer zero(key)

	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &sealer{gcm: gcm}, nil
}

func (s *sealer) seal(recordKey string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+s.gcm.Overhead())
	out = append(out, nonce...)

	return s.gcm.Seal(out, nonce, plaintext, []byte(recordKey)), nil
}

func (s *sealer) open(recordKey string, data []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize+s.gcm.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(data))
	}

	plaintext, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], []byte(recordKey))
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	return plaintext, nil
}

// zero overwrites key material.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
