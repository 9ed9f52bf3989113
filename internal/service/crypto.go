package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"askdb/internal/core"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/hkdf"
)

var hkdfInfo = []byte("askdb credential bundle v1")

// EncryptionService seals credential bundles with AES-256-GCM under a key
// derived from the configured secret.
type EncryptionService struct {
	key []byte
}

// NewEncryptionService derives the AES key from secret (at least 32 characters).
func NewEncryptionService(secret string) (*EncryptionService, error) {
	if len(secret) < 32 {
		return nil, errors.New("key must be at least 32 characters")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo), key); err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	return &EncryptionService{key: key}, nil
}

func (s *EncryptionService) EncryptCredentials(creds core.Credentials) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}
	return s.Encrypt(plaintext)
}

func (s *EncryptionService) DecryptCredentials(bundle string) (core.Credentials, error) {
	var creds core.Credentials
	plaintext, err := s.Decrypt(bundle)
	if err != nil {
		return creds, err
	}
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return creds, errors.Wrap(err, "decode credential bundle")
	}
	return creds, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (s *EncryptionService) Encrypt(plaintext []byte) (string, error) {
	aesGCM, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := aesGCM.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *EncryptionService) Decrypt(cryptoText string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(cryptoText)
	if err != nil {
		return nil, errors.Wrap(err, "decode bundle")
	}

	aesGCM, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := aesGCM.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open bundle")
	}
	return plaintext, nil
}

func (s *EncryptionService) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
