package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keyDerivationInfo scopes HKDF output to endpoint secret encryption.
const keyDerivationInfo = "bizsuite-orchestrator/webhook-endpoint-secrets/v1"

var errUndecryptable = errors.New("endpoint secret does not decrypt under any configured key")

// AESEncryptionService implements ports.EncryptionService with AES-256-GCM.
// Ciphertexts are hex(nonce || sealed). The first key encrypts; every key is
// tried on decrypt so the master secret can be rotated without rewriting
// stored endpoint secrets first.
type AESEncryptionService struct {
	keys [][]byte
	aead []cipher.AEAD
}

// NewAESEncryptionService builds a service from 64-character hex keys.
func NewAESEncryptionService(hexKey string, previous ...string) (*AESEncryptionService, error) {
	keys := make([][]byte, 0, 1+len(previous))
	for i, k := range append([]string{hexKey}, previous...) {
		key, err := hex.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("decoding AES key %d: %w", i, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("AES key %d must be 32 bytes, got %d", i, len(key))
		}
		keys = append(keys, key)
	}
	return newKeyring(keys)
}

// NewEncryptionServiceFromSecret accepts, for the current and any previous
// master secret, either a 64-character hex key or a passphrase from which a
// key is derived with HKDF-SHA256.
func NewEncryptionServiceFromSecret(secret string, previous ...string) (*AESEncryptionService, error) {
	if secret == "" {
		return nil, fmt.Errorf("AES key is not configured")
	}
	keys := make([][]byte, 0, 1+len(previous))
	for _, s := range append([]string{secret}, previous...) {
		if s == "" {
			continue
		}
		key, err := deriveKey(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return newKeyring(keys)
}

func deriveKey(secret string) ([]byte, error) {
	if key, err := hex.DecodeString(secret); err == nil && len(key) == 32 {
		return key, nil
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyDerivationInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving AES key: %w", err)
	}
	return key, nil
}

func newKeyring(keys [][]byte) (*AESEncryptionService, error) {
	s := &AESEncryptionService{keys: keys}
	for _, key := range keys {
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("creating cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("creating GCM: %w", err)
		}
		s.aead = append(s.aead, gcm)
	}
	return s, nil
}

// Encrypt seals plaintext under the current key.
func (s *AESEncryptionService) Encrypt(plaintext string) (string, error) {
	gcm := s.aead[0]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return hex.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

// Decrypt opens a ciphertext produced under any configured key.
func (s *AESEncryptionService) Decrypt(ciphertextHex string) (string, error) {
	raw, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	for _, gcm := range s.aead {
		n := gcm.NonceSize()
		if len(raw) < n+gcm.Overhead() {
			return "", fmt.Errorf("ciphertext too short")
		}
		if plaintext, err := gcm.Open(nil, raw[:n], raw[n:], nil); err == nil {
			return string(plaintext), nil
		}
	}
	return "", errUndecryptable
}
