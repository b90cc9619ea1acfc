// Package secrets encrypts provider credentials and certificate passphrases
// before they reach the database. The key is derived from the configured
// master key; ciphertexts are self-contained (nonce prepended) and encoded
// base64 for storage in text columns.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
)

// ErrDecryption is returned when a ciphertext cannot be authenticated,
// usually because the master key changed or the value was corrupted.
var ErrDecryption = shared.NewDomainError("SECRET_DECRYPTION_FAILED", "Stored secret could not be decrypted")

const (
	keyLen     = 32 // AES-256
	iterations = 480_000
)

// Encryptor provides authenticated encryption for stored credentials.
type Encryptor struct {
	key []byte
}

// NewEncryptor derives the storage key from the master key and salt.
func NewEncryptor(masterKey, salt string) (*Encryptor, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("secrets: master key cannot be empty")
	}
	key := pbkdf2.Key([]byte(masterKey), []byte(salt), iterations, keyLen, sha256.New)
	return &Encryptor{key: key}, nil
}

// Encrypt seals plaintext and returns a base64 ciphertext. Empty input
// round-trips to empty so optional credential columns stay empty.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("secrets: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a base64 ciphertext produced by Encrypt.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryption
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("secrets: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrDecryption
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}

// EncryptBytes seals binary data such as a PKCS#12 bundle.
func (e *Encryptor) EncryptBytes(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	return e.Encrypt(string(data))
}

// DecryptBytes opens a ciphertext produced by EncryptBytes.
func (e *Encryptor) DecryptBytes(ciphertext string) ([]byte, error) {
	if ciphertext == "" {
		return nil, nil
	}
	plain, err := e.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	return []byte(plain), nil
}
