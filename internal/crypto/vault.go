package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/aformulationoftruth/questionnaire/internal/domain"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	nonceSize  = 12 // 96-bit GCM nonce
	tagSize    = 16
	keySize    = 32 // AES-256
	kdfRounds  = 100_000
	maxPlainKB = 64
)

// Vault seals individual answer values with AES-256-GCM. Each record gets a
// fresh salt and nonce, and the per-record key is derived from the master
// secret via PBKDF2, so two encryptions of the same plaintext never match.
type Vault struct {
	master []byte
}

func NewVault(master []byte) *Vault {
	return &Vault{master: master}
}

func (v *Vault) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(v.master, salt, kdfRounds, keySize, sha256.New)
}

// Encrypt seals plaintext and returns the base64-encoded record.
func (v *Vault) Encrypt(plaintext string) (domain.EncryptedValue, error) {
	if len(plaintext) > maxPlainKB*1024 {
		return domain.EncryptedValue{}, fmt.Errorf("plaintext too large: %d bytes", len(plaintext))
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return domain.EncryptedValue{}, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return domain.EncryptedValue{}, fmt.Errorf("generate iv: %w", err)
	}

	gcm, err := newGCM(v.deriveKey(salt))
	if err != nil {
		return domain.EncryptedValue{}, err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return domain.EncryptedValue{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Tag:        base64.StdEncoding.EncodeToString(tag),
		Salt:       base64.StdEncoding.EncodeToString(salt),
	}, nil
}

// Decrypt re-derives the record key and opens the sealed value. Any
// tampering or truncation fails the authentication check and returns an
// error; garbage is never returned.
func (v *Vault) Decrypt(value domain.EncryptedValue) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(value.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(value.IV)
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(value.Tag)
	if err != nil {
		return "", fmt.Errorf("decode tag: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(value.Salt)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	if len(nonce) != nonceSize {
		return "", fmt.Errorf("iv must be %d bytes, got %d", nonceSize, len(nonce))
	}
	if len(tag) != tagSize {
		return "", fmt.Errorf("tag must be %d bytes, got %d", tagSize, len(tag))
	}

	gcm, err := newGCM(v.deriveKey(salt))
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm mode: %w", err)
	}
	return gcm, nil
}
