// Package security seals connection credentials and definition files with
// AES-256-GCM under a key derived from the master key.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize         = 16
	NonceSize        = 12
	KeySizeAES       = 32
	PBKDF2Iterations = 100000
	// SealedFileSuffix marks a file holding a sealed envelope.
	SealedFileSuffix = ".enc"
)

var ErrNoKey = errors.New("master key not set")

// Envelope is the serialized form of sealed data.
type Envelope struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// DeriveKey derives an AES-256 key from the master key and salt using PBKDF2.
func DeriveKey(masterKey, salt []byte) []byte {
	return pbkdf2.Key(masterKey, salt, PBKDF2Iterations, KeySizeAES, sha256.New)
}

func newGCM(masterKey, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(masterKey, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext into an envelope.
func Encrypt(plaintext, masterKey []byte) (*Envelope, error) {
	if len(masterKey) == 0 {
		return nil, ErrNoKey
	}
	salt, err := randomBytes(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce, err := randomBytes(NonceSize)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	gcm, err := newGCM(masterKey, salt)
	if err != nil {
		return nil, err
	}
	return &Envelope{Salt: salt, Nonce: nonce, Ciphertext: gcm.Seal(nil, nonce, plaintext, nil)}, nil
}

// Decrypt opens an envelope.
func Decrypt(env *Envelope, masterKey []byte) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("envelope is nil")
	}
	if len(masterKey) == 0 {
		return nil, ErrNoKey
	}
	if len(env.Salt) != SaltSize {
		return nil, fmt.Errorf("invalid salt size: got %d, want %d", len(env.Salt), SaltSize)
	}
	if len(env.Nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(env.Nonce), NonceSize)
	}
	gcm, err := newGCM(masterKey, env.Salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// Seal encrypts plaintext and returns the JSON envelope.
func Seal(plaintext, masterKey []byte) ([]byte, error) {
	env, err := Encrypt(plaintext, masterKey)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Open decrypts a JSON envelope produced by Seal.
func Open(sealed, masterKey []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	return Decrypt(&env, masterKey)
}

// IsSealedFile reports whether path carries the sealed file suffix.
func IsSealedFile(path string) bool {
	return strings.HasSuffix(path, SealedFileSuffix)
}

// ReadFile returns the contents of path, opening it first when it is sealed.
func ReadFile(path string, masterKey []byte) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if !IsSealedFile(path) {
		return content, nil
	}
	return Open(content, masterKey)
}

// WriteFile seals plaintext into path, appending the sealed suffix if missing.
// It returns the path written.
func WriteFile(path string, plaintext, masterKey []byte) (string, error) {
	if !IsSealedFile(path) {
		path += SealedFileSuffix
	}
	sealed, err := Seal(plaintext, masterKey)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}
