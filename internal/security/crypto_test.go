package security

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var testKey = []byte("test-master-key-32-bytes-long!!!")

func TestDeriveKey(t *testing.T) {
	salt := []byte("1234567890123456")

	key := DeriveKey(testKey, salt)
	if len(key) != KeySizeAES {
		t.Errorf("key size: got %d, want %d", len(key), KeySizeAES)
	}
	if !bytes.Equal(key, DeriveKey(testKey, salt)) {
		t.Error("same inputs should produce same key")
	}
	if bytes.Equal(key, DeriveKey([]byte("different"), salt)) {
		t.Error("different master key should produce different key")
	}
	if bytes.Equal(key, DeriveKey(testKey, []byte("6543210987654321"))) {
		t.Error("different salt should produce different key")
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"password", []byte("clickhouse-password")},
		{"binary", []byte{0x00, 0xff, 0x10, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Seal(tt.plaintext, testKey)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}
			got, err := Open(sealed, testKey)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("got %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestSeal_UniqueEnvelopes(t *testing.T) {
	a, err := Encrypt([]byte("secret"), testKey)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt([]byte("secret"), testKey)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.Salt, b.Salt) || bytes.Equal(a.Nonce, b.Nonce) {
		t.Error("salt and nonce should be random per envelope")
	}
}

func TestDecrypt_Failures(t *testing.T) {
	env, err := Encrypt([]byte("secret"), testKey)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		env  func() *Envelope
		key  []byte
	}{
		{"wrong key", func() *Envelope { return env }, []byte("wrong-key")},
		{"tampered ciphertext", func() *Envelope {
			c := *env
			c.Ciphertext = append([]byte(nil), env.Ciphertext...)
			c.Ciphertext[0] ^= 0xff
			return &c
		}, testKey},
		{"tampered nonce", func() *Envelope {
			c := *env
			c.Nonce = append([]byte(nil), env.Nonce...)
			c.Nonce[0] ^= 0xff
			return &c
		}, testKey},
		{"short salt", func() *Envelope { c := *env; c.Salt = []byte("short"); return &c }, testKey},
		{"short nonce", func() *Envelope { c := *env; c.Nonce = []byte("short"); return &c }, testKey},
		{"nil", func() *Envelope { return nil }, testKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(tt.env(), tt.key); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNoKey(t *testing.T) {
	if _, err := Seal([]byte("x"), nil); !errors.Is(err, ErrNoKey) {
		t.Errorf("Seal without key: got %v, want ErrNoKey", err)
	}
	sealed, err := Seal([]byte("x"), testKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(sealed, nil); !errors.Is(err, ErrNoKey) {
		t.Errorf("Open without key: got %v, want ErrNoKey", err)
	}
}

func TestReadWriteFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("alerts: []\n")

	path, err := WriteFile(filepath.Join(dir, "alerts.yaml"), content, testKey)
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if !IsSealedFile(path) {
		t.Errorf("written path %q lacks %s suffix", path, SealedFileSuffix)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions: got %o, want 600", info.Mode().Perm())
	}

	got, err := ReadFile(path, testKey)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("got %q, want %q", got, content)
	}

	if _, err := ReadFile(path, []byte("wrong")); err == nil {
		t.Error("expected error with wrong key")
	}
}

func TestReadFile_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.yaml")
	if err := os.WriteFile(path, []byte("plain"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path, nil)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "plain" {
		t.Errorf("got %q, want %q", got, "plain")
	}
}
