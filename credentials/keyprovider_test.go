package credentials

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestEnvKeyProvider_GetKey(t *testing.T) {
	envVar := "TEST_BOXBRIDGE_ENCRYPTION_KEY"

	t.Run("valid key", func(t *testing.T) {
		t.Setenv(envVar, testEncryptionKey)

		key, err := NewEnvKeyProvider(envVar).GetKey()
		if err != nil {
			t.Fatalf("GetKey() error = %v", err)
		}
		want, _ := hex.DecodeString(testEncryptionKey)
		if !bytes.Equal(key, want) {
			t.Errorf("GetKey() returned wrong key")
		}
	})

	t.Run("missing env var", func(t *testing.T) {
		t.Setenv(envVar, "")
		if _, err := NewEnvKeyProvider(envVar).GetKey(); err == nil {
			t.Error("GetKey() expected error for missing env var")
		}
	})

	t.Run("invalid hex", func(t *testing.T) {
		t.Setenv(envVar, "not-valid-hex")
		if _, err := NewEnvKeyProvider(envVar).GetKey(); err == nil {
			t.Error("GetKey() expected error for invalid hex")
		}
	})

	t.Run("wrong length", func(t *testing.T) {
		t.Setenv(envVar, "0123456789abcdef")
		if _, err := NewEnvKeyProvider(envVar).GetKey(); err == nil {
			t.Error("GetKey() expected error for wrong key length")
		}
	})
}

func TestPassphraseKeyProvider_GetKey(t *testing.T) {
	salt := []byte("0123456789abcdef")

	a, err := NewPassphraseKeyProvider("correct horse", salt).GetKey()
	if err != nil {
		t.Fatalf("GetKey() error = %v", err)
	}
	if len(a) != keyLength {
		t.Fatalf("GetKey() returned %d bytes, want %d", len(a), keyLength)
	}

	b, _ := NewPassphraseKeyProvider("correct horse", salt).GetKey()
	if !bytes.Equal(a, b) {
		t.Error("same passphrase and salt should derive the same key")
	}

	c, _ := NewPassphraseKeyProvider("battery staple", salt).GetKey()
	if bytes.Equal(a, c) {
		t.Error("different passphrases should derive different keys")
	}

	if _, err := NewPassphraseKeyProvider("", salt).GetKey(); err == nil {
		t.Error("GetKey() expected error for empty passphrase")
	}
	if _, err := NewPassphraseKeyProvider("x", nil).GetKey(); err == nil {
		t.Error("GetKey() expected error for empty salt")
	}
}

func TestLoadOrCreateSalt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	first, err := LoadOrCreateSalt(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateSalt() error = %v", err)
	}
	if len(first) != saltLength {
		t.Fatalf("salt length = %d, want %d", len(first), saltLength)
	}

	second, err := LoadOrCreateSalt(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateSalt() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("salt should be stable once written")
	}

	if err := os.WriteFile(filepath.Join(dir, saltFile), []byte("zz"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateSalt(dir); err == nil {
		t.Error("LoadOrCreateSalt() expected error for corrupt salt")
	}
}

func TestKeyringKeyProvider(t *testing.T) {
	keyring.MockInit()

	p := NewKeyringKeyProvider()
	first, err := p.GetKey()
	if err != nil {
		t.Fatalf("GetKey() error = %v", err)
	}
	if len(first) != keyLength {
		t.Fatalf("GetKey() returned %d bytes, want %d", len(first), keyLength)
	}

	second, err := p.GetKey()
	if err != nil {
		t.Fatalf("GetKey() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("keyring key should be reused")
	}
	if p.Description() == "" {
		t.Error("Description() should not be empty")
	}
}

func TestGetDefaultKeyProvider(t *testing.T) {
	dir := t.TempDir()

	t.Run("env key wins", func(t *testing.T) {
		t.Setenv(EnvEncryptionKey, testEncryptionKey)
		t.Setenv(EnvPassphrase, "ignored")

		p, err := GetDefaultKeyProvider(dir)
		if err != nil {
			t.Fatalf("GetDefaultKeyProvider() error = %v", err)
		}
		if _, ok := p.(*EnvKeyProvider); !ok {
			t.Errorf("provider = %T, want *EnvKeyProvider", p)
		}
	})

	t.Run("passphrase", func(t *testing.T) {
		t.Setenv(EnvEncryptionKey, "")
		t.Setenv(EnvPassphrase, "hunter2")

		p, err := GetDefaultKeyProvider(dir)
		if err != nil {
			t.Fatalf("GetDefaultKeyProvider() error = %v", err)
		}
		if _, ok := p.(*PassphraseKeyProvider); !ok {
			t.Errorf("provider = %T, want *PassphraseKeyProvider", p)
		}
		if _, err := os.Stat(filepath.Join(dir, saltFile)); err != nil {
			t.Errorf("salt file not written: %v", err)
		}
	})

	t.Run("keyring", func(t *testing.T) {
		keyring.MockInit()
		t.Setenv(EnvEncryptionKey, "")
		t.Setenv(EnvPassphrase, "")

		p, err := GetDefaultKeyProvider(dir)
		if err != nil {
			t.Fatalf("GetDefaultKeyProvider() error = %v", err)
		}
		if _, ok := p.(*KeyringKeyProvider); !ok {
			t.Errorf("provider = %T, want *KeyringKeyProvider", p)
		}
	})
}
