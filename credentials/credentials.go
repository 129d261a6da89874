// Package credentials stores the Box and Salesforce access tokens in
// $BOXBRIDGE_CONFIG_DIR/credentials.yaml, encrypted at rest with AES-GCM.
//
// Encryption key sources, in order:
//   - BOXBRIDGE_ENCRYPTION_KEY, a 64-character hex string (32 bytes)
//   - BOXBRIDGE_PASSPHRASE, stretched with Argon2id and a per-directory salt
//   - the system keyring (macOS Keychain, Windows Credential Manager,
//     Linux Secret Service)
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credential storage constants.
const (
	DefaultCredentialsDir  = ".boxbridge"
	DefaultCredentialsFile = "credentials.yaml"
)

// Secret names accepted by Set and reported by Status.
const (
	SecretBoxAPIToken           = "box_api_token"
	SecretSalesforceAccessToken = "salesforce_access_token"
)

// Common errors.
var (
	// ErrNoCredentials is returned when no credentials are stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrUnknownSecret is returned for a secret name the store does not hold.
	ErrUnknownSecret = errors.New("unknown secret")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// SecretNames lists the secrets the store holds, in display order.
func SecretNames() []string {
	return []string{SecretBoxAPIToken, SecretSalesforceAccessToken}
}

// Credentials holds the stored tokens. Values are plaintext in memory and
// encrypted in the file.
type Credentials struct {
	BoxAPIToken           string    `yaml:"box_api_token,omitempty"`
	SalesforceAccessToken string    `yaml:"salesforce_access_token,omitempty"`
	LastUpdated           time.Time `yaml:"last_updated"`
}

// Get returns the named secret.
func (c *Credentials) Get(name string) (string, error) {
	switch name {
	case SecretBoxAPIToken:
		return c.BoxAPIToken, nil
	case SecretSalesforceAccessToken:
		return c.SalesforceAccessToken, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSecret, name)
}

// Set replaces the named secret.
func (c *Credentials) Set(name, value string) error {
	switch name {
	case SecretBoxAPIToken:
		c.BoxAPIToken = value
	case SecretSalesforceAccessToken:
		c.SalesforceAccessToken = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSecret, name)
	}
	return nil
}

// SecretStatus describes one stored secret for display.
type SecretStatus struct {
	Name   string `json:"name" yaml:"name"`
	Set    bool   `json:"set" yaml:"set"`
	Masked string `json:"masked,omitempty" yaml:"masked,omitempty"`
}

// Status reports which secrets are set, masked.
func (c *Credentials) Status() []SecretStatus {
	out := make([]SecretStatus, 0, 2)
	for _, name := range SecretNames() {
		v, _ := c.Get(name)
		st := SecretStatus{Name: name, Set: v != ""}
		if st.Set {
			st.Masked = MaskCredential(v)
		}
		out = append(out, st)
	}
	return out
}

// Store manages credential storage operations.
type Store struct {
	credentialsDir string
	encryptionKey  []byte
	keyProvider    KeyProvider
}

// NewStore opens the store in dir with the default key provider for the
// environment.
func NewStore(dir string) (*Store, error) {
	keyProvider, err := GetDefaultKeyProvider(dir)
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(dir, keyProvider)
}

// NewStoreWithKeyProvider opens the store in dir with a custom key provider.
func NewStoreWithKeyProvider(dir string, keyProvider KeyProvider) (*Store, error) {
	key, err := keyProvider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}

	return &Store{
		credentialsDir: dir,
		encryptionKey:  key,
		keyProvider:    keyProvider,
	}, nil
}

// CredentialsDir returns the credentials directory path.
// Uses $BOXBRIDGE_CONFIG_DIR if set, otherwise ~/.boxbridge
func CredentialsDir() (string, error) {
	if dir := os.Getenv("BOXBRIDGE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultCredentialsDir), nil
}

// Path returns the full path to the credentials file.
func (s *Store) Path() string {
	return filepath.Join(s.credentialsDir, DefaultCredentialsFile)
}

// KeySource describes where the encryption key comes from.
func (s *Store) KeySource() string {
	return s.keyProvider.Description()
}

// Save stores credentials to the credentials file.
func (s *Store) Save(creds *Credentials) error {
	if err := os.MkdirAll(s.credentialsDir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	stored := Credentials{LastUpdated: time.Now().UTC()}
	for _, name := range SecretNames() {
		plain, _ := creds.Get(name)
		if plain == "" {
			continue
		}
		encrypted, err := encryptWithKey(plain, s.encryptionKey)
		if err != nil {
			return fmt.Errorf("encrypting %s: %w", name, err)
		}
		_ = stored.Set(name, encrypted)
	}

	data, err := yaml.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	creds.LastUpdated = stored.LastUpdated
	return nil
}

// Load reads credentials from the credentials file.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	for _, name := range SecretNames() {
		cipherText, _ := creds.Get(name)
		if cipherText == "" {
			continue
		}
		plain, err := decryptWithKey(cipherText, s.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", name, err)
		}
		_ = creds.Set(name, plain)
	}

	return &creds, nil
}

// SetSecret stores one secret, keeping the others.
func (s *Store) SetSecret(name, value string) error {
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		creds, err = &Credentials{}, nil
	}
	if err != nil {
		return err
	}
	if err := creds.Set(name, value); err != nil {
		return err
	}
	return s.Save(creds)
}

// Delete removes stored credentials.
func (s *Store) Delete() error {
	if err := os.Remove(s.Path()); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

// Exists checks if credentials file exists.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// encryptWithKey encrypts a string using AES-GCM.
func encryptWithKey(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptWithKey decrypts an AES-GCM encrypted string.
func decryptWithKey(ciphertext string, key []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}

	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}
	return gcm, nil
}

// MaskCredential returns a masked version of the credential for display.
func MaskCredential(cred string) string {
	if len(cred) <= 8 {
		return strings.Repeat("*", len(cred))
	}
	return cred[:4] + strings.Repeat("*", len(cred)-8) + cred[len(cred)-4:]
}
