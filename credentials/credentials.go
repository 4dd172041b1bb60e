// Package credentials stores secrets in an encrypted file, keyed by a
// master password. The envelope is scrypt-derived AES-256-GCM with a fresh
// salt and nonce per write.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"
)

const (
	saltLen  = 32
	nonceLen = 12
	keyLen   = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// StoredCredential is one entry in the credential file. Passwords are kept
// encrypted even inside the already-encrypted file.
type StoredCredential struct {
	Service           string `json:"service"`
	Account           string `json:"account"`
	EncryptedPassword string `json:"encryptedPassword"`
	CreatedAt         int64  `json:"createdAt"`
}

// Manager reads and writes the encrypted credential file. All operations are
// serialized; the file is rewritten whole on every mutation.
type Manager struct {
	path           string
	masterPassword string
	mu             sync.Mutex
}

// NewManager creates a manager over the credential file at path.
func NewManager(path, masterPassword string) *Manager {
	return &Manager{path: path, masterPassword: masterPassword}
}

// Store saves a password for the service/account pair, replacing any
// existing entry.
func (m *Manager) Store(service, account, password string) error {
	if strings.TrimSpace(service) == "" || strings.TrimSpace(account) == "" {
		return errors.New("service and account must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	creds, err := m.load()
	if err != nil {
		return err
	}
	encrypted, err := m.encryptString(password)
	if err != nil {
		return err
	}

	kept := creds[:0]
	for _, c := range creds {
		if c.Service != service || c.Account != account {
			kept = append(kept, c)
		}
	}
	kept = append(kept, StoredCredential{
		Service:           service,
		Account:           account,
		EncryptedPassword: encrypted,
		CreatedAt:         time.Now().UnixMilli(),
	})

	return m.save(kept)
}

// Get returns the decrypted password, or ok=false when no entry exists.
func (m *Manager) Get(service, account string) (string, bool, error) {
	if strings.TrimSpace(service) == "" || strings.TrimSpace(account) == "" {
		return "", false, errors.New("service and account must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	creds, err := m.load()
	if err != nil {
		return "", false, err
	}
	for _, c := range creds {
		if c.Service == service && c.Account == account {
			plain, err := m.decryptString(c.EncryptedPassword)
			if err != nil {
				return "", false, err
			}
			return plain, true, nil
		}
	}
	return "", false, nil
}

// Delete removes one entry. It reports whether anything was removed.
func (m *Manager) Delete(service, account string) (bool, error) {
	if strings.TrimSpace(service) == "" || strings.TrimSpace(account) == "" {
		return false, errors.New("service and account must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	creds, err := m.load()
	if err != nil {
		return false, err
	}
	kept := creds[:0]
	for _, c := range creds {
		if c.Service != service || c.Account != account {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(creds) {
		return false, nil
	}
	return true, m.save(kept)
}

// Clear removes every entry for a service and returns how many were removed.
func (m *Manager) Clear(service string) (int, error) {
	if strings.TrimSpace(service) == "" {
		return 0, errors.New("service must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	creds, err := m.load()
	if err != nil {
		return 0, err
	}
	kept := creds[:0]
	for _, c := range creds {
		if c.Service != service {
			kept = append(kept, c)
		}
	}
	removed := len(creds) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, m.save(kept)
}

func (m *Manager) load() ([]StoredCredential, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	plain, err := m.decrypt(data)
	if err != nil {
		return nil, err
	}
	var creds []StoredCredential
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	return creds, nil
}

func (m *Manager) save(creds []StoredCredential) error {
	plain, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	encrypted, err := m.encrypt(plain)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.path, encrypted, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

func (m *Manager) encryptString(plaintext string) (string, error) {
	out, err := m.encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (m *Manager) decryptString(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid encrypted payload: %w", err)
	}
	out, err := m.decrypt(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// encrypt produces salt || nonce || ciphertext.
func (m *Manager) encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	gcm, err := m.cipherFor(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, saltLen+nonceLen+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

func (m *Manager) decrypt(combined []byte) ([]byte, error) {
	if len(combined) < saltLen+nonceLen {
		return nil, errors.New("encrypted payload too short")
	}
	salt := combined[:saltLen]
	nonce := combined[saltLen : saltLen+nonceLen]
	ciphertext := combined[saltLen+nonceLen:]

	gcm, err := m.cipherFor(salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}
	return plain, nil
}

func (m *Manager) cipherFor(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(m.masterPassword), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
