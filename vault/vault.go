// Package vault persists the account session encrypted at rest.
//
// Files are sealed with AES-256-GCM under a key derived from a passphrase
// with PBKDF2-SHA256 and a per-directory random salt. Each file starts with
// a two-byte format version followed by the nonce and the ciphertext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/opd-ai/shadowcall/account"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the key derivation work factor.
	PBKDF2Iterations = 100000
	// EncryptionVersion is the current file format version.
	EncryptionVersion = 1
	// SaltSize is the salt length in bytes.
	SaltSize = 32

	saltFileName    = ".salt"
	sessionFileName = "session.enc"
)

var (
	// ErrNoSession is returned by LoadSession when nothing is stored.
	ErrNoSession = errors.New("no saved session")

	// ErrEmptyPassphrase is returned by Open for an empty passphrase.
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")
)

// Vault is an encrypted file store rooted at one directory. It implements
// account.SessionStore.
type Vault struct {
	mu            sync.Mutex
	encryptionKey [32]byte
	dataDir       string
	saltFile      string
}

var _ account.SessionStore = (*Vault)(nil)

// Open derives the key for dataDir, creating the directory and its salt on
// first use. The passphrase slice is wiped.
func Open(dataDir string, passphrase []byte) (*Vault, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	v := &Vault{
		dataDir:  dataDir,
		saltFile: filepath.Join(dataDir, saltFileName),
	}
	salt, err := v.loadOrGenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	derivedKey := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, 32, sha256.New)
	copy(v.encryptionKey[:], derivedKey)
	wipe(derivedKey)
	wipe(passphrase)

	logrus.WithFields(logrus.Fields{
		"function": "vault.Open",
		"dir":      dataDir,
	}).Debug("Opened session vault")
	return v, nil
}

func (v *Vault) loadOrGenerateSalt() ([]byte, error) {
	data, err := os.ReadFile(v.saltFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read salt file: %w", err)
		}
		salt := make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := os.WriteFile(v.saltFile, salt, 0o600); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}
		return salt, nil
	}
	if len(data) != SaltSize {
		return nil, fmt.Errorf("invalid salt file size: got %d, want %d", len(data), SaltSize)
	}
	return data, nil
}

// SaveSession implements account.SessionStore.
func (v *Vault) SaveSession(s account.Session) error {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	defer wipe(plaintext)
	return v.writeEncrypted(sessionFileName, plaintext)
}

// LoadSession implements account.SessionStore.
func (v *Vault) LoadSession() (account.Session, error) {
	plaintext, err := v.readEncrypted(sessionFileName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return account.Session{}, ErrNoSession
		}
		return account.Session{}, err
	}
	defer wipe(plaintext)

	var s account.Session
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return account.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

// ClearSession implements account.SessionStore. Clearing an empty vault is
// not an error.
func (v *Vault) ClearSession() error {
	return v.deleteEncrypted(sessionFileName)
}

// Close wipes the key from memory.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	wipe(v.encryptionKey[:])
	return nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.encryptionKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (v *Vault) writeEncrypted(filename string, plaintext []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	gcm, err := v.gcm()
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	output := make([]byte, 2+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(output[0:2], EncryptionVersion)
	copy(output[2:2+len(nonce)], nonce)
	copy(output[2+len(nonce):], ciphertext)

	tmpFile := filepath.Join(v.dataDir, filename+".tmp")
	finalFile := filepath.Join(v.dataDir, filename)
	if err := os.WriteFile(tmpFile, output, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpFile, finalFile); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func (v *Vault) readEncrypted(filename string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(v.dataDir, filename))
	if err != nil {
		return nil, err
	}
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < 2+nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("file too short: %d bytes", len(data))
	}
	if version := binary.BigEndian.Uint16(data[0:2]); version != EncryptionVersion {
		return nil, fmt.Errorf("unsupported encryption version: %d (expected %d)", version, EncryptionVersion)
	}

	nonce := data[2 : 2+nonceSize]
	plaintext, err := gcm.Open(nil, nonce, data[2+nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong passphrase or corrupted data): %w", err)
	}
	return plaintext, nil
}

func (v *Vault) deleteEncrypted(filename string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	path := filepath.Join(v.dataDir, filename)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat file: %w", err)
	}
	// Overwrite before unlinking.
	_ = os.WriteFile(path, make([]byte, info.Size()), 0o600)
	return os.Remove(path)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
