// Package secrets stores board-management credentials at rest. Passwords are
// write-only at the API: they enter through a patch, land here encrypted, and
// are never round-tripped in a response.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/pbkdf2"

	"github.com/stratacloud/host-controller/internal/logger"
)

// Config holds credential store configuration
type Config struct {
	Path             string `yaml:"path"`
	KeyFile          string `yaml:"key_file"`
	PassphraseEnv    string `yaml:"passphrase_env"`
	PBKDF2Iterations int    `yaml:"pbkdf2_iterations"`
}

// DefaultConfig returns default credential store configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "data/secrets.db",
		KeyFile:          "data/secrets.key",
		PassphraseEnv:    "HOST_CONTROLLER_SECRETS_PASSPHRASE",
		PBKDF2Iterations: 100000,
	}
}

const (
	credentialBucket = "bm-credentials"
	metaBucket       = "meta"
	saltKey          = "pbkdf2-salt"
)

// Store is an encrypted credential store backed by bolt
type Store struct {
	config *Config
	logger logger.Interface
	db     *bbolt.DB
	gcm    cipher.AEAD
}

// New opens the credential store, deriving or loading the encryption key
func New(config *Config, log logger.Interface) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Store{
		config: config,
		logger: log.WithField("component", "secrets"),
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}
	db, err := bbolt.Open(config.Path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open secrets database: %w", err)
	}
	s.db = db

	key, err := s.loadKey()
	if err != nil {
		db.Close()
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	s.gcm = gcm

	s.logger.Info("Credential store initialized")
	return s, nil
}

// loadKey resolves the encryption key: a passphrase from the environment is
// stretched with PBKDF2 over a persisted salt; otherwise a raw key file is
// used, generated on first run.
func (s *Store) loadKey() ([]byte, error) {
	if s.config.PassphraseEnv != "" {
		if passphrase := os.Getenv(s.config.PassphraseEnv); passphrase != "" {
			salt, err := s.loadOrCreateSalt()
			if err != nil {
				return nil, err
			}
			s.logger.Info("Deriving encryption key from passphrase")
			return pbkdf2.Key([]byte(passphrase), salt, s.config.PBKDF2Iterations, 32, sha256.New), nil
		}
	}

	if s.config.KeyFile != "" {
		if data, err := os.ReadFile(s.config.KeyFile); err == nil {
			key, err := base64.StdEncoding.DecodeString(string(data))
			if err != nil {
				return nil, fmt.Errorf("failed to decode key file: %w", err)
			}
			if len(key) != 32 {
				return nil, fmt.Errorf("encryption key must be 32 bytes")
			}
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	if s.config.KeyFile != "" {
		if err := os.MkdirAll(filepath.Dir(s.config.KeyFile), 0700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
		encoded := base64.StdEncoding.EncodeToString(key)
		if err := os.WriteFile(s.config.KeyFile, []byte(encoded), 0600); err != nil {
			return nil, fmt.Errorf("failed to save key file: %w", err)
		}
		s.logger.WithField("key_file", s.config.KeyFile).Warn("Generated new encryption key")
	}
	return key, nil
}

// loadOrCreateSalt fetches the PBKDF2 salt from the meta bucket, creating it
// on first use
func (s *Store) loadOrCreateSalt() ([]byte, error) {
	var salt []byte
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}
		if existing := b.Get([]byte(saltKey)); existing != nil {
			salt = append([]byte(nil), existing...)
			return nil
		}
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return err
		}
		return b.Put([]byte(saltKey), salt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load salt: %w", err)
	}
	return salt, nil
}

// Close closes the credential store
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PutBMPassword stores the board-management password for a host
func (s *Store) PutBMPassword(hostUUID, password string) error {
	sealed, err := s.encrypt([]byte(password))
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(credentialBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(hostUUID), sealed)
	})
}

// DeleteBMPassword removes the stored credential for a host, if any
func (s *Store) DeleteBMPassword(hostUUID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(credentialBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(hostUUID))
	})
}

// HasBMPassword reports whether a credential exists for a host
func (s *Store) HasBMPassword(hostUUID string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(credentialBucket))
		if b == nil {
			return nil
		}
		found = b.Get([]byte(hostUUID)) != nil
		return nil
	})
	return found, err
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}
