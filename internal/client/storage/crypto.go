package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving the store key.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	keyLen     = 32
	saltLen    = 16
)

// fileMagic prefixes an encrypted store: magic || salt || nonce || ciphertext.
var fileMagic = []byte("HSE1")

// NewAEAD derives an AES-GCM cipher from a passphrase and salt with Argon2id.
func NewAEAD(passphrase, salt []byte) (cipher.AEAD, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	if len(salt) < saltLen {
		return nil, fmt.Errorf("salt must be at least %d bytes", saltLen)
	}
	key := argon2.IDKey(passphrase, salt, kdfTime, kdfMemory, kdfThreads, keyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return aead, nil
}

// Sealer encrypts the store file with a key derived from a passphrase.
// The salt is generated on first Seal, or taken from the file on Open, and
// kept for later writes.
type Sealer struct {
	passphrase []byte
	salt       []byte
	aead       cipher.AEAD
}

// NewSealer returns a Sealer for passphrase.
func NewSealer(passphrase []byte) (*Sealer, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	return &Sealer{passphrase: append([]byte(nil), passphrase...)}, nil
}

func (s *Sealer) use(salt []byte) error {
	if s.aead != nil && bytes.Equal(s.salt, salt) {
		return nil
	}
	aead, err := NewAEAD(s.passphrase, salt)
	if err != nil {
		return err
	}
	s.salt, s.aead = append([]byte(nil), salt...), aead
	return nil
}

// Seal encrypts plain into the file format.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	if s.aead == nil {
		salt := make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		if err := s.use(salt); err != nil {
			return nil, err
		}
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, len(fileMagic)+saltLen+len(nonce)+len(plain)+s.aead.Overhead())
	out = append(out, fileMagic...)
	out = append(out, s.salt...)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plain, nil), nil
}

// Open reverses Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, fileMagic) {
		return nil, errors.New("store is not encrypted")
	}
	data = data[len(fileMagic):]
	if len(data) < saltLen {
		return nil, errors.New("ciphertext too short")
	}
	if err := s.use(data[:saltLen]); err != nil {
		return nil, err
	}
	data = data[saltLen:]
	n := s.aead.NonceSize()
	if len(data) < n {
		return nil, errors.New("ciphertext too short")
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt store: %w", err)
	}
	return plain, nil
}
