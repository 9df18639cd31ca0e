package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
)

// Sealer protects provider login secrets with AES-256-GCM before they reach
// the database. Sealed values are base64 with the nonce prepended, so a row
// is self-contained and rotatable secret by secret.
type Sealer struct{ aead cipher.AEAD }

// NewSealer requires a 32-byte key; shorter AES variants are not accepted
// for credentials at rest.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, errors.Errorf("sealer key must be 32 bytes (got %d)", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts one secret under a fresh nonce.
func (s *Sealer) Seal(secret string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := s.aead.Seal(nil, nonce, []byte(secret), nil)
	return base64.RawStdEncoding.EncodeToString(append(nonce, ct...)), nil
}

// Open decrypts a sealed secret, failing on any tampering.
func (s *Sealer) Open(sealed string) (string, error) {
	buf, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	ns := s.aead.NonceSize()
	if len(buf) < ns {
		return "", errors.New("sealed value too short")
	}
	secret, err := s.aead.Open(nil, buf[:ns], buf[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}
