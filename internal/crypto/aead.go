package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	NonceSize = chacha20poly1305.NonceSizeX
	TagSize   = chacha20poly1305.Overhead
	// PageOverhead is what every encrypted page spends on nonce and tag.
	PageOverhead = NonceSize + TagSize
)

var (
	ErrInvalidAEADInput     = errors.New("crypto: invalid aead input")
	ErrAuthenticationFailed = errors.New("crypto: authentication failed")
)

func sealXChaCha20Poly1305(key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidAEADInput, chacha20poly1305.KeySize)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidAEADInput, NonceSize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("construct xchacha20-poly1305: %w", err)
	}
	// dst = nonce so the result is nonce|ciphertext|tag in one allocation
	dst := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	copy(dst, nonce)
	return aead.Seal(dst, nonce, plaintext, aad), nil
}

func openXChaCha20Poly1305(key, sealed, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidAEADInput, chacha20poly1305.KeySize)
	}
	if len(sealed) < PageOverhead {
		return nil, fmt.Errorf("%w: sealed input shorter than nonce+tag", ErrInvalidAEADInput)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("construct xchacha20-poly1305: %w", err)
	}
	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

func randomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// NewSalt returns a fresh random salt for a new database header.
func NewSalt() ([]byte, error) {
	return randomBytes(SaltLen)
}
