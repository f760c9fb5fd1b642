package crypto

import (
	"errors"
	"fmt"

	"github.com/tuannm99/sealdb/internal/alias/bx"
	"github.com/tuannm99/sealdb/internal/dberr"
)

const keyCheckPlaintext = "sealdb key check"

// KeyCheckSize is the length of the sealed verifier stored in the header page.
const KeyCheckSize = PageOverhead + len(keyCheckPlaintext)

// PageCodec encrypts logical pages into physical pages:
//
//	+-----------+----------------------------+---------+
//	| nonce(24) | ciphertext(pageSize - 40)  | tag(16) |
//	+-----------+----------------------------+---------+
//
// The associated data is dbID|pageID, so a page copied to another slot or into
// another database fails to open.
type PageCodec struct {
	kr       *Keyring
	pageSize int
}

func NewPageCodec(kr *Keyring, pageSize int) *PageCodec {
	return &PageCodec{kr: kr, pageSize: pageSize}
}

func (c *PageCodec) PageSize() int { return c.pageSize }

// UsableSize is the plaintext size of a page.
func (c *PageCodec) UsableSize() int { return c.pageSize - PageOverhead }

func (c *PageCodec) aad(pageID uint32) []byte {
	aad := make([]byte, 16+4)
	copy(aad, c.kr.dbID[:])
	bx.PutU32(aad[16:], pageID)
	return aad
}

func (c *PageCodec) Encode(pageID uint32, plaintext []byte) ([]byte, error) {
	if len(plaintext) != c.UsableSize() {
		return nil, fmt.Errorf("%w: plaintext is %d bytes, want %d", ErrInvalidAEADInput, len(plaintext), c.UsableSize())
	}
	nonce, err := randomBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	return sealXChaCha20Poly1305(c.kr.page.Bytes(), nonce, plaintext, c.aad(pageID))
}

func (c *PageCodec) Decode(pageID uint32, sealed []byte) ([]byte, error) {
	if len(sealed) != c.pageSize {
		return nil, fmt.Errorf("%w: page %d is %d bytes, want %d", dberr.ErrIntegrity, pageID, len(sealed), c.pageSize)
	}
	plain, err := openXChaCha20Poly1305(c.kr.page.Bytes(), sealed, c.aad(pageID))
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			return nil, fmt.Errorf("%w: page %d", dberr.ErrIntegrity, pageID)
		}
		return nil, err
	}
	return plain, nil
}

// SealKeyCheck produces the header verifier for the current key.
func (c *PageCodec) SealKeyCheck() ([]byte, error) {
	nonce, err := randomBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	return sealXChaCha20Poly1305(c.kr.check.Bytes(), nonce, []byte(keyCheckPlaintext), c.kr.dbID[:])
}

// VerifyKeyCheck fails with dberr.ErrIntegrity when the password is wrong or the
// header was altered.
func (c *PageCodec) VerifyKeyCheck(sealed []byte) error {
	plain, err := openXChaCha20Poly1305(c.kr.check.Bytes(), sealed, c.kr.dbID[:])
	if err != nil || string(plain) != keyCheckPlaintext {
		return fmt.Errorf("%w: wrong password or modified header", dberr.ErrIntegrity)
	}
	return nil
}
