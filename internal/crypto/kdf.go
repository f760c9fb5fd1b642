package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/tuannm99/sealdb/internal/dberr"
)

const (
	DefaultArgon2MemoryKiB  uint32 = 64 * 1024
	DefaultArgon2Iterations uint32 = 3
	MinArgon2MemoryKiB      uint32 = 8 * 1024
	SaltLen                        = 32
	KeyLen                         = 32
)

var ErrInvalidArgon2Params = errors.New("crypto: invalid argon2 parameters")

// Argon2Params are persisted in the header page so a file can be reopened with the
// parameters it was created with, whatever the current defaults are.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
}

func DefaultArgon2Params() Argon2Params {
	parallelism := runtime.NumCPU()
	if parallelism > 4 {
		parallelism = 4
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return Argon2Params{
		Memory:      DefaultArgon2MemoryKiB,
		Iterations:  DefaultArgon2Iterations,
		Parallelism: uint8(parallelism),
	}
}

func (p Argon2Params) Validate() error {
	switch {
	case p.Memory < MinArgon2MemoryKiB:
		return fmt.Errorf("%w: memory must be >= %d KiB", ErrInvalidArgon2Params, MinArgon2MemoryKiB)
	case p.Iterations == 0:
		return fmt.Errorf("%w: iterations must be > 0", ErrInvalidArgon2Params)
	case p.Parallelism == 0:
		return fmt.Errorf("%w: parallelism must be > 0", ErrInvalidArgon2Params)
	default:
		return nil
	}
}

// DeriveMasterKey runs argon2id over the password. Failures map to dberr.ErrInvalidKey.
func DeriveMasterKey(password, salt []byte, params Argon2Params) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", dberr.ErrInvalidKey, err)
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: password must not be empty", dberr.ErrInvalidKey)
	}
	if len(salt) < SaltLen {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", dberr.ErrInvalidKey, SaltLen)
	}
	return argon2.IDKey(password, salt, params.Iterations, params.Memory, params.Parallelism, KeyLen), nil
}

func deriveHKDFSHA256(ikm, salt []byte, info string, length int) ([]byte, error) {
	if len(ikm) == 0 {
		return nil, fmt.Errorf("%w: hkdf ikm must not be empty", dberr.ErrInvalidKey)
	}
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: derive %s: %w", dberr.ErrInvalidKey, info, err)
	}
	return out, nil
}
