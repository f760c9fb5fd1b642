package crypto

import (
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

const (
	pageKeyInfo  = "sealdb-page-key-v1"
	walKeyInfo   = "sealdb-wal-key-v1"
	checkKeyInfo = "sealdb-key-check-v1"
)

// Keyring holds the subkeys of one open database in locked memory.
// The argon2 master key never outlives NewKeyring.
type Keyring struct {
	page  *memguard.LockedBuffer
	wal   *memguard.LockedBuffer
	check *memguard.LockedBuffer
	dbID  uuid.UUID
}

func NewKeyring(password, salt []byte, params Argon2Params, dbID uuid.UUID) (*Keyring, error) {
	master, err := DeriveMasterKey(password, salt, params)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(master)

	kr := &Keyring{dbID: dbID}
	for _, sub := range []struct {
		info string
		dst  **memguard.LockedBuffer
	}{
		{pageKeyInfo, &kr.page},
		{walKeyInfo, &kr.wal},
		{checkKeyInfo, &kr.check},
	} {
		raw, err := deriveHKDFSHA256(master, salt, sub.info, KeyLen)
		if err != nil {
			kr.Destroy()
			return nil, fmt.Errorf("derive subkey: %w", err)
		}
		*sub.dst = memguard.NewBufferFromBytes(raw)
	}
	return kr, nil
}

// WALKey keys the blake3 frame checksums of the write-ahead log.
func (kr *Keyring) WALKey() []byte { return kr.wal.Bytes() }

func (kr *Keyring) DatabaseID() uuid.UUID { return kr.dbID }

func (kr *Keyring) Destroy() {
	if kr == nil {
		return
	}
	for _, b := range []*memguard.LockedBuffer{kr.page, kr.wal, kr.check} {
		if b != nil {
			b.Destroy()
		}
	}
}
