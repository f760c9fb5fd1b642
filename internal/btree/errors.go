package btree

import (
	"errors"
	"fmt"

	"github.com/tuannm99/sealdb/internal/dberr"
)

var (
	ErrCorruptNode    = fmt.Errorf("%w: btree node", dberr.ErrIntegrity)
	ErrEntryNotFound  = errors.New("btree: entry not found")
	ErrDuplicateEntry = errors.New("btree: entry already present")
)
