package txn

import (
	"cmp"
	"context"
	"slices"

	"github.com/tuannm99/sealdb/internal/dberr"
)

type pending struct {
	pageID uint32
	seq    uint64
	sealed []byte
}

// Checkpoint waits for the writer slot and writes every committed image no
// open snapshot still needs into the store.
func (m *Manager) Checkpoint(ctx context.Context) error {
	if err := m.state(); err != nil {
		return err
	}
	select {
	case m.writer <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-m.writer }()
	return m.checkpointLocked()
}

// checkpointLocked requires the writer slot. For each page it writes the
// newest version at or below the oldest open snapshot, syncs the store and
// only then drops those versions from memory. The log is emptied once no
// version is left in memory.
func (m *Manager) checkpointLocked() error {
	m.mu.Lock()
	horizon := m.seq
	for seq := range m.readers {
		horizon = min(horizon, seq)
	}
	var work []pending
	for id, chain := range m.versions {
		for i := len(chain) - 1; i >= 0; i-- {
			if chain[i].seq <= horizon {
				work = append(work, pending{pageID: id, seq: chain[i].seq, sealed: chain[i].sealed})
				break
			}
		}
	}
	m.mu.Unlock()

	if len(work) == 0 {
		return nil
	}
	slices.SortFunc(work, func(a, b pending) int { return cmp.Compare(a.pageID, b.pageID) })

	for _, w := range work {
		if err := m.store.WritePage(w.pageID, w.sealed); err != nil {
			return err
		}
	}
	if err := m.store.Sync(); err != nil {
		return err
	}

	m.mu.Lock()
	for _, w := range work {
		chain := m.versions[w.pageID]
		keep := slices.DeleteFunc(chain, func(v version) bool { return v.seq <= w.seq })
		if len(keep) == 0 {
			delete(m.versions, w.pageID)
		} else {
			m.versions[w.pageID] = keep
		}
		m.diskGen[w.pageID]++
	}
	drained := len(m.versions) == 0
	m.mu.Unlock()

	if drained {
		if err := m.wal.Checkpoint(); err != nil {
			return dberr.IO("wal truncate", err)
		}
	}
	m.log.Debug("checkpoint", "pages", len(work), "horizon", horizon, "wal_truncated", drained)
	return nil
}
