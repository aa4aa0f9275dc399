package searchindex

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RotateTrapdoors implements §4.3.8 rotateTrapdoors(): a no-op unless
// trapdoor rotation is enabled. Expired trapdoors are revoked in place;
// exhausted (usageCount ≥ maxUsage) trapdoors are replaced by a fresh
// trapdoor carrying the same query/tokenBytes (the OPRF output is
// deterministic) and the old one is revoked.
func (idx *Index) RotateTrapdoors() {
	if !idx.cfg.EnableTrapdoorRotation {
		return
	}

	now := nowMillis()
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, entry := range idx.fileIndex {
		replacements := make([]*Trapdoor, 0, len(entry.Trapdoors))
		for _, t := range entry.Trapdoors {
			if t.IsRevoked {
				replacements = append(replacements, t)
				continue
			}
			if now >= t.ExpiresAt {
				t.IsRevoked = true
				replacements = append(replacements, t)
				continue
			}
			if t.UsageCount >= t.MaxUsage {
				t.IsRevoked = true
				replacements = append(replacements, t, &Trapdoor{
					TrapdoorID: uuid.NewString(),
					UserID:     t.UserID,
					Query:      t.Query,
					Epoch:      now,
					ExpiresAt:  now + idx.cfg.EpochDuration.Milliseconds(),
					MaxUsage:   idx.cfg.RotationThreshold,
					TokenBytes: t.TokenBytes,
					CreatedAt:  now,
				})
				continue
			}
			replacements = append(replacements, t)
		}
		entry.Trapdoors = replacements
	}
}

// CleanupExpiredTrapdoors implements §4.3.8 cleanupExpiredTrapdoors():
// fires each epoch tick and deletes revoked trapdoors whose age exceeds
// 2 × epochDuration.
func (idx *Index) CleanupExpiredTrapdoors() {
	maxAge := 2 * idx.cfg.EpochDuration.Milliseconds()
	now := nowMillis()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, entry := range idx.fileIndex {
		kept := entry.Trapdoors[:0]
		for _, t := range entry.Trapdoors {
			if t.IsRevoked && now-t.CreatedAt > maxAge {
				continue
			}
			kept = append(kept, t)
		}
		entry.Trapdoors = kept
	}
}

// Initialize loads any previously persisted file index, then starts the
// auto-save and epoch timers, per §4.3.9 / §4.4. Idempotent: a second
// call clears and re-arms the existing timers.
func (idx *Index) Initialize(ctx context.Context) {
	loaded := idx.persistence.Load(ctx)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.fileIndex = loaded
	idx.stopTimersLocked()
	idx.stopCh = make(chan struct{})
	idx.armAutoSaveLocked()
	idx.armEpochLocked()
}

// Persist serializes the current file index and hands it to the
// configured persister.
func (idx *Index) Persist() error {
	idx.mu.Lock()
	snapshot := make(map[string]*FileIndexEntry, len(idx.fileIndex))
	for k, v := range idx.fileIndex {
		snapshot[k] = v
	}
	idx.mu.Unlock()

	return idx.persistence.Save(context.Background(), snapshot)
}

// Cleanup stops all timers, persists once, and clears in-memory caches,
// per §4.4.
func (idx *Index) Cleanup() error {
	idx.mu.Lock()
	if idx.stopCh != nil {
		close(idx.stopCh)
		idx.stopCh = nil
	}
	idx.stopTimersLocked()
	idx.mu.Unlock()

	err := idx.Persist()

	idx.mu.Lock()
	idx.fileIndex = make(map[string]*FileIndexEntry)
	idx.queryHistory = nil
	idx.mu.Unlock()

	return err
}

func (idx *Index) stopTimersLocked() {
	if idx.autoSaveTimer != nil {
		idx.autoSaveTimer.Stop()
		idx.autoSaveTimer = nil
	}
	if idx.epochTimer != nil {
		idx.epochTimer.Stop()
		idx.epochTimer = nil
	}
}

func (idx *Index) scheduleAutoSave() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.armAutoSaveLocked()
}

func (idx *Index) armAutoSaveLocked() {
	if idx.autoSaveTimer != nil {
		idx.autoSaveTimer.Stop()
	}
	interval := idx.cfg.AutoSaveInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	idx.autoSaveTimer = time.AfterFunc(interval, func() {
		if err := idx.Persist(); err != nil {
			idx.log.WithError(err).Debug("auto-save failed")
		}
	})
}

func (idx *Index) armEpochLocked() {
	if idx.epochTimer != nil {
		idx.epochTimer.Stop()
	}
	interval := idx.cfg.EpochDuration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	idx.epochTimer = time.AfterFunc(interval, func() {
		idx.RotateTrapdoors()
		idx.CleanupExpiredTrapdoors()

		idx.mu.Lock()
		if idx.stopCh != nil {
			idx.armEpochLocked()
		}
		idx.mu.Unlock()
	})
}
