package searchindex

import (
	"sync"
	"time"

	"github.com/cloud10922/zkim/internal/blobstore"
	"github.com/cloud10922/zkim/internal/config"
	"github.com/cloud10922/zkim/internal/envelope"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Index is the Search Index Core (C3) for a single user. It exclusively
// owns the file-index map, the trapdoor set embedded within it, and the
// query history used for rate limiting.
type Index struct {
	mu sync.Mutex

	userID   string
	objectID string
	cfg      config.SearchConfig
	oprf     *oprf

	fileIndex    map[string]*FileIndexEntry
	queryHistory []QueryHistoryEntry

	// rateLimiter, when set, replaces the default per-process
	// queryHistory count with a shared budget (e.g. Redis-backed) that
	// holds across every replica serving this user's index.
	rateLimiter RateLimiter

	persistence *persister

	autoSaveTimer *time.Timer
	epochTimer    *time.Timer
	stopCh        chan struct{}

	log *logrus.Entry
}

// NewIndex builds an Index for userID. oprfSecretKey is generated once
// per service instance at Initialize and never shared.
func NewIndex(userID, objectID string, cfg config.SearchConfig, oprfSecretKey []byte, persistence *persister, log *logrus.Entry) *Index {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Index{
		userID:       userID,
		objectID:     objectID,
		cfg:          cfg,
		oprf:         newOPRF(oprfSecretKey, cfg.EnableOPRF),
		fileIndex:    make(map[string]*FileIndexEntry),
		queryHistory: make([]QueryHistoryEntry, 0),
		persistence:  persistence,
		log:          log.WithField("component", "searchindex").WithField("userId", userID),
	}
}

// NewPersistedIndex builds an Index wired to the §4.3.9 persistence
// strategy: a ZKIM-backed file index (via engine) with an optional local
// KV fallback (localKV), keyed per-user under objectID. This is the
// constructor external callers (the service shell) use, since persister
// itself is a searchindex-internal implementation detail.
func NewPersistedIndex(userID, objectID string, cfg config.SearchConfig, oprfSecretKey []byte, engine *envelope.Engine, localKV blobstore.Store, platformKey, userKey []byte, log *logrus.Entry) *Index {
	p := newPersister(engine, localKV, userID, objectID, platformKey, userKey, log)
	return NewIndex(userID, objectID, cfg, oprfSecretKey, p, log)
}

// SetRateLimiter installs a distributed RateLimiter in place of the
// default per-process query-history count. Passing nil restores the
// default.
func (idx *Index) SetRateLimiter(rl RateLimiter) {
	idx.mu.Lock()
	idx.rateLimiter = rl
	idx.mu.Unlock()
}

// IndexFile implements §4.3.3 indexFile: replaces an existing entry for
// the same fileId, or inserts a fresh one. update == index at the data
// level, per the spec's explicit Open Question decision.
func (idx *Index) IndexFile(file *envelope.ZkimFile, objectID string) error {
	return idx.upsert(file, objectID)
}

// UpdateFileIndex implements §4.3.3 updateFileIndex: identical semantics
// to IndexFile; a missing id is not an error, it creates a new entry.
func (idx *Index) UpdateFileIndex(file *envelope.ZkimFile, objectID string) error {
	return idx.upsert(file, objectID)
}

func (idx *Index) upsert(file *envelope.ZkimFile, objectID string) error {
	now := nowMillis()
	tokens := generateSearchTokens(file.Metadata)

	trapdoors := make([]*Trapdoor, 0, len(tokens))
	for _, tok := range tokens {
		tokenBytes, err := idx.oprf.trapdoor(tok)
		if err != nil {
			return err
		}
		trapdoors = append(trapdoors, &Trapdoor{
			TrapdoorID: uuid.NewString(),
			UserID:     idx.userID,
			Query:      tok,
			Epoch:      now,
			ExpiresAt:  now + idx.cfg.EpochDuration.Milliseconds(),
			MaxUsage:   idx.cfg.RotationThreshold,
			TokenBytes: tokenBytes,
			CreatedAt:  now,
		})
	}

	entry := &FileIndexEntry{
		FileID:       file.Header.FileID,
		ObjectID:     objectID,
		UserID:       idx.userID,
		Metadata:     redactedMetadata(file.Metadata),
		Trapdoors:    trapdoors,
		IndexedAt:    now,
		LastAccessed: now,
	}

	idx.mu.Lock()
	idx.fileIndex[file.Header.FileID] = entry
	idx.mu.Unlock()

	idx.scheduleAutoSave()
	return nil
}

// RemoveFileFromIndex implements §4.3.3 removeFileFromIndex: deletes if
// present; an absent id is a no-op.
func (idx *Index) RemoveFileFromIndex(fileID string) {
	idx.mu.Lock()
	delete(idx.fileIndex, fileID)
	idx.mu.Unlock()
	idx.scheduleAutoSave()
}

// redactedMetadata strips the customFields.contentKey entry so the
// file-index entry never carries key material, per §3 FileIndexEntry's
// "redacted copy — no contentKey".
func redactedMetadata(meta envelope.Metadata) envelope.Metadata {
	redacted := meta
	if len(meta.CustomFields) > 0 {
		redacted.CustomFields = make(map[string]interface{}, len(meta.CustomFields))
		for k, v := range meta.CustomFields {
			if k == "contentKey" {
				continue
			}
			redacted.CustomFields[k] = v
		}
	}
	return redacted
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
